package settings

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var windowsEnvPattern = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)

// ExpandPath resolves ~, $VAR, ${VAR} and %VAR% in a user-supplied path.
// Unknown %VAR% references are left untouched.
func ExpandPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return p
	}

	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}

	p = windowsEnvPattern.ReplaceAllStringFunc(p, func(m string) string {
		name := m[1 : len(m)-1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return m
	})

	return os.ExpandEnv(p)
}
