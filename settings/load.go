package settings

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/ghostline/errors"
)

// EnvPrefix is the prefix for environment overrides (GHOSTLINE_AGENT_SCRIPT_PATH, ...).
const EnvPrefix = "GHOSTLINE"

// ProjectFileName is looked up in the working directory and its parents.
const ProjectFileName = "ghostline.toml"

var (
	globalMu       sync.Mutex
	globalSettings *Settings
)

// Load reads the layered configuration: defaults < user file < project file <
// environment. The result is cached until Reset.
func Load() (*Settings, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalSettings != nil {
		return globalSettings, nil
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	userPath := DefaultPath()
	if err := mergeConfigFiles(v, userPath, findProjectConfig()); err != nil {
		return nil, err
	}
	if err := applyDeviceOverrides(v, userPath); err != nil {
		return nil, err
	}

	s, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}

	globalSettings = s
	return s, nil
}

// LoadWithViper unmarshals settings from a prepared viper instance.
func LoadWithViper(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal settings")
	}
	return &s, nil
}

// LoadFromFile loads defaults plus one specific file and its device override.
// Environment variables are not consulted.
func LoadFromFile(path string) (*Settings, error) {
	v := viper.New()
	SetDefaults(v)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read settings file %s", path)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to stat settings file %s", path)
	}

	if err := applyDeviceOverrides(v, path); err != nil {
		return nil, err
	}

	return LoadWithViper(v)
}

// Reset clears the cached configuration (useful for testing and reloads)
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalSettings = nil
}

// Dir returns ~/.ghostline, where settings, credentials and chat history live.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ghostline"
	}
	return filepath.Join(home, ".ghostline")
}

// DefaultPath returns the user settings file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// findProjectConfig walks up from the working directory looking for
// ghostline.toml. Returns "" when none exists.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, ProjectFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeConfigFiles merges existing files in precedence order; later paths win.
func mergeConfigFiles(v *viper.Viper, paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}

		tempViper := viper.New()
		tempViper.SetConfigFile(path)
		tempViper.SetConfigType("toml")

		if err := tempViper.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "failed to read settings file %s", path)
		}
		if err := v.MergeConfigMap(tempViper.AllSettings()); err != nil {
			return errors.Wrapf(err, "failed to merge settings file %s", path)
		}
	}
	return nil
}
