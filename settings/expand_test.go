package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("GHOSTLINE_TEST_NODE", "/opt/node")

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  /usr/bin/node  ", "/usr/bin/node"},
		{"~", home},
		{"~/bin/node", filepath.Join(home, "bin/node")},
		{"$GHOSTLINE_TEST_NODE/bin/node", "/opt/node/bin/node"},
		{"${GHOSTLINE_TEST_NODE}/bin/node", "/opt/node/bin/node"},
		{"%GHOSTLINE_TEST_NODE%/bin/node", "/opt/node/bin/node"},
		{"%GHOSTLINE_TEST_UNSET%/node", "%GHOSTLINE_TEST_UNSET%/node"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}
}
