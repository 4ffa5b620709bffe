package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	dev := Info{Version: "dev", CommitHash: "abc", BuildTime: "now"}
	assert.Equal(t, "ghostline dev (commit abc, built now)", dev.String())

	tagged := Info{Version: "v1.2.0", CommitHash: "abc", BuildTime: "now"}
	assert.Equal(t, "ghostline v1.2.0 (commit abc, built now)", tagged.String())
}

func TestShort(t *testing.T) {
	assert.Equal(t, "0123456", Info{CommitHash: "0123456789"}.Short())
	assert.Equal(t, "dev", Info{CommitHash: "dev"}.Short())
}

func TestEditorVersion(t *testing.T) {
	assert.Equal(t, "ghostline/"+Version, EditorVersion())
}
