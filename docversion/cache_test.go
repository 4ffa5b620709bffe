package docversion

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentOfUnseenPathIsZero(t *testing.T) {
	c := New()
	assert.Equal(t, int32(0), c.Current("note.md"))
	// reading does not create an entry
	assert.Equal(t, int32(1), c.Bump("note.md"))
}

func TestBumpStrictlyIncreases(t *testing.T) {
	c := New()
	prev := c.Current("a.md")
	for i := 0; i < 10; i++ {
		next := c.Bump("a.md")
		assert.Greater(t, next, prev)
		assert.Equal(t, next, c.Current("a.md"))
		prev = next
	}
}

func TestPathsAreIndependent(t *testing.T) {
	c := New()
	c.Bump("a.md")
	c.Bump("a.md")
	c.Bump("b.md")

	assert.Equal(t, int32(2), c.Current("a.md"))
	assert.Equal(t, int32(1), c.Current("b.md"))
	assert.Equal(t, int32(0), c.Current("c.md"))
}

func TestZeroValueCache(t *testing.T) {
	var c Cache
	assert.Equal(t, int32(0), c.Current("x"))
	assert.Equal(t, int32(1), c.Bump("x"))
}

func TestConcurrentBumps(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Bump("shared.md")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(50), c.Current("shared.md"))
}

func TestActiveDocument(t *testing.T) {
	c := New()
	assert.True(t, c.ActiveDocument().IsZero())

	c.SetActiveDocument("/vault", "notes/today.md")
	assert.Equal(t, Document{BasePath: "/vault", Path: "notes/today.md"}, c.ActiveDocument())

	c.SetActiveDocument("/vault", "other.md")
	assert.Equal(t, "other.md", c.ActiveDocument().Path)
}

func TestDocumentURI(t *testing.T) {
	assert.Equal(t, "file:///vault/notes/a.md", Document{BasePath: "/vault", Path: "notes/a.md"}.URI())
	assert.Equal(t, "file:///vault/a.md", Document{BasePath: "/vault/", Path: "a.md"}.URI())
	assert.Equal(t, "file:///a.md", Document{Path: "a.md"}.URI())
}
