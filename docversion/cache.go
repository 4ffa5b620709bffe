// Package docversion tracks per-document version counters and the document
// currently being edited.
//
// The agent rejects change notifications and completion requests that carry
// a superseded version, so every change sent to it needs a fresh label. The
// cache only supplies those labels. It does not enforce ordering itself.
package docversion

import (
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Cache maps document paths to their latest version. The zero value is ready
// to use. One Cache is shared by the coordinator and the session for the
// lifetime of a plugin instance.
type Cache struct {
	mu       sync.Mutex
	versions map[string]int32
	active   Document
}

// Document identifies a file inside a vault.
type Document struct {
	BasePath string
	Path     string
}

// IsZero reports whether no document has been set.
func (d Document) IsZero() bool {
	return d.BasePath == "" && d.Path == ""
}

// URI returns the file:// URI the agent knows the document by.
func (d Document) URI() string {
	p := path.Join(filepath.ToSlash(d.BasePath), filepath.ToSlash(d.Path))
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return "file://" + p
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{versions: make(map[string]int32)}
}

// Bump increments the version of path and returns the new value. Unseen
// paths start from zero, so the first bump returns 1.
func (c *Cache) Bump(path string) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.versions == nil {
		c.versions = make(map[string]int32)
	}
	c.versions[path]++
	return c.versions[path]
}

// Current returns the stored version of path, or 0 if it was never bumped.
func (c *Cache) Current(path string) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[path]
}

// SetActiveDocument records the document the user is editing.
func (c *Cache) SetActiveDocument(basePath, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = Document{BasePath: basePath, Path: path}
}

// ActiveDocument returns the document last passed to SetActiveDocument.
func (c *Cache) ActiveDocument() Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
