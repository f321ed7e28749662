package docs

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// MaxFileSize is the largest documentation file that will be parsed.
const MaxFileSize = 1 << 20

// ErrFileTooLarge is returned for files over MaxFileSize.
var ErrFileTooLarge = errors.New("documentation file too large")

// ParseCache memoizes parsed documents by path and modification time. A
// lookup for an unchanged file returns the same *ParsedDocument.
type ParseCache struct {
	mu      sync.RWMutex
	entries map[string]*ParsedDocument
}

// NewParseCache creates an empty cache.
func NewParseCache() *ParseCache {
	return &ParseCache{entries: make(map[string]*ParsedDocument)}
}

// Get returns the parsed document for path, re-reading it only when its
// modification time or size changed since the last call.
func (c *ParseCache) Get(path string) (*ParsedDocument, error) {
	info, err := os.Stat(path)
	if err != nil {
		c.Invalidate(path)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		c.Invalidate(path)
		return nil, fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, path, info.Size())
	}

	c.mu.RLock()
	cached, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && cached.ModTime.Equal(info.ModTime()) && cached.Size == info.Size() {
		return cached, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc := &ParsedDocument{
		Path:     path,
		DocType:  ClassifyDocType(path),
		Sections: SplitIntoSections(path, string(data)),
		ModTime:  info.ModTime(),
		Size:     info.Size(),
	}

	c.mu.Lock()
	c.entries[path] = doc
	c.mu.Unlock()
	return doc, nil
}

// Invalidate drops the entry for path.
func (c *ParseCache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *ParseCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*ParsedDocument)
	c.mu.Unlock()
}

// Len returns the number of cached documents.
func (c *ParseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
