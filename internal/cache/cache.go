// Package cache stores rewritten modules on disk, keyed by the content hash
// of the bundle they came from.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"elmbind/internal/project"
)

// schemaVersion changes whenever Entry or the rewrite output format does;
// entries written under another version are treated as misses.
const schemaVersion uint16 = 1

const entriesDirName = "rewrites"

// rewriterTag is mixed into every key so a new rewrite format never serves
// stale entries.
var rewriterTag = project.Sum([]byte("elmbind/bundle-rewrite/v1"))

// Cache is a directory of msgpack-encoded entries. Safe for concurrent use.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

// Entry is one cached rewrite.
type Entry struct {
	Schema  uint16
	Source  project.Digest
	Export  string
	Module  []byte
	Created time.Time
}

// DefaultDir returns $XDG_CACHE_HOME/<app> or ~/.cache/<app>.
func DefaultDir(app string) (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, app), nil
}

// Open creates dir if needed and returns a cache rooted there.
func Open(dir string) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache: empty directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Dir is the cache root.
func (c *Cache) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

// Key derives the cache key of bundle text. Entry.Source must hold
// project.Sum(bundle) for the entry to be served.
func Key(bundle []byte) project.Digest {
	return keyFor(project.Sum(bundle))
}

func keyFor(source project.Digest) project.Digest {
	return project.Combine(source, rewriterTag)
}

func (c *Cache) entriesDir() string {
	return filepath.Join(c.dir, entriesDirName)
}

func (c *Cache) pathFor(key project.Digest) string {
	return filepath.Join(c.entriesDir(), key.String()+".mp")
}

// Put writes e under key. The file is replaced atomically.
func (c *Cache) Put(key project.Digest, e *Entry) error {
	if c == nil || e == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *e
	stored.Schema = schemaVersion
	if stored.Created.IsZero() {
		stored.Created = time.Now().UTC()
	}

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	renamed := false
	defer func() {
		if !renamed {
			_ = os.Remove(f.Name())
		}
	}()

	if err := msgpack.NewEncoder(f).Encode(&stored); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(f.Name(), p); err != nil {
		return err
	}
	renamed = true
	return nil
}

// Get reads the entry for key. Entries from another schema version, or
// whose recorded source does not match key, are misses.
func (c *Cache) Get(key project.Digest) (*Entry, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var e Entry
	if err := msgpack.NewDecoder(f).Decode(&e); err != nil {
		return nil, false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	if e.Schema != schemaVersion || keyFor(e.Source) != key {
		return nil, false, nil
	}
	return &e, true, nil
}

// Len counts stored entries.
func (c *Cache) Len() (int, error) {
	if c == nil {
		return 0, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	matches, err := filepath.Glob(filepath.Join(c.entriesDir(), "*.mp"))
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

// DropAll removes every entry. Only the entries subdirectory is touched;
// anything else under the cache root is left alone.
func (c *Cache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.entriesDir()
	old := entries + ".old-" + time.Now().Format("20060102150405.000000000")
	if err := os.Rename(entries, old); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return os.RemoveAll(old)
}
