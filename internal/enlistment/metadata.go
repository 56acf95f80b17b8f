package enlistment

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Metadata is a small persistent key-value store backing RepoMetadata.dat:
// one "key=value" line per entry. Values are read eagerly and cached;
// every Set rewrites the whole file atomically (small enough — a handful
// of identity strings — that this is simpler and safer than an
// append-only log, unlike the larger modified-paths journal).
type Metadata struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// OpenMetadata loads path if it exists, or starts empty if it doesn't —
// metadata files are created lazily on first Set.
func OpenMetadata(path string) (*Metadata, error) {
	m := &Metadata{path: path, data: make(map[string]string)}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("enlistment: open metadata %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("enlistment: malformed metadata line %q in %s", line, path)
		}
		m.data[k] = v
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("enlistment: read metadata %s: %w", path, err)
	}
	return m, nil
}

// Get returns the value for key and whether it was present.
func (m *Metadata) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// Set stores key=value and flushes the whole file atomically (write to a
// temp file, fsync, rename — same protocol as objstore's loose object
// writes).
func (m *Metadata) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return m.flushLocked()
}

// Delete removes key, if present, and flushes.
func (m *Metadata) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return m.flushLocked()
}

func (m *Metadata) flushLocked() error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("enlistment: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".RepoMetadata-*.tmp")
	if err != nil {
		return fmt.Errorf("enlistment: create temp metadata: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for k, v := range m.data {
		if _, err := fmt.Fprintf(w, "%s=%s\n", k, v); err != nil {
			tmp.Close()
			return fmt.Errorf("enlistment: write metadata: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("enlistment: flush metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("enlistment: fsync metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("enlistment: close temp metadata: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		return fmt.Errorf("enlistment: rename metadata into place: %w", err)
	}
	return nil
}
