package objstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// readAlternates parses a .git/objects/info/alternates file: one object
// directory path per line, blank lines and '#'-prefixed lines ignored.
// This is the same mechanism Git itself uses to let an enlistment's
// object store delegate to a shared cache.
func readAlternates(objectsDir string) ([]string, error) {
	path := filepath.Join(objectsDir, "info", "alternates")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("objstore: read alternates: %w", err)
	}
	defer f.Close()

	var dirs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(objectsDir, line)
		}
		dirs = append(dirs, filepath.Clean(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("objstore: scan alternates: %w", err)
	}
	return dirs, nil
}

// writeAlternates overwrites the alternates file with dirs, one per
// line. Used when enlisting a repo against a shared object cache.
func writeAlternates(objectsDir string, dirs []string) error {
	infoDir := filepath.Join(objectsDir, "info")
	if err := os.MkdirAll(infoDir, 0755); err != nil {
		return fmt.Errorf("objstore: mkdir alternates dir: %w", err)
	}
	path := filepath.Join(infoDir, "alternates")
	var b strings.Builder
	for _, d := range dirs {
		b.WriteString(d)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("objstore: write alternates: %w", err)
	}
	return nil
}
