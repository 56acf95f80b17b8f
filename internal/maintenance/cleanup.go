package maintenance

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CleanStaleIdxFiles removes every `.idx` file in packDir that has no
// matching `.pack` sibling — orphans left behind when `multi-pack-index
// expire` deletes a pack but can't remove its idx because of an open
// handle — and returns the removed files' base names, sorted.
func CleanStaleIdxFiles(packDir string) ([]string, error) {
	entries, err := os.ReadDir(packDir)
	if err != nil {
		return nil, err
	}

	packs := make(map[string]bool)
	var idxFiles []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".pack"):
			packs[strings.TrimSuffix(name, ".pack")] = true
		case strings.HasSuffix(name, ".idx"):
			idxFiles = append(idxFiles, name)
		}
	}

	var removed []string
	for _, name := range idxFiles {
		base := strings.TrimSuffix(name, ".idx")
		if packs[base] {
			continue
		}
		if err := os.Remove(filepath.Join(packDir, name)); err != nil {
			return removed, err
		}
		removed = append(removed, name)
	}
	sort.Strings(removed)
	return removed, nil
}
