// Package objcache is the background object cache: a single-flight
// ensure(oid) coordinator with batch coalescing, backed by the shared
// object store and a persistent blob-sizes lookup so the filter driver
// can answer a stat without reading the blob body.
package objcache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/gitvfs/gitvfs/internal/gitvfserr"
)

// BlobSizes is a persistent oid -> size table, opened the same way the
// teacher's internal/db.Store opens its cache database: WAL mode, and a
// delete-and-recreate retry if the on-disk schema doesn't match (the
// teacher's openDB/Open split in internal/db/store.go).
type BlobSizes struct {
	db *sql.DB
}

const blobSizesSchema = `
CREATE TABLE IF NOT EXISTS blob_sizes (
	oid  TEXT PRIMARY KEY,
	size INTEGER NOT NULL
);
`

// OpenBlobSizes opens or creates the blob-sizes database at dbPath.
func OpenBlobSizes(dbPath string) (*BlobSizes, error) {
	b, err := openBlobSizes(dbPath)
	if err != nil {
		if strings.Contains(err.Error(), "no such column") ||
			strings.Contains(err.Error(), "no such table") ||
			strings.Contains(err.Error(), "SQL logic error") {
			if rmErr := os.Remove(dbPath); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, gitvfserr.New(gitvfserr.Corruption, "objcache.OpenBlobSizes", rmErr)
			}
			os.Remove(dbPath + "-wal")
			os.Remove(dbPath + "-shm")
			return openBlobSizes(dbPath)
		}
		return nil, err
	}
	return b, nil
}

func openBlobSizes(dbPath string) (*BlobSizes, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("objcache: create blob-sizes dir: %w", err)
	}
	escaped := strings.ReplaceAll(dbPath, " ", "%20")
	db, err := sql.Open("sqlite", "file:"+escaped+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("objcache: open blob-sizes db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("objcache: enable WAL: %w", err)
	}
	if _, err := db.Exec(blobSizesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("objcache: init schema: %w", err)
	}
	return &BlobSizes{db: db}, nil
}

func (b *BlobSizes) Close() error {
	return b.db.Close()
}

// Get returns the cached size for oid, if known.
func (b *BlobSizes) Get(oid string) (int64, bool, error) {
	var size int64
	err := b.db.QueryRow(`SELECT size FROM blob_sizes WHERE oid = ?`, oid).Scan(&size)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("objcache: query blob size: %w", err)
	}
	return size, true, nil
}

// Set records oid's size, so a later GetPlaceholderInfo can answer
// without touching the object store.
func (b *BlobSizes) Set(oid string, size int64) error {
	_, err := b.db.Exec(`INSERT INTO blob_sizes(oid, size) VALUES (?, ?)
		ON CONFLICT(oid) DO UPDATE SET size = excluded.size`, oid, size)
	if err != nil {
		return fmt.Errorf("objcache: set blob size: %w", err)
	}
	return nil
}
