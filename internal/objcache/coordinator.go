package objcache

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gitvfs/gitvfs/internal/gitvfserr"
	"github.com/gitvfs/gitvfs/internal/objstore"
)

// DefaultBatchWindow is the coalescing window's default: misses arriving
// within this window of the first one share a single pack request.
const DefaultBatchWindow = 50 * time.Millisecond

// Source is the subset of objectfetch.Requester the coordinator needs.
// Declared locally (like projection.JournalView) so this package doesn't
// import the HTTP transport directly and stays testable with a fake.
type Source interface {
	GetObject(ctx context.Context, oid string) ([]byte, error)
	FetchPack(ctx context.Context, oids []string, allowPackFiles bool) ([]byte, error)
}

// fetchEntry tracks how many callers are still waiting on one OID's
// in-flight fetch, so the last one to leave can cancel the shared fetch
// context. Cancelling it ends the shared wait in fetchOne; the batched
// network request runs under context.Background and is not aborted.
type fetchEntry struct {
	cancel         context.CancelFunc
	fetchCtxLocked context.Context
	waiters        int
}

// Coordinator is the single-flight ensure(oid) entry point. Concurrent
// Ensure calls for the same OID share one fetch; several OIDs
// that miss within the batch window given to New (DefaultBatchWindow
// when that is not positive) of each other share one pack
// request via the batcher.
type Coordinator struct {
	store  *objstore.Store
	sizes  *BlobSizes
	source Source
	window time.Duration

	sf      singleflight.Group
	batch   *batcher
	mu      sync.Mutex
	entries map[string]*fetchEntry
}

// New returns a Coordinator that persists fetched objects into store and
// records their sizes in sizes.
func New(store *objstore.Store, sizes *BlobSizes, source Source, window time.Duration) *Coordinator {
	if window <= 0 {
		window = DefaultBatchWindow
	}
	c := &Coordinator{
		store:   store,
		sizes:   sizes,
		source:  source,
		window:  window,
		entries: make(map[string]*fetchEntry),
	}
	c.batch = newBatcher(window, c.flushBatch)
	return c
}

// Ensure returns oid's content, fetching it from the remote object
// service if it isn't already local. Concurrent callers for the same oid
// share one fetch: at most one fetch is ever in flight per OID.
func (c *Coordinator) Ensure(ctx context.Context, oid objstore.OID) (objstore.ObjectType, []byte, error) {
	if c.store.HasObject(oid) {
		return c.store.ReadObject(oid)
	}

	key := oid.String()
	ent := c.joinEntry(key)
	defer c.leaveEntry(key, ent)

	resultCh := make(chan ensureResult, 1)
	go func() {
		v, err, _ := c.sf.Do(key, func() (interface{}, error) {
			return c.fetchOne(ent.fetchCtxLocked, oid)
		})
		if err != nil {
			resultCh <- ensureResult{err: err}
			return
		}
		resultCh <- v.(ensureResult)
	}()

	select {
	case r := <-resultCh:
		return r.typ, r.bytes, r.err
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

type ensureResult struct {
	typ   objstore.ObjectType
	bytes []byte
	err   error
}

// joinEntry registers the caller as a waiter on key's in-flight fetch,
// creating the shared fetch context on the first waiter.
func (c *Coordinator) joinEntry(key string) *fetchEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.Background())
		ent = &fetchEntry{cancel: cancel, fetchCtxLocked: fctx}
		c.entries[key] = ent
	}
	ent.waiters++
	return ent
}

// leaveEntry removes the caller as a waiter; once the last waiter leaves,
// the shared fetch context is cancelled, which ends the shared wait in
// fetchOne; a batch request already issued still runs to completion.
func (c *Coordinator) leaveEntry(key string, e *fetchEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e.waiters--
	if e.waiters == 0 {
		e.cancel()
		delete(c.entries, key)
	}
}

func (c *Coordinator) fetchOne(ctx context.Context, oid objstore.OID) (interface{}, error) {
	ch := c.batch.request(oid.String())
	select {
	case res := <-ch:
		if res.err != nil {
			return ensureResult{}, res.err
		}
		typ, payload, err := c.store.ReadObject(oid)
		if err != nil {
			return ensureResult{}, err
		}
		return ensureResult{typ: typ, bytes: payload}, nil
	case <-ctx.Done():
		return ensureResult{}, ctx.Err()
	}
}

// flushBatch issues one FetchPack covering every OID that missed in this
// window, materializes the resulting pack, and records each object's
// size in the blob-sizes store. A batch-level failure falls back to
// fetching each OID individually via GetObject, since some servers in
// practice don't honor multi-commit pack requests for arbitrary blobs.
func (c *Coordinator) flushBatch(oids []string) map[string]fetchResult {
	results := make(map[string]fetchResult, len(oids))

	packBytes, err := c.source.FetchPack(context.Background(), oids, true)
	if err == nil {
		if perr := c.persistPack(packBytes); perr == nil {
			allPresent := true
			for _, oid := range oids {
				parsed, perr := objstore.ParseOID(oid)
				if perr != nil || !c.store.HasObject(parsed) {
					allPresent = false
					break
				}
			}
			if allPresent {
				for _, oid := range oids {
					c.recordSize(oid)
					results[oid] = fetchResult{}
				}
				return results
			}
		}
	}

	for _, oid := range oids {
		results[oid] = c.fetchSingle(oid)
	}
	return results
}

func (c *Coordinator) fetchSingle(oid string) fetchResult {
	raw, err := c.source.GetObject(context.Background(), oid)
	if err != nil {
		return fetchResult{err: err}
	}
	parsed, err := objstore.ParseOID(oid)
	if err != nil {
		return fetchResult{err: gitvfserr.New(gitvfserr.Corruption, "objcache.fetchSingle", err)}
	}
	if err := c.store.WriteLooseRaw(parsed, raw); err != nil {
		return fetchResult{err: err}
	}
	c.recordSize(oid)
	return fetchResult{}
}

func (c *Coordinator) recordSize(oid string) {
	parsed, err := objstore.ParseOID(oid)
	if err != nil || c.sizes == nil {
		return
	}
	_, payload, err := c.store.ReadObject(parsed)
	if err != nil {
		return
	}
	c.sizes.Set(oid, int64(len(payload)))
}

// persistPack stages packBytes as a temp .pack file, builds its .idx via
// `git index-pack` (the same external-git-subprocess idiom
// navytux-git-backup's git.go uses), and registers it with the store.
func (c *Coordinator) persistPack(packBytes []byte) error {
	packDir := c.store.PackDir()
	if err := os.MkdirAll(packDir, 0o755); err != nil {
		return fmt.Errorf("objcache: create pack dir: %w", err)
	}
	path := filepath.Join(packDir, fmt.Sprintf("tmp-fetch-%d.pack", time.Now().UnixNano()))
	if err := os.WriteFile(path, packBytes, 0o644); err != nil {
		return fmt.Errorf("objcache: write temp pack: %w", err)
	}

	cmd := exec.Command("git", "index-pack", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return gitvfserr.New(gitvfserr.External, "objcache.persistPack: git index-pack", fmt.Errorf("%w: %s", err, out))
	}

	return c.store.WritePack(path)
}
