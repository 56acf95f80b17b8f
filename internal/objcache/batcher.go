package objcache

import (
	"fmt"
	"sync"
	"time"
)

// fetchResult is what a batched fetch resolves to for one OID.
type fetchResult struct {
	bytes []byte
	err   error
}

// batcher coalesces OID misses that arrive within a short window into one
// flush call, so several OIDs missing close together become one pack
// request instead of several individual ones. Built around a
// ticker/stopCh-style lifecycle, but with a one-shot, reset-on-first-miss
// timer instead of a periodic ticker.
type batcher struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]chan fetchResult
	timer   *time.Timer
	flush   func(oids []string) map[string]fetchResult
}

func newBatcher(window time.Duration, flush func(oids []string) map[string]fetchResult) *batcher {
	return &batcher{
		window:  window,
		pending: make(map[string]chan fetchResult),
		flush:   flush,
	}
}

// request joins (or starts) the current batch window for oid and returns
// a channel that receives exactly one result once the window flushes.
func (b *batcher) request(oid string) <-chan fetchResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.pending[oid]; ok {
		return ch
	}
	ch := make(chan fetchResult, 1)
	b.pending[oid] = ch
	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.runFlush)
	}
	return ch
}

func (b *batcher) runFlush() {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string]chan fetchResult)
	b.timer = nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	oids := make([]string, 0, len(pending))
	for oid := range pending {
		oids = append(oids, oid)
	}

	results := b.flush(oids)
	for oid, ch := range pending {
		res, ok := results[oid]
		if !ok {
			res = fetchResult{err: fmt.Errorf("objcache: batch flush did not return a result for %s", oid)}
		}
		ch <- res
		close(ch)
	}
}
