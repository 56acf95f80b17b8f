package trace

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// heartbeatInterval is how often a summary event fires even when
// nothing else happened.
const heartbeatInterval = 15 * time.Second

// Sink is the mount process's one trace destination: every Event is
// appended to a per-mount log file, a small set of Prometheus gauges is
// updated by ObjectFetchAttempt and the Set* methods, and a heartbeat
// emits an aggregate summary every heartbeatInterval.
//
// A ticker/stopCh/wg pair drives both the heartbeat loop and clean
// shutdown; the event and error counters it reports in each heartbeat
// are not exported as gauges.
type Sink struct {
	mu sync.Mutex

	logger *log.Logger
	file   *os.File

	registry       *prometheus.Registry
	gDownloads     prometheus.Gauge
	gDownloadErrs  prometheus.Gauge
	gBackgroundOps prometheus.Gauge
	gLockHeld      prometheus.Gauge

	eventCount    int64
	errorCount    int64
	lastHeartbeat time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Open creates (or appends to, on a crash-restart of the same mount id)
// a rolling log file named gitvfs-<mountID>.log under logDir and starts
// the heartbeat goroutine.
func Open(logDir, mountID string) (*Sink, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("trace: create log dir: %w", err)
	}
	// keepLogs bounds how many prior mounts' logs survive a fresh mount
	// so a long-lived enlistment doesn't accumulate log files forever.
	const keepLogs = 10
	if err := pruneOldLogs(logDir, keepLogs); err != nil {
		return nil, fmt.Errorf("trace: prune old logs: %w", err)
	}
	path := filepath.Join(logDir, fmt.Sprintf("gitvfs-%s.log", mountID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("trace: open log file: %w", err)
	}

	reg := prometheus.NewRegistry()
	s := &Sink{
		logger:   log.New(f, "", log.LstdFlags),
		file:     f,
		registry: reg,
		gDownloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gitvfs_object_downloads_total",
			Help: "Total objects fetched from the remote object service.",
		}),
		gDownloadErrs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gitvfs_object_download_errors_total",
			Help: "Total failed object fetch attempts.",
		}),
		gBackgroundOps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gitvfs_background_operation_count",
			Help: "In-flight background operations (maintenance steps, prefetches).",
		}),
		gLockHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gitvfs_lock_held",
			Help: "1 if the cross-process lock is currently held externally, else 0.",
		}),
		stopCh: make(chan struct{}),
	}
	reg.MustRegister(s.gDownloads, s.gDownloadErrs, s.gBackgroundOps, s.gLockHeld)

	s.wg.Add(1)
	go s.heartbeatLoop()
	return s, nil
}

// Registry exposes the Prometheus registry for an HTTP /metrics handler.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// Emit writes ev to the log file and counts it (and, at LevelError or
// above, counts it as an error) for the heartbeat; it does not touch the
// gauges.
func (s *Sink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventCount++
	if ev.Level >= LevelError {
		s.errorCount++
	}
	s.logger.Print(ev.Format())
}

// ObjectFetchAttempt satisfies objectfetch.TraceSink, turning each HTTP
// attempt into an Event and updating the download gauges.
func (s *Sink) ObjectFetchAttempt(op string, attempt int, bytesReceived int64, elapsed time.Duration, err error) {
	level := LevelInformational
	if err != nil {
		level = LevelWarning
	}
	s.Emit(Event{
		Timestamp: time.Now(),
		Level:     level,
		Area:      "ObjectFetch",
		Name:      op,
		Metadata: map[string]interface{}{
			"attempt": attempt,
			"bytes":   bytesReceived,
			"ms":      elapsed.Milliseconds(),
		},
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.gDownloadErrs.Inc()
		return
	}
	s.gDownloads.Inc()
}

// SetBackgroundOperationCount updates the background-activity gauge the
// GetStatus verb also reports in StatusInfo.BackgroundOperationCount.
func (s *Sink) SetBackgroundOperationCount(n int) {
	s.gBackgroundOps.Set(float64(n))
}

// SetLockHeld updates the lock-held gauge.
func (s *Sink) SetLockHeld(held bool) {
	if held {
		s.gLockHeld.Set(1)
		return
	}
	s.gLockHeld.Set(0)
}

// heartbeatLoop emits one heartbeat Event every 15s carrying the event
// and error counts accumulated since Open, and a final one on Close.
func (s *Sink) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.emitHeartbeat("Heartbeat")
		case <-s.stopCh:
			s.emitHeartbeat("FinalHeartbeat")
			return
		}
	}
}

func (s *Sink) emitHeartbeat(name string) {
	s.mu.Lock()
	events, errs := s.eventCount, s.errorCount
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()

	s.logger.Print(Event{
		Timestamp: time.Now(),
		Level:     LevelInformational,
		Area:      "Heartbeat",
		Name:      name,
		Metadata: map[string]interface{}{
			"events": events,
			"errors": errs,
		},
	}.Format())
}

// Close stops the heartbeat goroutine and closes the log file.
func (s *Sink) Close() error {
	close(s.stopCh)
	s.wg.Wait()
	return s.file.Close()
}

// pruneOldLogs removes every gitvfs-*.log file in logDir beyond the
// newest keep, oldest first. Called at mount startup so a long-lived
// enlistment doesn't accumulate one log per mount forever.
func pruneOldLogs(logDir string, keep int) error {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var logs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) > 7 && name[:7] == "gitvfs-" {
			logs = append(logs, name)
		}
	}
	if len(logs) <= keep {
		return nil
	}
	mod := make(map[string]time.Time, len(logs))
	for _, name := range logs {
		if info, err := os.Stat(filepath.Join(logDir, name)); err == nil {
			mod[name] = info.ModTime()
		}
	}
	sort.Slice(logs, func(i, j int) bool {
		if !mod[logs[i]].Equal(mod[logs[j]]) {
			return mod[logs[i]].Before(mod[logs[j]])
		}
		return logs[i] < logs[j]
	})
	for _, name := range logs[:len(logs)-keep] {
		if err := os.Remove(filepath.Join(logDir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
