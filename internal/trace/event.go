// Package trace implements the structured event log the mount process
// writes for every notable operation (object downloads, hydration
// failures, lock denials, maintenance steps) plus a periodic heartbeat
// and a set of Prometheus gauges for live inspection.
//
// Each Event is written straight to the log; a ticker/stopCh/wg-driven
// loop adds periodic heartbeat lines carrying cumulative event and error
// counts, and the counters that need to be scraped rather than read from
// a log tail are exported as Prometheus gauges.
package trace

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Level is an ETW-style verbosity level, ordered from most to least
// chatty.
type Level int

const (
	LevelVerbose Level = iota
	LevelInformational
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelVerbose:
		return "Verbose"
	case LevelWarning:
		return "Warning"
	case LevelError:
		return "Error"
	case LevelCritical:
		return "Critical"
	default:
		return "Informational"
	}
}

// Event is one structured trace record.
type Event struct {
	Timestamp time.Time
	Level     Level
	Area      string // e.g. "ObjectFetch", "Maintenance", "Lock"
	Name      string // e.g. "DownloadAttempt", "PackfileMaintenance"
	Keywords  []string
	Metadata  map[string]interface{}
}

// Format renders an event as a single bracketed-tag line, with metadata
// appended as key=value pairs in stable (sorted) order so repeated
// lines diff cleanly.
func (e Event) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s/%s", e.Level, e.Area, e.Name)
	if len(e.Keywords) > 0 {
		fmt.Fprintf(&sb, " (%s)", strings.Join(e.Keywords, ","))
	}
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, e.Metadata[k])
		}
	}
	return sb.String()
}
