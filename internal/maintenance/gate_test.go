package maintenance

import (
	"testing"
	"time"
)

func TestReadLastRun_MissingFileIsZeroTime(t *testing.T) {
	dir := t.TempDir()
	got, err := readLastRun(dir, "PackfileMaintenance")
	if err != nil {
		t.Fatalf("readLastRun: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("readLastRun on a missing gate = %v, want zero time", got)
	}
}

func TestWriteThenReadLastRun_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().Truncate(time.Second)
	if err := writeLastRun(dir, "LooseObject", now); err != nil {
		t.Fatalf("writeLastRun: %v", err)
	}
	got, err := readLastRun(dir, "LooseObject")
	if err != nil {
		t.Fatalf("readLastRun: %v", err)
	}
	if !got.Equal(now) {
		t.Errorf("readLastRun = %v, want %v", got, now)
	}
}
