package maintenance

import (
	"context"
	"testing"
	"time"
)

type fakeChecker struct {
	running bool
}

func (f fakeChecker) HasRunningGit(string) (bool, error) { return f.running, nil }

func countingStep(name string, interval time.Duration, count *int) step {
	return step{
		name:     name,
		interval: interval,
		run: func(ctx context.Context, env Env) error {
			*count++
			return nil
		},
	}
}

// TestScheduler_SkipsStepNotYetDue checks that a step whose gate file was
// just written does not run again immediately.
func TestScheduler_SkipsStepNotYetDue(t *testing.T) {
	gateDir := t.TempDir()
	if err := writeLastRun(gateDir, "fake", time.Now()); err != nil {
		t.Fatalf("writeLastRun: %v", err)
	}

	var count int
	s := newWithSteps(gateDir, Env{}, fakeChecker{}, []step{
		countingStep("fake", 24*time.Hour, &count),
	})

	ran, err := s.RunDue(context.Background(), false)
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if len(ran) != 0 || count != 0 {
		t.Errorf("RunDue ran=%v count=%d, want none (gate not elapsed)", ran, count)
	}
}

func TestScheduler_RunsStepPastItsInterval(t *testing.T) {
	gateDir := t.TempDir()
	if err := writeLastRun(gateDir, "fake", time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("writeLastRun: %v", err)
	}

	var count int
	s := newWithSteps(gateDir, Env{}, fakeChecker{}, []step{
		countingStep("fake", 24*time.Hour, &count),
	})

	ran, err := s.RunDue(context.Background(), false)
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if len(ran) != 1 || count != 1 {
		t.Errorf("RunDue ran=%v count=%d, want exactly [fake] run once", ran, count)
	}
}

func TestScheduler_ForceRunBypassesTimeGate(t *testing.T) {
	gateDir := t.TempDir()
	writeLastRun(gateDir, "fake", time.Now())

	var count int
	s := newWithSteps(gateDir, Env{}, fakeChecker{}, []step{
		countingStep("fake", 24*time.Hour, &count),
	})

	if _, err := s.RunDue(context.Background(), true); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if count != 1 {
		t.Errorf("forceRun should have run the step despite the unelapsed gate, count=%d", count)
	}
}

func TestScheduler_DefersWhenGitIsRunning(t *testing.T) {
	gateDir := t.TempDir()
	var count int
	s := newWithSteps(gateDir, Env{}, fakeChecker{running: true}, []step{
		countingStep("fake", 24*time.Hour, &count),
	})

	ran, err := s.RunDue(context.Background(), false)
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if len(ran) != 0 || count != 0 {
		t.Errorf("RunDue with git running ran=%v count=%d, want none", ran, count)
	}
}

func TestScheduler_ForceRunBypassesRunningGitCheck(t *testing.T) {
	gateDir := t.TempDir()
	var count int
	s := newWithSteps(gateDir, Env{}, fakeChecker{running: true}, []step{
		countingStep("fake", 24*time.Hour, &count),
	})

	if _, err := s.RunDue(context.Background(), true); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if count != 1 {
		t.Error("forceRun should bypass the running-git gate too")
	}
}

func TestScheduler_AdHocStepAlwaysDue(t *testing.T) {
	gateDir := t.TempDir()
	var count int
	s := newWithSteps(gateDir, Env{}, fakeChecker{}, []step{
		countingStep("fake", 0, &count),
	})

	for i := 0; i < 2; i++ {
		if _, err := s.RunDue(context.Background(), false); err != nil {
			t.Fatalf("RunDue[%d]: %v", i, err)
		}
	}
	if count != 2 {
		t.Errorf("an ad-hoc (zero interval) step should run every call, count=%d", count)
	}
}

func TestScheduler_UpdatesLastRunOnSuccess(t *testing.T) {
	gateDir := t.TempDir()
	var count int
	s := newWithSteps(gateDir, Env{}, fakeChecker{}, []step{
		countingStep("fake", time.Hour, &count),
	})

	if _, err := s.RunDue(context.Background(), false); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	last, err := readLastRun(gateDir, "fake")
	if err != nil {
		t.Fatalf("readLastRun: %v", err)
	}
	if last.IsZero() {
		t.Error("a successful step run should record a last-run time")
	}
}
