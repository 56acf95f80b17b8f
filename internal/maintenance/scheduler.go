// Package maintenance implements the cooperative scheduler that keeps an
// enlistment's object cache compact: multi-pack-index expire/repack,
// loose-object packing, commit-graph maintenance, and required Git
// config. Steps run one at a time, in a fixed named order, whenever a
// caller invokes RunDue; the package runs no timer or worker loop of its
// own. git invocation goes through internal/gitproc.
package maintenance

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gitvfs/gitvfs/internal/gitproc"
)

// Step names for the built-in step list.
const (
	StepPackfileMaintenance = "PackfileMaintenance"
	StepLooseObject         = "LooseObject"
	StepCommitGraph         = "CommitGraph"
	StepPostFetch           = "PostFetch"
	StepConfig              = "Config"
)

// Env bundles the paths a step needs: the enlistment's Git directory
// (where `git` subprocess invocations run) and the object/pack directory
// maintenance steps compact.
type Env struct {
	GitDir  string
	PackDir string
	// RequiredConfig is the fixed table the Config step re-applies,
	// key -> value.
	RequiredConfig map[string]string
}

// step is one named, interval-gated unit of work.
type step struct {
	name     string
	interval time.Duration // zero means ad hoc: always due, never gated on time
	run      func(ctx context.Context, env Env) error
}

// Scheduler runs the fixed set of maintenance steps one at a time, never
// in parallel, gating each on its own `<step>.time` file and on whether
// any `git` process is currently running against the enlistment.
type Scheduler struct {
	gateDir string
	env     Env
	checker RunningGitChecker

	mu    sync.Mutex // serializes RunDue: "run one at a time"
	steps []step
}

// New returns a Scheduler with the built-in step queue registered in
// priority order.
func New(gateDir string, env Env, checker RunningGitChecker) *Scheduler {
	s := &Scheduler{gateDir: gateDir, env: env, checker: checker}
	s.steps = []step{
		{name: StepPackfileMaintenance, interval: 24 * time.Hour, run: runPackfileMaintenance},
		{name: StepLooseObject, interval: 24 * time.Hour, run: runLooseObjectPack},
		{name: StepCommitGraph, interval: 24 * time.Hour, run: runCommitGraph},
		{name: StepPostFetch, interval: 0, run: runPostFetch},
		{name: StepConfig, interval: 24 * time.Hour, run: runConfig},
	}
	return s
}

// newWithSteps builds a Scheduler around an arbitrary step list, letting
// tests exercise the gating/ordering logic without shelling out to a
// real `git` subprocess.
func newWithSteps(gateDir string, env Env, checker RunningGitChecker, steps []step) *Scheduler {
	return &Scheduler{gateDir: gateDir, env: env, checker: checker, steps: steps}
}

// RunDue runs every step whose gate has elapsed (or, with forceRun, every
// step regardless of gate or running-git state), in registration order,
// one at a time. It returns the names of steps it actually ran.
func (s *Scheduler) RunDue(ctx context.Context, forceRun bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ran []string
	for _, st := range s.steps {
		due, err := s.isDue(st, forceRun)
		if err != nil {
			return ran, err
		}
		if !due {
			continue
		}

		if !forceRun {
			running, err := s.checker.HasRunningGit(filepath.Dir(s.env.GitDir))
			if err != nil {
				log.Printf("[maintenance] running-git check failed for %s: %v", st.name, err)
			} else if running {
				log.Printf("[maintenance] %s deferred: git is running against this enlistment", st.name)
				continue
			}
		}

		if err := st.run(ctx, s.env); err != nil {
			log.Printf("[maintenance] step %s failed: %v", st.name, err)
			continue
		}
		if err := writeLastRun(s.gateDir, st.name, time.Now()); err != nil {
			log.Printf("[maintenance] step %s: recording last-run failed: %v", st.name, err)
		}
		ran = append(ran, st.name)
	}
	return ran, nil
}

func (s *Scheduler) isDue(st step, forceRun bool) (bool, error) {
	if forceRun || st.interval == 0 {
		return true, nil
	}
	last, err := readLastRun(s.gateDir, st.name)
	if err != nil {
		return false, err
	}
	return time.Since(last) >= st.interval, nil
}

func runPackfileMaintenance(ctx context.Context, env Env) error {
	keepPresent, err := anyFileWithSuffix(env.PackDir, ".keep")
	if err != nil {
		return fmt.Errorf("maintenance: check .keep: %w", err)
	}
	if !keepPresent {
		log.Printf("[maintenance] PackfileMaintenance skipped: no .keep file in %s", env.PackDir)
		return nil
	}

	before, err := dirSize(env.PackDir)
	if err != nil {
		return err
	}

	if _, _, err := gitproc.Run(ctx, []string{"multi-pack-index", "expire"}, gitproc.Options{Dir: env.GitDir}); err != nil {
		return err
	}
	afterExpire, err := dirSize(env.PackDir)
	if err != nil {
		return err
	}

	stale, err := CleanStaleIdxFiles(env.PackDir)
	if err != nil {
		return fmt.Errorf("maintenance: clean stale idx: %w", err)
	}
	if len(stale) > 0 {
		log.Printf("[maintenance] removed %d stale idx file(s): %v", len(stale), stale)
	}

	if _, _, err := gitproc.Run(ctx, []string{"multi-pack-index", "repack", "--batch-size=0"}, gitproc.Options{Dir: env.GitDir}); err != nil {
		return err
	}
	after, err := dirSize(env.PackDir)
	if err != nil {
		return err
	}

	log.Printf("[maintenance] PackfileMaintenance: before=%s after-expire=%s after-repack=%s",
		humanize.Bytes(uint64(before)), humanize.Bytes(uint64(afterExpire)), humanize.Bytes(uint64(after)))
	return nil
}

func runLooseObjectPack(ctx context.Context, env Env) error {
	stdout, _, err := gitproc.Run(ctx, []string{"pack-objects", "--unpacked", "--incremental", env.PackDir + "/pack"}, gitproc.Options{Dir: env.GitDir})
	if err != nil {
		return err
	}
	log.Printf("[maintenance] LooseObject: packed into %s", stdout)

	if _, _, err := gitproc.Run(ctx, []string{"prune-packed"}, gitproc.Options{Dir: env.GitDir}); err != nil {
		return err
	}
	return nil
}

func runCommitGraph(ctx context.Context, env Env) error {
	_, _, err := gitproc.Run(ctx, []string{"commit-graph", "write", "--reachable", "--changed-paths"}, gitproc.Options{Dir: env.GitDir})
	return err
}

func runPostFetch(ctx context.Context, env Env) error {
	if _, _, err := gitproc.Run(ctx, []string{"multi-pack-index", "write"}, gitproc.Options{Dir: env.GitDir}); err != nil {
		return err
	}
	return runCommitGraph(ctx, env)
}

func runConfig(ctx context.Context, env Env) error {
	for key, value := range env.RequiredConfig {
		if _, _, err := gitproc.Run(ctx, []string{"config", key, value}, gitproc.Options{Dir: env.GitDir}); err != nil {
			return fmt.Errorf("maintenance: set config %s: %w", key, err)
		}
	}
	return nil
}
