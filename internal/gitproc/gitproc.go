// Package gitproc invokes the `git` binary as a subprocess and classifies
// its failures, for the maintenance scheduler and the clone command.
// Every path returns (string, string, error);
// nothing panics.
package gitproc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/gitvfs/gitvfs/internal/gitvfserr"
)

// Options configures one Run call; the zero value runs with no stdin and
// the caller's environment.
type Options struct {
	Dir   string            // working directory for the subprocess
	Stdin string            // piped to stdin if non-empty
	Env   []string          // replaces the subprocess environment if non-nil
}

// GitError is the cause wrapped by gitvfserr.External when `git` exits
// non-zero: argv plus both captured streams.
type GitError struct {
	Argv     []string
	Stdout   string
	Stderr   string
	ExitCode int
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s: exit %d", strings.Join(e.Argv, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

// Run executes `git argv...` and returns its trimmed stdout/stderr. A
// non-zero exit becomes a *gitvfserr.Error of Kind External wrapping a
// *GitError; any other failure (binary not found, context cancellation)
// is returned as-is.
func Run(ctx context.Context, argv []string, opts Options) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, "git", argv...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout = strings.TrimSpace(outBuf.String())
	stderr = strings.TrimSpace(errBuf.String())

	if runErr == nil {
		return stdout, stderr, nil
	}

	exitErr, ok := runErr.(*exec.ExitError)
	if !ok {
		return stdout, stderr, fmt.Errorf("gitproc: run git %s: %w", strings.Join(argv, " "), runErr)
	}

	op := "git " + strings.Join(argv, " ")
	return stdout, stderr, gitvfserr.New(gitvfserr.External, op, &GitError{
		Argv:     argv,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitErr.ExitCode(),
	})
}
