// Package runner executes task commands on the worker side of a dispatch.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"git.home.luguber.info/inful/buildgraph/internal/logfields"
)

// Spec describes one command invocation.
type Spec struct {
	Task       string
	Command    string
	WorkingDir string
	Env        map[string]string
}

// Result is what a finished command produced.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner runs a task command until it exits or ctx is done.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ErrTimeout marks a command killed because its deadline passed.
var ErrTimeout = errors.New("command timed out")

// ExitError is returned for a non-zero exit status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("command failed with exit code %d", e.Code)
	}
	return fmt.Sprintf("command failed with exit code %d: %s", e.Code, e.Stderr)
}

// Shell runs commands through "sh -c". Output beyond MaxOutput bytes keeps only the tail.
type Shell struct {
	Path      string
	MaxOutput int
}

// NewShell returns a runner using /bin/sh with a 4 KiB output tail.
func NewShell() *Shell {
	return &Shell{Path: "/bin/sh", MaxOutput: 4096}
}

func (s *Shell) Run(ctx context.Context, spec Spec) (Result, error) {
	if strings.TrimSpace(spec.Command) == "" {
		// A task without a command only orders its dependencies.
		return Result{}, nil
	}

	start := time.Now()
	// #nosec G204 -- commands come from operator-controlled definition files
	cmd := exec.CommandContext(ctx, s.shell(), "-c", spec.Command)
	cmd.Dir = spec.WorkingDir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Running task command", logfields.Task(spec.Task), slog.String("dir", spec.WorkingDir))
	err := cmd.Run()

	res := Result{
		Stdout:   tail(stdout.String(), s.MaxOutput),
		Stderr:   tail(stderr.String(), s.MaxOutput),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case err == nil:
		return res, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return res, ErrTimeout
	case ctx.Err() != nil:
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &ExitError{Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(res.Stderr)}
	}
	return res, fmt.Errorf("start command: %w", err)
}

func (s *Shell) shell() string {
	if s.Path == "" {
		return "/bin/sh"
	}
	return s.Path
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := slices.Clone(base)
	for _, k := range slices.Sorted(maps.Keys(extra)) {
		out = append(out, k+"="+extra[k])
	}
	return out
}

func tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "..." + s[cut:]
}
