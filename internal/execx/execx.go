// Package execx runs external tools (yt-dlp, ffmpeg, ffprobe) and returns a
// typed result instead of raw stdout/stderr parsing scattered across callers.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result is the captured outcome of one tool invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Output returns combined output for error classification, stderr first since
// that is where yt-dlp and ffmpeg report failures.
func (r Result) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stderr + "\n" + r.Stdout
}

// Runner executes a named tool with arguments under a timeout. Abstracted so
// pipeline stages can be tested without the real binaries installed.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error)
}

// OSRunner executes tools via os/exec.
type OSRunner struct{}

// Run executes the command, capturing stdout and stderr separately. A non-zero
// exit is returned as an error with the exit code preserved in the Result;
// callers classify from there.
func (OSRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		if ctx.Err() != nil {
			return res, fmt.Errorf("%s timed out: %w", name, ctx.Err())
		}
		return res, fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(res.Stderr))
	}

	return res, nil
}
