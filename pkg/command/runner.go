// Package command runs the external tools the packager drives (security,
// codesign, hdiutil, pkgbuild, productbuild) and retries the ones that are
// known to fail transiently.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout is returned when a command does not exit within its timeout.
var ErrTimeout = errors.New("command timed out")

// Options controls a single command invocation
type Options struct {
	// Timeout bounds the run time of the command. Zero means no timeout.
	Timeout time.Duration
	// Quiet suppresses echoing the command output when it succeeds.
	Quiet bool
}

// Result holds the outcome of a command
type Result struct {
	ExitCode int
	// Output holds the combined stdout and stderr, one entry per line.
	Output []string
	// Aborted is set by the retry loop when its abort predicate stopped it.
	Aborted bool
}

// Runner runs an external program and captures its output.
type Runner interface {
	Run(ctx context.Context, args []string, opts Options) (*Result, error)
}

// ExitError reports a command that exited with a non-zero status or was
// killed, together with the output it produced.
type ExitError struct {
	Args     []string
	ExitCode int
	Output   []string
	// Err is the reason the command was killed, e.g. ErrTimeout.
	Err error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("%s exited with code %d", strings.Join(e.Args, " "), e.ExitCode)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExecRunner is the Runner backed by os/exec.
type ExecRunner struct {
	Logger *slog.Logger
	// Dir is the working directory of spawned commands (current directory if empty).
	Dir string
}

// NewExecRunner returns an ExecRunner logging to logger (slog.Default() if nil).
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	return &ExecRunner{Logger: logger}
}

func (r *ExecRunner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Run runs args[0] with args[1:] and returns its exit status and output.
// A non-zero exit status or a timeout is reported as *ExitError together
// with the result.
func (r *ExecRunner) Run(ctx context.Context, args []string, opts Options) (*Result, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command line")
	}

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	log := r.logger()
	log.Debug("running command", "cmd", strings.Join(args, " "))

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = r.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	res := &Result{Output: SplitLines(out.String())}

	if opts.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.ExitCode = -1
		logOutput(log, slog.LevelWarn, res.Output)
		return res, &ExitError{
			Args:     args,
			ExitCode: res.ExitCode,
			Output:   res.Output,
			Err:      fmt.Errorf("%w after %s", ErrTimeout, opts.Timeout),
		}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run %s: %w", args[0], err)
		}
		res.ExitCode = exitErr.ExitCode()
		logOutput(log, slog.LevelWarn, res.Output)
		return res, &ExitError{Args: args, ExitCode: res.ExitCode, Output: res.Output}
	}

	if !opts.Quiet {
		logOutput(log, slog.LevelInfo, res.Output)
	}
	return res, nil
}

func logOutput(log *slog.Logger, level slog.Level, lines []string) {
	for _, line := range lines {
		log.Log(context.Background(), level, line)
	}
}

// SplitLines splits command output into lines, dropping the trailing empty line.
func SplitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}

// OutputOf returns the captured output carried by err, if any.
func OutputOf(err error) []string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Output
	}
	return nil
}
