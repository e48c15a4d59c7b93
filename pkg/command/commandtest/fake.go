// Package commandtest provides a scriptable command.Runner for tests.
package commandtest

import (
	"context"
	"strings"
	"sync"

	"github.com/aluedeke/go-macpack/pkg/command"
)

// Call records one invocation of the fake runner
type Call struct {
	Args []string
	Opts command.Options
}

// Line returns the command line joined with spaces.
func (c Call) Line() string { return strings.Join(c.Args, " ") }

// Reply is what a handler answers for a call
type Reply struct {
	Output   []string
	ExitCode int
	Err      error
}

// Runner is a fake command.Runner. Handle decides the outcome of every call;
// a nil Handle makes every command succeed without output.
type Runner struct {
	Handle func(call Call) Reply

	mu    sync.Mutex
	calls []Call
}

// Run implements command.Runner.
func (r *Runner) Run(ctx context.Context, args []string, opts command.Options) (*command.Result, error) {
	call := Call{Args: append([]string(nil), args...), Opts: opts}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()

	var reply Reply
	if r.Handle != nil {
		reply = r.Handle(call)
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	res := &command.Result{ExitCode: reply.ExitCode, Output: reply.Output}
	if reply.ExitCode != 0 {
		return res, &command.ExitError{Args: call.Args, ExitCode: reply.ExitCode, Output: reply.Output}
	}
	return res, nil
}

// Calls returns a copy of all recorded calls.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns the recorded calls whose program (args[0]) is name or a
// path ending in name.
func (r *Runner) CallsTo(name string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if len(c.Args) == 0 {
			continue
		}
		if c.Args[0] == name || strings.HasSuffix(c.Args[0], "/"+name) {
			out = append(out, c)
		}
	}
	return out
}

// Has reports whether args contains flag.
func Has(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

// Value returns the argument following flag, or "" if flag is absent.
func Value(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
