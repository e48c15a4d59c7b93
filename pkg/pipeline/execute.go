package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// TaskContext decides per run which tasks perform their action.
type TaskContext interface {
	Enabled(id TaskID) bool
}

// TaskContextFunc adapts a function to TaskContext.
type TaskContextFunc func(id TaskID) bool

func (f TaskContextFunc) Enabled(id TaskID) bool { return f(id) }

// AllEnabled enables every task.
var AllEnabled TaskContext = TaskContextFunc(func(TaskID) bool { return true })

type execConfig struct {
	tasks  TaskContext
	logger *slog.Logger
	after  func(id TaskID, skipped bool, elapsed time.Duration)
}

// ExecOption configures Execute
type ExecOption func(*execConfig)

// WithTaskContext sets which tasks are enabled. Disabled tasks keep their
// place in the graph but their action is skipped.
func WithTaskContext(tc TaskContext) ExecOption {
	return func(c *execConfig) { c.tasks = tc }
}

// WithLogger sets the logger for task progress.
func WithLogger(logger *slog.Logger) ExecOption {
	return func(c *execConfig) { c.logger = logger }
}

// WithAfterTask registers a callback invoked after every task that did not fail.
func WithAfterTask(fn func(id TaskID, skipped bool, elapsed time.Duration)) ExecOption {
	return func(c *execConfig) { c.after = fn }
}

// Execute runs the task actions in topological order against state. It stops
// at the first failure and returns a *TaskError naming the failing task.
// Cancellation of ctx is observed between tasks.
func (g *Graph[S]) Execute(ctx context.Context, state S, opts ...ExecOption) error {
	cfg := execConfig{tasks: AllEnabled, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	for _, i := range g.order {
		t := g.nodes[i]
		if err := ctx.Err(); err != nil {
			return &TaskError{ID: t.id, Err: err}
		}

		skipped := t.action == nil || !cfg.tasks.Enabled(t.id)
		start := time.Now()
		if !skipped {
			cfg.logger.Debug("running task", "task", t.id.String())
			if err := t.action(ctx, state); err != nil {
				cfg.logger.Error("task failed", "task", t.id.String(), "error", err)
				return &TaskError{ID: t.id, Err: err}
			}
		} else if t.action != nil {
			cfg.logger.Debug("task disabled", "task", t.id.String())
		}
		if cfg.after != nil {
			cfg.after(t.id, skipped, time.Since(start))
		}
	}
	return nil
}
