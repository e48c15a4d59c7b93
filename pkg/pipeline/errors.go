package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph = errors.New("invalid task graph")
	ErrCycle        = errors.New("cycle detected")
	// ErrPackaging is matched by every task failure during execution.
	ErrPackaging = errors.New("packaging failed")
)

// GraphError wraps graph validation failures.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []TaskID) error {
	names := make([]string, 0, len(path))
	for _, id := range path {
		names = append(names, id.String())
	}
	msg := "cycle"
	if len(names) > 0 {
		msg = "cycle: " + strings.Join(names, " -> ")
	}
	return &GraphError{Kind: ErrCycle, Msg: msg}
}

// TaskError is the failure of one task's action
type TaskError struct {
	ID  TaskID
	Err error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s in task %s: %v", ErrPackaging, e.ID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Is makes every TaskError match ErrPackaging.
func (e *TaskError) Is(target error) bool { return target == ErrPackaging }
