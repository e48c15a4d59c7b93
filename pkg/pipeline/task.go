package pipeline

import "context"

// Scope tags a task as part of the application image or of the package
type Scope int

const (
	ScopeAppImage Scope = iota
	ScopePackage
)

func (s Scope) String() string {
	if s == ScopePackage {
		return "package"
	}
	return "app-image"
}

// TaskID identifies a task
type TaskID struct {
	Scope Scope
	Name  string
}

// AppImageTask returns the ID of an application-image task.
func AppImageTask(name string) TaskID { return TaskID{Scope: ScopeAppImage, Name: name} }

// PackageTask returns the ID of a package task.
func PackageTask(name string) TaskID { return TaskID{Scope: ScopePackage, Name: name} }

func (id TaskID) String() string { return id.Scope.String() + "/" + id.Name }

// Action performs a task against the shared build state.
type Action[S any] func(ctx context.Context, state S) error

type task[S any] struct {
	id       TaskID
	action   Action[S]
	noAction bool
	index    int
}
