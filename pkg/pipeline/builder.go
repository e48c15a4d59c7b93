package pipeline

type edge struct {
	from, to TaskID
}

// Builder collects tasks and edges. Errors are reported by Build.
type Builder[S any] struct {
	tasks map[TaskID]*task[S]
	order []TaskID
	edges []edge
	errs  []error
}

// NewBuilder returns an empty Builder.
func NewBuilder[S any]() *Builder[S] {
	return &Builder[S]{tasks: make(map[TaskID]*task[S])}
}

// TaskBuilder configures one registered task
type TaskBuilder[S any] struct {
	b *Builder[S]
	t *task[S]
}

// Task registers id. Registering the same id twice makes Build fail.
func (b *Builder[S]) Task(id TaskID) *TaskBuilder[S] {
	if _, exists := b.tasks[id]; exists {
		b.errs = append(b.errs, invalidf("duplicate task: %s", id))
		return &TaskBuilder[S]{b: b, t: &task[S]{id: id}}
	}
	t := &task[S]{id: id, index: len(b.order)}
	b.tasks[id] = t
	b.order = append(b.order, id)
	return &TaskBuilder[S]{b: b, t: t}
}

// Action sets the function run for the task.
func (tb *TaskBuilder[S]) Action(fn Action[S]) *TaskBuilder[S] {
	tb.t.action = fn
	tb.t.noAction = false
	return tb
}

// NoAction declares the task a synchronization point without an action.
func (tb *TaskBuilder[S]) NoAction() *TaskBuilder[S] {
	tb.t.action = nil
	tb.t.noAction = true
	return tb
}

// AddDependency makes the task run after deps.
func (tb *TaskBuilder[S]) AddDependency(deps ...TaskID) *TaskBuilder[S] {
	for _, dep := range deps {
		tb.b.edges = append(tb.b.edges, edge{from: dep, to: tb.t.id})
	}
	return tb
}

// AddDependent makes dependents run after the task.
func (tb *TaskBuilder[S]) AddDependent(dependents ...TaskID) *TaskBuilder[S] {
	for _, dep := range dependents {
		tb.b.edges = append(tb.b.edges, edge{from: tb.t.id, to: dep})
	}
	return tb
}

// Build validates the registered tasks and returns the immutable Graph.
//
// Build rejects:
//   - duplicate task registrations
//   - tasks without an action that were not declared NoAction
//   - edges referencing unregistered tasks
//   - self-loops and any other cycle
func (b *Builder[S]) Build() (*Graph[S], error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if len(b.order) == 0 {
		return nil, invalidf("no tasks")
	}

	nodes := make([]*task[S], len(b.order))
	for i, id := range b.order {
		t := b.tasks[id]
		if t.action == nil && !t.noAction {
			return nil, invalidf("task %s has no action", id)
		}
		nodes[i] = &task[S]{id: t.id, action: t.action, noAction: t.noAction, index: i}
	}

	adj := make([][]int, len(nodes))
	seen := make(map[[2]int]bool, len(b.edges))
	for _, e := range b.edges {
		from, okFrom := b.tasks[e.from]
		to, okTo := b.tasks[e.to]
		if !okFrom {
			return nil, invalidf("edge references unknown task: %s -> %s", e.from, e.to)
		}
		if !okTo {
			return nil, invalidf("edge references unknown task: %s -> %s", e.from, e.to)
		}
		if from.index == to.index {
			return nil, cycleError([]TaskID{e.from, e.to})
		}
		pair := [2]int{from.index, to.index}
		if seen[pair] {
			continue
		}
		seen[pair] = true
		adj[from.index] = append(adj[from.index], to.index)
	}

	return newGraph(nodes, adj)
}
