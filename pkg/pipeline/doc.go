// Package pipeline runs packaging steps as a dependency-ordered task graph.
//
// Tasks are registered once on a Builder, wired with AddDependency and
// AddDependent, and validated by Build. The resulting Graph is immutable:
// it can be restricted to a sub-graph (for example the application-image
// tasks only) and executed in a deterministic topological order. Execution
// stops at the first failing task.
//
// Task identifiers live in one namespace tagged with a Scope, so tasks of the
// application image and of the installer package can depend on each other.
package pipeline
