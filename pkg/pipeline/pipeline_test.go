package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	ran []string
}

func record(name string) Action[*recorder] {
	return func(_ context.Context, r *recorder) error {
		r.ran = append(r.ran, name)
		return nil
	}
}

func fail(err error) Action[*recorder] {
	return func(context.Context, *recorder) error { return err }
}

var (
	setup    = AppImageTask("setup")
	copyApp  = AppImageTask("copy-app")
	runtime  = AppImageTask("runtime")
	sign     = AppImageTask("sign")
	image    = AppImageTask("image")
	scripts  = PackageTask("scripts")
	bundle   = PackageTask("bundle")
	finalize = PackageTask("finalize")
)

// buildSample wires a small image + package graph:
//
//	setup -> copy-app -> sign -> image -> bundle -> finalize
//	setup -> runtime  -> sign
//	scripts -> bundle
func buildSample(t *testing.T) *Graph[*recorder] {
	t.Helper()
	b := NewBuilder[*recorder]()
	b.Task(setup).Action(record("setup"))
	b.Task(copyApp).Action(record("copy-app")).AddDependency(setup)
	b.Task(runtime).Action(record("runtime")).AddDependency(setup).AddDependent(sign)
	b.Task(sign).Action(record("sign")).AddDependency(copyApp)
	b.Task(image).NoAction().AddDependency(sign)
	b.Task(scripts).Action(record("scripts"))
	b.Task(bundle).Action(record("bundle")).AddDependency(image, scripts)
	b.Task(finalize).Action(record("finalize")).AddDependency(bundle)
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func TestExecute_TopologicalOrder(t *testing.T) {
	g := buildSample(t)
	r := &recorder{}
	require.NoError(t, g.Execute(context.Background(), r))

	assert.Equal(t, []string{"setup", "copy-app", "runtime", "sign", "scripts", "bundle", "finalize"}, r.ran)
	assert.Equal(t, []TaskID{setup, copyApp, runtime, sign, image, scripts, bundle, finalize}, g.Tasks())
}

func TestExecute_DeterministicOrder(t *testing.T) {
	first := buildSample(t).Tasks()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, buildSample(t).Tasks())
	}
}

func TestExecute_DisabledTasksKeepPosition(t *testing.T) {
	g := buildSample(t)
	r := &recorder{}
	var skipped []TaskID
	err := g.Execute(context.Background(), r,
		WithTaskContext(TaskContextFunc(func(id TaskID) bool { return id != runtime && id != scripts })),
		WithAfterTask(func(id TaskID, s bool, _ time.Duration) {
			if s {
				skipped = append(skipped, id)
			}
		}))
	require.NoError(t, err)

	assert.Equal(t, []string{"setup", "copy-app", "sign", "bundle", "finalize"}, r.ran)
	assert.Equal(t, []TaskID{runtime, image, scripts}, skipped)
}

func TestExecute_FailFast(t *testing.T) {
	boom := errors.New("boom")
	b := NewBuilder[*recorder]()
	b.Task(setup).Action(record("setup"))
	b.Task(copyApp).Action(fail(boom)).AddDependency(setup)
	b.Task(runtime).Action(record("runtime")).AddDependency(setup)
	b.Task(sign).Action(record("sign")).AddDependency(copyApp, runtime)
	g, err := b.Build()
	require.NoError(t, err)

	r := &recorder{}
	err = g.Execute(context.Background(), r)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPackaging)
	assert.ErrorIs(t, err, boom)

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, copyApp, taskErr.ID)
	assert.Contains(t, err.Error(), "app-image/copy-app")

	// runtime is independent of copy-app but registered later, so it never runs
	assert.Equal(t, []string{"setup"}, r.ran)
}

func TestExecute_CancelledContext(t *testing.T) {
	g := buildSample(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &recorder{}
	err := g.Execute(ctx, r)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.ran)
}

func TestBuild_Cycle(t *testing.T) {
	b := NewBuilder[*recorder]()
	b.Task(setup).Action(record("setup")).AddDependency(sign)
	b.Task(copyApp).Action(record("copy-app")).AddDependency(setup)
	b.Task(sign).Action(record("sign")).AddDependency(copyApp)
	b.Task(image).Action(record("image")).AddDependency(sign)

	_, err := b.Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycle)
	assert.Contains(t, err.Error(), "app-image/setup -> app-image/copy-app -> app-image/sign -> app-image/setup")
}

func TestBuild_SelfLoop(t *testing.T) {
	b := NewBuilder[*recorder]()
	b.Task(setup).Action(record("setup")).AddDependency(setup)
	_, err := b.Build()
	assert.ErrorIs(t, err, ErrCycle)
}

func TestBuild_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder[*recorder])
	}{
		{"empty", func(*Builder[*recorder]) {}},
		{"duplicate task", func(b *Builder[*recorder]) {
			b.Task(setup).Action(record("a"))
			b.Task(setup).Action(record("b"))
		}},
		{"unknown dependency", func(b *Builder[*recorder]) {
			b.Task(setup).Action(record("a")).AddDependency(PackageTask("missing"))
		}},
		{"unknown dependent", func(b *Builder[*recorder]) {
			b.Task(setup).Action(record("a")).AddDependent(PackageTask("missing"))
		}},
		{"no action", func(b *Builder[*recorder]) {
			b.Task(setup)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder[*recorder]()
			tt.build(b)
			_, err := b.Build()
			assert.ErrorIs(t, err, ErrInvalidGraph)
		})
	}
}

func TestBuild_SameScopeNamesAreDistinct(t *testing.T) {
	b := NewBuilder[*recorder]()
	b.Task(AppImageTask("sign")).Action(record("image-sign"))
	b.Task(PackageTask("sign")).Action(record("package-sign")).AddDependency(AppImageTask("sign"))
	g, err := b.Build()
	require.NoError(t, err)

	r := &recorder{}
	require.NoError(t, g.Execute(context.Background(), r))
	assert.Equal(t, []string{"image-sign", "package-sign"}, r.ran)
}

func TestRestrict_AppImageOnly(t *testing.T) {
	g := buildSample(t)
	img, err := g.Restrict(func(id TaskID) bool { return id.Scope == ScopeAppImage })
	require.NoError(t, err)

	assert.Equal(t, []TaskID{setup, copyApp, runtime, sign, image}, img.Tasks())
	assert.False(t, img.Has(bundle))

	r := &recorder{}
	require.NoError(t, img.Execute(context.Background(), r))
	assert.Equal(t, []string{"setup", "copy-app", "runtime", "sign"}, r.ran)
}

func TestRestrict_KeepsTransitiveOrdering(t *testing.T) {
	g := buildSample(t)
	sub, err := g.Restrict(func(id TaskID) bool { return id == setup || id == finalize })
	require.NoError(t, err)

	assert.Equal(t, []TaskID{setup}, sub.Dependencies(finalize))
	assert.Equal(t, []TaskID{setup, finalize}, sub.Tasks())
}

func TestGraphQueries(t *testing.T) {
	g := buildSample(t)

	assert.Equal(t, []TaskID{copyApp, runtime}, g.Dependencies(sign))
	assert.Equal(t, []TaskID{sign}, g.Dependents(runtime))
	assert.Equal(t, []TaskID{setup, copyApp, runtime, sign, image, scripts}, g.Ancestors(bundle))
	assert.Equal(t, []TaskID{sign, image, bundle, finalize}, g.Descendants(runtime))
	assert.Nil(t, g.Descendants(PackageTask("missing")))
}
