// Copyright 2026 The Reef Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reefpkg/reef/pkg/index"
	"github.com/reefpkg/reef/pkg/solver"
)

func rec(name, version string, depends ...string) *index.PackageRecord {
	r := &index.PackageRecord{
		Name:    name,
		Version: version,
		Build:   "h0",
		Depends: depends,
	}
	if err := r.Finalize(); err != nil {
		panic(err)
	}
	return r
}

type fakeCache struct {
	mu       sync.Mutex
	fetched  []string
	released []string
	failFor  string
}

func (c *fakeCache) Release(r *index.PackageRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = append(c.released, r.ID())
	return nil
}

func (c *fakeCache) EnsureExtracted(_ context.Context, r *index.PackageRecord) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failFor == r.Name {
		return "", fmt.Errorf("download of %s failed", r.Name)
	}
	c.fetched = append(c.fetched, r.ID())
	return "/cache/" + r.ID(), nil
}

// fakeEnv tracks the linked set and an op trace, and can be told to fail
// on the nth mutation.
type fakeEnv struct {
	linked map[string]string // name -> ID
	trace  []string

	failAt int // mutation index to fail at, -1 disables
	muts   int
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{linked: map[string]string{}, failAt: -1}
}

func (e *fakeEnv) snapshot() map[string]string {
	out := make(map[string]string, len(e.linked))
	for k, v := range e.linked {
		out[k] = v
	}
	return out
}

func (e *fakeEnv) mutate(desc string) error {
	if e.muts == e.failAt {
		e.muts++
		return errors.New("injected failure at " + desc)
	}
	e.muts++
	e.trace = append(e.trace, desc)
	return nil
}

func (e *fakeEnv) Link(_ context.Context, r *index.PackageRecord, payload string) error {
	if payload == "" {
		return fmt.Errorf("no payload for %s", r.ID())
	}
	if err := e.mutate("link " + r.ID()); err != nil {
		return err
	}
	e.linked[r.Name] = r.ID()
	return nil
}

func (e *fakeEnv) Unlink(_ context.Context, r *index.PackageRecord) error {
	if err := e.mutate("unlink " + r.ID()); err != nil {
		return err
	}
	if e.linked[r.Name] != r.ID() {
		return fmt.Errorf("%s is not linked", r.ID())
	}
	delete(e.linked, r.Name)
	return nil
}

func solution(records ...*index.PackageRecord) *solver.Solution {
	return &solver.Solution{Records: records}
}

func TestNewPlanDiff(t *testing.T) {
	libOld := rec("lib", "1.0")
	libNew := rec("lib", "2.0")
	app := rec("app", "1.0", "lib")
	gone := rec("gone", "1.0")
	keep := rec("keep", "1.0")

	plan := NewPlan(solution(libNew, app, keep), []*index.PackageRecord{libOld, gone, keep})

	var got []string
	for _, op := range plan.Ops {
		got = append(got, op.String())
	}
	require.Equal(t, []string{
		"supersede lib-1.0-h0_0 -> lib-2.0-h0_0",
		"link app-1.0-h0_0",
		"unlink gone-1.0-h0_0",
	}, got)
	require.Equal(t, []*index.PackageRecord{keep}, plan.Unchanged)
}

func TestNewPlanNoChanges(t *testing.T) {
	lib := rec("lib", "1.0")
	plan := NewPlan(solution(lib), []*index.PackageRecord{lib})
	require.True(t, plan.Empty())
	require.Equal(t, "nothing to do", plan.Summary())
}

func TestNewPlanSkipsVirtual(t *testing.T) {
	virt := rec("__unix", "5.15")
	virt.Virtual = true
	app := rec("app", "1.0", "__unix")
	plan := NewPlan(solution(virt, app), nil)
	require.Len(t, plan.Ops, 1)
	require.Equal(t, OpLink, plan.Ops[0].Kind)
	require.Equal(t, "app", plan.Ops[0].New.Name)
}

func TestNewPlanUnlinksDependentsFirst(t *testing.T) {
	lib := rec("lib", "1.0")
	app := rec("app", "1.0", "lib")
	plan := NewPlan(solution(), []*index.PackageRecord{lib, app})
	require.Len(t, plan.Ops, 2)
	require.Equal(t, "app", plan.Ops[0].Old.Name)
	require.Equal(t, "lib", plan.Ops[1].Old.Name)
}

func TestNewPlanUnlinksChainDependentsFirst(t *testing.T) {
	base := rec("base", "1.0")
	lib := rec("lib", "1.0", "base")
	app := rec("app", "1.0", "lib")

	// snapshot order is whatever history left behind, not dependency order
	plan := NewPlan(solution(), []*index.PackageRecord{lib, app, base})
	var got []string
	for _, op := range plan.Ops {
		require.Equal(t, OpUnlink, op.Kind)
		got = append(got, op.Old.Name)
	}
	require.Equal(t, []string{"app", "lib", "base"}, got)
}

func TestExecuteSuccess(t *testing.T) {
	libOld := rec("lib", "1.0")
	libNew := rec("lib", "2.0")
	app := rec("app", "1.0", "lib")
	gone := rec("gone", "1.0")

	env := newFakeEnv()
	env.linked["lib"] = libOld.ID()
	env.linked["gone"] = gone.ID()

	plan := NewPlan(solution(libNew, app), []*index.PackageRecord{libOld, gone})
	cache := &fakeCache{}
	receipt, err := NewExecutor(cache, env, nil).Execute(context.Background(), plan, "/env")
	require.NoError(t, err)

	require.Equal(t, map[string]string{
		"lib": libNew.ID(),
		"app": app.ID(),
	}, env.linked)
	require.Equal(t, []string{
		"unlink lib-1.0-h0_0",
		"link lib-2.0-h0_0",
		"link app-1.0-h0_0",
		"unlink gone-1.0-h0_0",
	}, env.trace)
	require.Len(t, receipt.Linked, 2)
	require.Len(t, receipt.Unlinked, 2)
	// only the outright removal is released, the superseded payload may
	// still be needed
	require.Equal(t, []string{gone.ID()}, cache.released)
}

func TestExecuteFetchFailureMutatesNothing(t *testing.T) {
	app := rec("app", "1.0")
	env := newFakeEnv()
	plan := NewPlan(solution(app), nil)

	_, err := NewExecutor(&fakeCache{failFor: "app"}, env, nil).Execute(context.Background(), plan, "/env")
	require.ErrorContains(t, err, "download of app failed")
	require.Empty(t, env.linked)
	require.Empty(t, env.trace)
}

// Inject a failure at every mutation index in turn and verify the
// environment always comes back to its starting state.
func TestExecuteRollbackAtEveryStep(t *testing.T) {
	libOld := rec("lib", "1.0")
	libNew := rec("lib", "2.0")
	app := rec("app", "1.0", "lib")
	gone := rec("gone", "1.0")
	installed := []*index.PackageRecord{libOld, gone}

	// count mutations on a clean run first
	probe := newFakeEnv()
	probe.linked["lib"] = libOld.ID()
	probe.linked["gone"] = gone.ID()
	plan := NewPlan(solution(libNew, app), installed)
	_, err := NewExecutor(&fakeCache{}, probe, nil).Execute(context.Background(), plan, "/env")
	require.NoError(t, err)
	total := len(probe.trace)
	require.Equal(t, 4, total)

	for failAt := 0; failAt < total; failAt++ {
		t.Run(fmt.Sprintf("fail_at_%d", failAt), func(t *testing.T) {
			env := newFakeEnv()
			env.linked["lib"] = libOld.ID()
			env.linked["gone"] = gone.ID()
			before := env.snapshot()
			env.failAt = failAt

			_, err := NewExecutor(&fakeCache{}, env, nil).Execute(context.Background(), plan, "/env")
			var execErr *ExecutionError
			require.ErrorAs(t, err, &execErr)
			require.True(t, execErr.RolledBack)
			require.Equal(t, before, env.snapshot())
		})
	}
}

func TestExecuteRoundTrip(t *testing.T) {
	lib := rec("lib", "1.0")
	app := rec("app", "1.0", "lib")

	env := newFakeEnv()
	cache := &fakeCache{}

	install := NewPlan(solution(lib, app), nil)
	_, err := NewExecutor(cache, env, nil).Execute(context.Background(), install, "/env")
	require.NoError(t, err)
	require.Len(t, env.linked, 2)

	remove := NewPlan(solution(), []*index.PackageRecord{lib, app})
	_, err = NewExecutor(cache, env, nil).Execute(context.Background(), remove, "/env")
	require.NoError(t, err)
	require.Empty(t, env.linked)
}

type recordingHooks struct {
	calls   []string
	failFor string
}

func (h *recordingHooks) PostLink(_ context.Context, r *index.PackageRecord, _ string) error {
	h.calls = append(h.calls, "post-link "+r.Name)
	if h.failFor == r.Name {
		return errors.New("hook failed")
	}
	return nil
}

func (h *recordingHooks) PreUnlink(_ context.Context, r *index.PackageRecord, _ string) error {
	h.calls = append(h.calls, "pre-unlink "+r.Name)
	return nil
}

func TestExecuteRunsHooks(t *testing.T) {
	lib := rec("lib", "1.0")
	gone := rec("gone", "1.0")

	env := newFakeEnv()
	env.linked["gone"] = gone.ID()
	hooks := &recordingHooks{}

	plan := NewPlan(solution(lib), []*index.PackageRecord{gone})
	_, err := NewExecutor(&fakeCache{}, env, hooks).Execute(context.Background(), plan, "/env")
	require.NoError(t, err)
	require.Equal(t, []string{"post-link lib", "pre-unlink gone"}, hooks.calls)
}

func TestExecuteHookFailureContinuesByDefault(t *testing.T) {
	lib := rec("lib", "1.0")
	app := rec("app", "1.0", "lib")

	env := newFakeEnv()
	hooks := &recordingHooks{failFor: "app"}

	plan := NewPlan(solution(lib, app), nil)
	_, err := NewExecutor(&fakeCache{}, env, hooks).Execute(context.Background(), plan, "/env")
	require.NoError(t, err)
	require.Len(t, env.linked, 2)
}

func TestExecuteRequiredHookFailureRollsBack(t *testing.T) {
	lib := rec("lib", "1.0")
	app := rec("app", "1.0", "lib")

	env := newFakeEnv()
	hooks := &recordingHooks{failFor: "app"}

	plan := NewPlan(solution(lib, app), nil)
	exec := NewExecutor(&fakeCache{}, env, hooks)
	exec.RequiredHooks = map[string]bool{"app": true}
	_, err := exec.Execute(context.Background(), plan, "/env")
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.True(t, execErr.RolledBack)
	// app was linked before its hook ran, so both links are undone
	require.Empty(t, env.linked)
}

func TestExecuteCancelledRollsBack(t *testing.T) {
	lib := rec("lib", "1.0")
	app := rec("app", "1.0", "lib")

	env := newFakeEnv()
	ctx, cancel := context.WithCancel(context.Background())

	// cancel after the first mutation via a hook
	hooks := &recordingHooks{}
	plan := NewPlan(solution(lib, app), nil)
	exec := NewExecutor(&fakeCache{}, env, cancelAfterFirst{hooks: hooks, cancel: cancel})
	_, err := exec.Execute(ctx, plan, "/env")
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.True(t, execErr.RolledBack)
	require.Empty(t, env.linked)
}

type cancelAfterFirst struct {
	hooks  *recordingHooks
	cancel context.CancelFunc
}

func (c cancelAfterFirst) PostLink(ctx context.Context, r *index.PackageRecord, prefix string) error {
	err := c.hooks.PostLink(ctx, r, prefix)
	c.cancel()
	return err
}

func (c cancelAfterFirst) PreUnlink(ctx context.Context, r *index.PackageRecord, prefix string) error {
	return c.hooks.PreUnlink(ctx, r, prefix)
}

func TestExecuteSupersedeRestoresOldOnLinkFailure(t *testing.T) {
	libOld := rec("lib", "1.0")
	libNew := rec("lib", "2.0")

	env := newFakeEnv()
	env.linked["lib"] = libOld.ID()
	// mutations: unlink old (0), link new (1) <- fail, restore old (2)
	env.failAt = 1

	plan := NewPlan(solution(libNew), []*index.PackageRecord{libOld})
	_, err := NewExecutor(&fakeCache{}, env, nil).Execute(context.Background(), plan, "/env")
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.True(t, execErr.RolledBack)
	require.Equal(t, map[string]string{"lib": libOld.ID()}, env.linked)
}

func TestPrefetchDeduplicates(t *testing.T) {
	lib := rec("lib", "1.0")
	env := newFakeEnv()
	cache := &fakeCache{}

	plan := NewPlan(solution(lib), nil)
	_, err := NewExecutor(cache, env, nil).Execute(context.Background(), plan, "/env")
	require.NoError(t, err)
	require.Equal(t, []string{lib.ID()}, cache.fetched)
}
