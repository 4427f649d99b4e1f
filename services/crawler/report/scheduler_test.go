package report

import (
	"context"
	"sync"
	"testing"

	"github.com/AleutianAI/hypickle/services/crawler/graph"
	"github.com/AleutianAI/hypickle/services/hypixel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type recordingSink struct {
	mu  sync.Mutex
	cps []Checkpoint
}

func (r *recordingSink) Checkpoint(_ context.Context, cp Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cps = append(r.cps, cp)
	return nil
}

func (r *recordingSink) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.cps))
	for i, cp := range r.cps {
		out[i] = cp.Kind
	}
	return out
}

func TestScheduler_RescanCatchesLateLogins(t *testing.T) {
	root, early, late := pid(1), pid(2), pid(3)
	api := newFakeAPI()
	api.profile(root, 0)
	api.visible(early, 6, true, true)
	// Logged out in the baseline but online by the time of the re-scan.
	api.visible(late, 3, false, true)
	api.befriend(root, edge(late, 100), edge(early, 200))

	run := newTestRun(t, api)
	sink := &recordingSink{}
	sched := NewScheduler(
		NewBuilder(run, Options{SortKey: SortFKDR}),
		SchedulerConfig{CheckpointInitial: 1, RecheckRate: rate.Inf, MaxPasses: 1},
		sink,
	)

	entry, err := sched.Run(context.Background(), newRoot(t, root, graph.DefaultChain(false, true, false)))
	require.NoError(t, err)

	assert.Equal(t, []string{KindRescan, KindPass}, sink.kinds())
	assert.Len(t, sink.cps[0].Root.Friends, 1)
	assert.Equal(t, 1, sink.cps[0].Visited)

	require.Len(t, entry.Friends, 2)
	assert.Equal(t, early, entry.Friends[0].UUID, "sorted by fkdr")
	assert.Equal(t, late, entry.Friends[1].UUID)
	assert.Equal(t, 2, sink.cps[1].Total)
}

func TestScheduler_PassesReplaceTheList(t *testing.T) {
	root, f1, f2 := pid(1), pid(2), pid(3)
	api := newFakeAPI()
	api.profile(root, 0)
	api.profile(f1, 1)
	api.profile(f2, 2)
	api.befriend(root, edge(f1, 100), edge(f2, 200))

	sink := &recordingSink{}
	sched := NewScheduler(
		NewBuilder(newTestRun(t, api), Options{}),
		SchedulerConfig{RecheckRate: rate.Inf, MaxPasses: 3},
		sink,
	)

	entry, err := sched.Run(context.Background(), newRoot(t, root, graph.DefaultChain(false, false, false)))
	require.NoError(t, err)

	assert.Equal(t, []string{KindPass, KindPass, KindPass}, sink.kinds())
	for i, cp := range sink.cps {
		assert.Equal(t, i+1, cp.Pass)
		assert.Len(t, cp.Root.Friends, 2)
	}
	assert.Len(t, entry.Friends, 2)
	assert.NoError(t, entry.CheckUnique())
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	root, f1 := pid(1), pid(2)
	api := newFakeAPI()
	api.profile(root, 0)
	api.profile(f1, 1)
	api.befriend(root, edge(f1, 100))

	ctx, cancel := context.WithCancel(context.Background())
	sink := CheckpointerFunc(func(context.Context, Checkpoint) error {
		cancel()
		return nil
	})
	sched := NewScheduler(NewBuilder(newTestRun(t, api), Options{}), SchedulerConfig{RecheckRate: rate.Inf}, sink)

	entry, err := sched.Run(ctx, newRoot(t, root, graph.DefaultChain(false, false, false)))
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, entry.Friends, 1, "the last completed pass is returned")
}

func TestScheduler_RootNotFound(t *testing.T) {
	sched := NewScheduler(NewBuilder(newTestRun(t, newFakeAPI()), Options{}), SchedulerConfig{MaxPasses: 1})

	_, err := sched.Run(context.Background(), newRoot(t, pid(9), graph.DefaultChain(false, false, false)))
	assert.Error(t, err)
}

func TestScheduler_PassReconfirmsBeforeFinishing(t *testing.T) {
	root, first, second := pid(1), pid(2), pid(3)
	api := newFakeAPI()
	api.profile(root, 0)
	api.visible(first, 1, true, true)
	api.visible(second, 2, true, true)
	api.befriend(root, edge(second, 100), edge(first, 200))
	// first logs off while second is being visited.
	api.onRequest = func(kind hypixel.Resource, target string) {
		if kind == hypixel.ResourceStatus && target == second {
			api.online[first] = false
		}
	}

	sink := &recordingSink{}
	sched := NewScheduler(
		NewBuilder(newTestRun(t, api), Options{}),
		SchedulerConfig{RecheckRate: rate.Inf, MaxPasses: 1},
		sink,
	)

	entry, err := sched.Run(context.Background(), newRoot(t, root, graph.DefaultChain(false, true, false)))
	require.NoError(t, err)

	require.Len(t, entry.Friends, 1)
	assert.Equal(t, second, entry.Friends[0].UUID)
	require.Len(t, sink.cps, 1)
	assert.Len(t, sink.cps[0].Root.Friends, 1)
	assert.Equal(t, 2, api.count(hypixel.ResourceStatus, first))
}

func TestScheduler_RejectsNonRoot(t *testing.T) {
	spec := graph.DefaultChain(false, false, false)
	child, _ := spec.Child()
	api := newFakeAPI()
	sink := &recordingSink{}
	sched := NewScheduler(NewBuilder(newTestRun(t, api), Options{}), SchedulerConfig{MaxPasses: 1}, sink)

	_, err := sched.Run(context.Background(), graph.NewPlayer(pid(1), graph.FromMillis(1), child))
	assert.ErrorIs(t, err, graph.ErrInvariant)
	assert.Empty(t, api.calls, "nothing is fetched for a rejected root")
	assert.Empty(t, sink.cps)
}
