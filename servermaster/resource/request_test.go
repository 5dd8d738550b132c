package resource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidalflow/tidalflow/model"
	"github.com/tidalflow/tidalflow/pkg/autoid"
	"github.com/tidalflow/tidalflow/pkg/clock"
	derrors "github.com/tidalflow/tidalflow/pkg/errors"
)

func newTestHandler(
	registry *Registry, deployment Deployment, profiles []model.ResourceProfile,
) *resourceRequestHandler {
	return &resourceRequestHandler{
		jobID:         1,
		traceID:       "test-request",
		profiles:      profiles,
		registry:      registry,
		deployment:    deployment,
		slotIDs:       autoid.NewSlotIDAllocator(1),
		clk:           clock.New(),
		retryInterval: 5 * time.Millisecond,
		closeCh:       make(chan struct{}),
	}
}

func cpus(units ...model.RescUnit) []model.ResourceProfile {
	profiles := make([]model.ResourceProfile, 0, len(units))
	for _, u := range units {
		profiles = append(profiles, model.ResourceProfile{CPU: u})
	}
	return profiles
}

func TestFirstFitIsDeterministic(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Upsert(testWorker("worker-b", 8))
	registry.Upsert(testWorker("worker-a", 8))

	h := newTestHandler(registry, ClusterDeployment{}, cpus(2, 2))
	slots, err := h.run(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 2)
	// Both requests fit the first worker in address order.
	require.Equal(t, model.Address("worker-a"), slots[0].Worker)
	require.Equal(t, model.Address("worker-a"), slots[1].Worker)
	require.NotEqual(t, slots[0].ID, slots[1].ID)
	require.Equal(t, model.JobID(1), slots[0].JobID)
}

func TestMatchSpillsOverWhenFirstWorkerFull(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Upsert(testWorker("worker-a", 4))
	registry.Upsert(testWorker("worker-b", 4))

	h := newTestHandler(registry, ClusterDeployment{}, cpus(3, 3))
	slots, err := h.run(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.Address("worker-a"), slots[0].Worker)
	require.Equal(t, model.Address("worker-b"), slots[1].Worker)

	// Commit is visible in the registry and capacity is respected.
	for _, addr := range []model.Address{"worker-a", "worker-b"} {
		view, ok := registry.Get(addr)
		require.True(t, ok)
		require.Len(t, view.Profile.Assigned, 1)
		require.GreaterOrEqual(t, view.Profile.Residual().CPU, model.RescUnit(0))
	}
}

func TestAllOrNothingOnCapacityFailure(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Upsert(testWorker("worker-a", 4))

	h := newTestHandler(registry, ClusterDeployment{}, cpus(3, 3))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	slots, err := h.run(ctx)
	require.Nil(t, slots)
	require.True(t, derrors.ErrClusterResourceNotEnough.Equal(err))

	// No partial assignment may ever be committed.
	view, ok := registry.Get("worker-a")
	require.True(t, ok)
	require.Len(t, view.Profile.Assigned, 0)
}

func TestMatchRetriesUntilCapacityAppears(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	h := newTestHandler(registry, ClusterDeployment{}, cpus(2))

	var wg sync.WaitGroup
	wg.Add(1)
	var slots []*model.SlotProfile
	var err error
	go func() {
		defer wg.Done()
		slots, err = h.run(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	registry.Upsert(testWorker("worker-a", 4))
	wg.Wait()

	require.NoError(t, err)
	require.Len(t, slots, 1)
	require.Equal(t, model.Address("worker-a"), slots[0].Worker)
}

func TestDynamicDeploymentReceivesUnmetProfiles(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Upsert(testWorker("worker-a", 2))

	var mu sync.Mutex
	var observed []model.ResourceProfile
	deployment := DynamicDeployment{
		Finder: func(_ context.Context, unmet []model.ResourceProfile) {
			mu.Lock()
			defer mu.Unlock()
			observed = append(observed, unmet...)
		},
	}

	h := newTestHandler(registry, deployment, cpus(2, 5))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := h.run(ctx)
	// With an acquisition path available, exhaustion is the caller's
	// cancellation, not a capacity verdict.
	require.False(t, derrors.ErrClusterResourceNotEnough.Equal(err))
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, observed)
	require.Equal(t, model.RescUnit(5), observed[0].CPU)
}

func TestRequestHonorsLabels(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	tagged := testWorker("worker-a", 8)
	tagged.Attributes = map[string]string{"zone": "z1"}
	registry.Upsert(tagged)
	registry.Upsert(testWorker("worker-b", 8))

	profiles := []model.ResourceProfile{
		{CPU: 2, Labels: map[string]string{"zone": "z1"}},
	}
	h := newTestHandler(registry, ClusterDeployment{}, profiles)
	slots, err := h.run(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.Address("worker-a"), slots[0].Worker)

	// No worker carries the label: the request cannot be satisfied.
	profiles = []model.ResourceProfile{
		{CPU: 2, Labels: map[string]string{"zone": "z2"}},
	}
	h = newTestHandler(registry, ClusterDeployment{}, profiles)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = h.run(ctx)
	require.True(t, derrors.ErrClusterResourceNotEnough.Equal(err))
}

func TestCommitConflictRollsBackSiblingGroups(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Upsert(testWorker("worker-a", 4))
	registry.Upsert(testWorker("worker-b", 4))

	h := newTestHandler(registry, ClusterDeployment{}, cpus(4, 4))

	views := registry.Snapshot()
	groups := map[int][]*model.SlotProfile{}
	for i, view := range views {
		groups[i] = []*model.SlotProfile{{
			ID:       h.slotIDs.AllocID(),
			JobID:    h.jobID,
			Worker:   view.Profile.Address,
			Resource: model.ResourceProfile{CPU: 4},
		}}
	}

	// A heartbeat bumps worker-b's version between snapshot and
	// commit; worker-a's already-committed group must be rolled back.
	registry.Upsert(testWorker("worker-b", 4))
	require.False(t, h.commit(views, groups))

	for _, addr := range []model.Address{"worker-a", "worker-b"} {
		view, ok := registry.Get(addr)
		require.True(t, ok)
		require.Len(t, view.Profile.Assigned, 0)
	}
}

func TestEmptyRequestResolvesImmediately(t *testing.T) {
	t.Parallel()

	h := newTestHandler(NewRegistry(), ClusterDeployment{}, nil)
	slots, err := h.run(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 0)
}
