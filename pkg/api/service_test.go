package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLifecycle records calls and serves a fixed registry
type fakeLifecycle struct {
	mu         sync.Mutex
	calls      []string
	containers []*types.Container
	err        error
	broker     *events.Broker
}

func (f *fakeLifecycle) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeLifecycle) CreateAndStart(ctx context.Context, id, bundle string, cfg *types.ContainerConfig) error {
	return f.record("create " + id + " " + bundle)
}

func (f *fakeLifecycle) Stop(ctx context.Context, id string, withPrejudice bool) error {
	if withPrejudice {
		return f.record("kill " + id)
	}
	return f.record("stop " + id)
}

func (f *fakeLifecycle) Pause(ctx context.Context, id string) error   { return f.record("pause " + id) }
func (f *fakeLifecycle) Resume(ctx context.Context, id string) error  { return f.record("resume " + id) }
func (f *fakeLifecycle) Restart(ctx context.Context, id string) error { return f.record("restart " + id) }
func (f *fakeLifecycle) Remove(ctx context.Context, id string) error  { return f.record("remove " + id) }

func (f *fakeLifecycle) StateOf(id string) (types.State, error) {
	for _, c := range f.containers {
		if c.ID == id {
			return c.State, nil
		}
	}
	return "", types.ErrNotFound
}

func (f *fakeLifecycle) StatsOf(ctx context.Context, id string) (*types.Stats, error) {
	st, err := f.StateOf(id)
	if err != nil {
		return nil, err
	}
	return &types.Stats{ID: id, State: st, Pids: 3}, nil
}

func (f *fakeLifecycle) List() []*types.Container {
	return f.containers
}

func (f *fakeLifecycle) Subscribe() events.Subscriber {
	return f.broker.Subscribe()
}

func (f *fakeLifecycle) Unsubscribe(sub events.Subscriber) {
	f.broker.Unsubscribe(sub)
}

func newFakeLifecycle(t *testing.T) *fakeLifecycle {
	t.Helper()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	return &fakeLifecycle{
		broker: broker,
		containers: []*types.Container{
			{ID: "a", Descriptor: 1, State: types.StateRunning, Pid: 1001},
			{ID: "b", Descriptor: 2, State: types.StateStopped},
		},
	}
}

func TestServiceDelegates(t *testing.T) {
	lc := newFakeLifecycle(t)
	svc := NewService(lc)
	ctx := context.Background()

	require.NoError(t, svc.StartContainerFromBundle(ctx, "a", "/bundles/a", nil))
	require.NoError(t, svc.StopContainer(ctx, "a", false))
	require.NoError(t, svc.StopContainer(ctx, "a", true))
	require.NoError(t, svc.PauseContainer(ctx, "a"))
	require.NoError(t, svc.ResumeContainer(ctx, "a"))
	require.NoError(t, svc.RestartContainer(ctx, "a"))
	require.NoError(t, svc.RemoveContainer(ctx, "b"))

	assert.Equal(t, []string{
		"create a /bundles/a",
		"stop a",
		"kill a",
		"pause a",
		"resume a",
		"restart a",
		"remove b",
	}, lc.calls)

	st, err := svc.StateOfContainer("a")
	require.NoError(t, err)
	assert.Equal(t, types.StateRunning, st)

	_, err = svc.StateOfContainer("zz")
	assert.ErrorIs(t, err, types.ErrNotFound)

	stats, err := svc.StatsOfContainer(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.Pids)

	assert.Len(t, svc.ListContainers(), 2)
}

func TestServicePassesErrorKinds(t *testing.T) {
	lc := newFakeLifecycle(t)
	lc.err = types.StateError("pause", "b", types.StateStopped)
	svc := NewService(lc)

	err := svc.PauseContainer(context.Background(), "b")
	assert.ErrorIs(t, err, types.ErrInvalidState)
}

func TestStateChanges(t *testing.T) {
	lc := newFakeLifecycle(t)
	svc := NewService(lc)

	ctx, cancel := context.WithCancel(context.Background())
	changes := svc.StateChanges(ctx)

	require.Eventually(t, func() bool {
		return lc.broker.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	lc.broker.Publish(&events.Event{Type: events.EventContainerCreated, ContainerID: "a"})
	lc.broker.PublishStateChange(types.StateChangeEvent{ID: "a", OldState: "", NewState: types.StateStarting})
	lc.broker.PublishStateChange(types.StateChangeEvent{ID: "a", OldState: types.StateStarting, NewState: types.StateRunning})

	var got []types.StateChangeEvent
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case ev := <-changes:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("expected 2 state changes, got %d", len(got))
		}
	}
	assert.Equal(t, types.StateStarting, got[0].NewState)
	assert.Equal(t, types.StateRunning, got[1].NewState)
	assert.Equal(t, types.StateStarting, got[1].OldState)

	cancel()
	for range changes {
	}
	assert.Equal(t, 0, lc.broker.SubscriberCount())
}
