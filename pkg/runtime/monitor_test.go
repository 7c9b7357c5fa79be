package runtime

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReaper struct {
	mu     sync.Mutex
	exited map[int]types.ExitStatus
	reaped map[int]int
}

func newFakeReaper() *fakeReaper {
	return &fakeReaper{exited: make(map[int]types.ExitStatus), reaped: make(map[int]int)}
}

func (r *fakeReaper) exit(pid int, status types.ExitStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exited[pid] = status
}

func (r *fakeReaper) Reap(pid int) (types.ExitStatus, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.exited[pid]
	if ok {
		delete(r.exited, pid)
		r.reaped[pid]++
	}
	return status, ok, nil
}

func TestMonitorReportsExitOnce(t *testing.T) {
	reaper := newFakeReaper()
	m := NewMonitor(reaper, time.Hour)

	m.Watch("c1", 100)
	m.Watch("c2", 200)
	m.Poll()
	assert.Empty(t, m.Events())

	reaper.exit(100, types.ExitStatus{Code: 3})
	m.Poll()
	m.Poll()

	require.Len(t, m.Events(), 1)
	ev := <-m.Events()
	assert.Equal(t, "c1", ev.ID)
	assert.Equal(t, 100, ev.Pid)
	assert.Equal(t, 3, ev.Status.Code)
	assert.False(t, ev.Status.At.IsZero())
	assert.True(t, ev.Status.Crashed())

	_, watching := m.Watching("c1")
	assert.False(t, watching)
	pid, watching := m.Watching("c2")
	assert.True(t, watching)
	assert.Equal(t, 200, pid)
}

func TestMonitorMarksRequestedSignals(t *testing.T) {
	reaper := newFakeReaper()
	m := NewMonitor(reaper, time.Hour)

	m.Watch("c1", 100)
	m.MarkSignalled("c1")
	reaper.exit(100, types.ExitStatus{Signal: 15})
	m.Poll()

	ev := <-m.Events()
	assert.True(t, ev.Status.Requested)
	assert.False(t, ev.Status.Crashed())
}

func TestMonitorUnwatch(t *testing.T) {
	reaper := newFakeReaper()
	m := NewMonitor(reaper, time.Hour)

	m.Watch("c1", 100)
	m.Unwatch("c1")
	reaper.exit(100, types.ExitStatus{})
	m.Poll()
	assert.Empty(t, m.Events())

	// Still reaped, exactly once.
	m.Poll()
	reaper.mu.Lock()
	defer reaper.mu.Unlock()
	assert.Equal(t, 1, reaper.reaped[100])
}

func TestMonitorPollsInBackground(t *testing.T) {
	reaper := newFakeReaper()
	m := NewMonitor(reaper, 5*time.Millisecond)
	m.Start()
	defer m.Stop()

	m.Watch("c1", 100)
	reaper.exit(100, types.ExitStatus{Unknown: true})

	select {
	case ev := <-m.Events():
		assert.Equal(t, "c1", ev.ID)
		assert.True(t, ev.Status.Unknown)
	case <-time.After(2 * time.Second):
		t.Fatal("exit not reported")
	}
}
