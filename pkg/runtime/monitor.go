package runtime

import (
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Reaper collects the exit status of container init processes
type Reaper interface {
	// Reap reports whether pid has exited and, if so, how. It never blocks.
	Reap(pid int) (status types.ExitStatus, exited bool, err error)
}

// ExitEvent reports the end of a watched init process
type ExitEvent struct {
	ID     string
	Pid    int
	Status types.ExitStatus
}

type watch struct {
	pid       int
	signalled bool
}

// Monitor polls watched init processes from a single goroutine and reports
// each exit once on Events
type Monitor struct {
	reaper   Reaper
	interval time.Duration

	mu      sync.Mutex
	watched map[string]*watch
	orphans map[int]bool // reaped silently

	events   chan ExitEvent
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// NewMonitor creates a monitor polling every interval
func NewMonitor(reaper Reaper, interval time.Duration) *Monitor {
	return &Monitor{
		reaper:   reaper,
		interval: interval,
		watched:  make(map[string]*watch),
		orphans:  make(map[int]bool),
		events:   make(chan ExitEvent, 64),
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("monitor"),
	}
}

// Start begins polling
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop ends polling. Events is not closed.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Events delivers exits of watched processes
func (m *Monitor) Events() <-chan ExitEvent {
	return m.events
}

// Watch starts observing pid as the init process of container id,
// replacing any previous watch for id
func (m *Monitor) Watch(id string, pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched[id] = &watch{pid: pid}
}

// Unwatch stops reporting id. Its process is still reaped when it exits.
func (m *Monitor) Unwatch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watched[id]; ok {
		m.orphans[w.pid] = true
		delete(m.watched, id)
	}
}

// MarkSignalled records that the daemon asked id to terminate, so a
// signal death is not reported as a crash
func (m *Monitor) MarkSignalled(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watched[id]; ok {
		w.signalled = true
	}
}

// Watching reports the pid watched for id
func (m *Monitor) Watching(id string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watched[id]
	if !ok {
		return 0, false
	}
	return w.pid, true
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Poll()
		case <-m.stopCh:
			return
		}
	}
}

// Poll checks every watched process once and delivers the exits it finds
func (m *Monitor) Poll() {
	m.mu.Lock()
	snapshot := make(map[string]int, len(m.watched))
	for id, w := range m.watched {
		snapshot[id] = w.pid
	}
	var orphans []int
	for pid := range m.orphans {
		orphans = append(orphans, pid)
	}
	m.mu.Unlock()

	for _, pid := range orphans {
		if _, exited, err := m.reaper.Reap(pid); err != nil || exited {
			m.mu.Lock()
			delete(m.orphans, pid)
			m.mu.Unlock()
		}
	}

	for id, pid := range snapshot {
		status, exited, err := m.reaper.Reap(pid)
		if err != nil {
			m.logger.Warn().Err(err).Str("container_id", id).Int("pid", pid).Msg("Failed to check process")
			continue
		}
		if !exited {
			continue
		}

		m.mu.Lock()
		w, ok := m.watched[id]
		if !ok || w.pid != pid {
			m.mu.Unlock()
			continue
		}
		delete(m.watched, id)
		status.Requested = w.signalled
		m.mu.Unlock()

		if status.At.IsZero() {
			status.At = time.Now()
		}
		m.logger.Debug().
			Str("container_id", id).
			Int("pid", pid).
			Int("exit_code", status.Code).
			Int("signal", status.Signal).
			Bool("unknown", status.Unknown).
			Msg("Init process exited")

		select {
		case m.events <- ExitEvent{ID: id, Pid: pid, Status: status}:
		case <-m.stopCh:
			return
		}
	}
}
