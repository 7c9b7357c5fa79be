package manager

import (
	"context"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/runtime"
	"github.com/cuemby/burrow/pkg/types"
)

// Crash restarts are refused once a container has been restarted this many
// times within the window
const (
	maxCrashRestarts = 10
	crashWindow      = 5 * time.Minute
)

// watchExits forwards init process exits from the monitor into the
// registry and the work queue
func (m *Manager) watchExits() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.monitor.Events():
			m.recordExit(ev)
		case <-m.stopCh:
			return
		}
	}
}

// recordExit wakes a stop waiting for the exit and queues the handling of
// an exit nobody asked for
func (m *Manager) recordExit(ev runtime.ExitEvent) {
	m.mu.Lock()
	e, ok := m.containers[ev.ID]
	if !ok || e.ctr.Pid != ev.Pid || e.exitCh == nil || e.exit != nil {
		m.mu.Unlock()
		return
	}
	status := ev.Status
	e.exit = &status
	close(e.exitCh)
	m.mu.Unlock()

	id, pid := ev.ID, ev.Pid
	_, err := m.queue.SubmitWithCallback(id, func(ctx context.Context) error {
		return m.onExit(ctx, id, pid)
	}, func(err error) {
		if err != nil {
			m.logger.Error().Err(err).Str("container_id", id).Msg("Handling container exit failed")
		}
	})
	if err != nil {
		m.logger.Debug().Err(err).Str("container_id", id).Msg("Exit not queued")
	}
}

// onExit handles the unrequested end of a container's init process. It is a
// no-op when a stop already consumed the exit.
func (m *Manager) onExit(ctx context.Context, id string, pid int) error {
	e, err := m.lookup(id)
	if err != nil {
		return nil
	}
	if e.handled || e.ctr.Pid != pid || e.exit == nil {
		return nil
	}
	if e.ctr.State != types.StateRunning && e.ctr.State != types.StatePaused {
		return nil
	}
	e.handled = true
	status := *e.exit

	m.logger.Info().
		Str("container_id", id).
		Int("pid", pid).
		Int("exit_code", status.Code).
		Int("signal", status.Signal).
		Bool("unknown", status.Unknown).
		Msg("Container exited")

	m.finish(ctx, e, status)

	if m.shouldRestart(e, status) {
		metrics.CrashRestarts.Inc()
		return m.respawn(ctx, e, "restarted after crash")
	}
	return m.commit(e, finalState(status))
}

// shouldRestart applies the restart-on-crash policy and counts the restart
func (m *Manager) shouldRestart(e *entry, status types.ExitStatus) bool {
	if e.ctr.Config == nil || !e.ctr.Config.RestartOnCrash || !status.Crashed() {
		return false
	}

	now := time.Now()
	allowed := true
	m.update(e, func(c *types.Container) {
		if c.RestartedAt.IsZero() || now.Sub(c.RestartedAt) > crashWindow {
			c.RestartedAt = now
			c.Restarts = 0
		}
		if c.Restarts >= maxCrashRestarts {
			allowed = false
			return
		}
		c.Restarts++
	})

	if !allowed {
		m.logger.Warn().
			Str("container_id", e.ctr.ID).
			Int("restarts", maxCrashRestarts).
			Dur("window", crashWindow).
			Msg("Container crashed too often, not restarting")
	}
	return allowed
}
