package manager

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/plugin"
	"github.com/cuemby/burrow/pkg/runtime"
	"github.com/cuemby/burrow/pkg/types"
)

// spawn creates and starts a new instance of e from its original config
// document, running the hooks of every setup stage around the runtime
// calls. On failure everything it did is undone: applied hooks in reverse,
// the runtime container, the private bundle.
func (m *Manager) spawn(ctx context.Context, e *entry) (err error) {
	id := e.ctr.ID
	logger := m.logger.With().Str("container_id", id).Logger()

	spec, err := runtime.CloneSpec(e.origSpec)
	if err != nil {
		return fmt.Errorf("copy config of %s: %v: %w", id, err, types.ErrInvalidBundle)
	}
	hc := &plugin.HookContext{
		ID:         id,
		BundlePath: e.ctr.BundlePath,
		Spec:       spec,
		Config:     e.ctr.Config,
	}

	var applied []types.AppliedHook
	created := false
	defer func() {
		if err == nil {
			return
		}
		logger.Warn().Err(err).Int("applied_hooks", len(applied)).Msg("Container creation failed, rolling back")
		rctx := context.WithoutCancel(ctx)
		m.plugins.Unwind(rctx, hc, applied)
		if created {
			m.destroy(rctx, id)
		}
		if rerr := runtime.RemovePrivateBundle(m.cfg.DataDir, id); rerr != nil {
			logger.Warn().Err(rerr).Msg("Failed to remove private bundle")
		}
		m.update(e, func(c *types.Container) {
			c.Pid = 0
			c.Network = nil
			c.Applied = nil
		})
	}()

	run := func(stage types.Stage) error {
		got, err := m.plugins.RunStage(ctx, stage, hc)
		applied = append(applied, got...)
		return err
	}

	if err = run(types.StagePreCreation); err != nil {
		return err
	}

	bundleDir, err := runtime.WritePrivateBundle(m.cfg.DataDir, id, hc.Spec)
	if err != nil {
		return fmt.Errorf("%v: %w", err, types.ErrRuntimeSpawn)
	}

	pid, err := m.runtime.Create(ctx, id, bundleDir, runtime.CreateOptions{Stdio: hc.Stdio})
	if err != nil {
		return err
	}
	created = true
	hc.Pid = pid

	m.mu.Lock()
	e.ctr.Pid = pid
	e.exitCh = make(chan struct{})
	e.exit = nil
	e.handled = false
	m.mu.Unlock()
	m.monitor.Watch(id, pid)

	if err = run(types.StageCreateRuntime); err != nil {
		return err
	}
	if err = run(types.StageCreateContainer); err != nil {
		return err
	}
	if err = m.runtime.Start(ctx, id); err != nil {
		return err
	}
	if err = run(types.StagePostStart); err != nil {
		return err
	}

	e.hc = hc
	e.spec = hc.Spec
	m.update(e, func(c *types.Container) {
		c.Network = hc.Network.Clone()
		c.Applied = applied
	})

	m.broker.Publish(&events.Event{
		Type:        events.EventContainerCreated,
		ContainerID: id,
		Message:     "container process spawned",
		Metadata: map[string]string{
			"bundle": e.ctr.BundlePath,
			"pid":    strconv.Itoa(pid),
		},
	})
	logger.Info().Int("pid", pid).Int("hooks", len(applied)).Msg("Container started")
	return nil
}

// destroy removes a runtime container that never made it to Running
func (m *Manager) destroy(ctx context.Context, id string) {
	if err := m.runtime.Kill(ctx, id, syscall.SIGKILL, true); err != nil && !errors.Is(err, types.ErrNotFound) {
		m.logger.Debug().Err(err).Str("container_id", id).Msg("Kill during cleanup failed")
	}
	if err := m.runtime.Delete(ctx, id, true); err != nil && !errors.Is(err, types.ErrNotFound) {
		m.logger.Warn().Err(err).Str("container_id", id).Msg("Failed to delete runtime container")
	}
	m.monitor.Unwatch(id)
}

// halt signals the init process of e and waits for its exit. A graceful
// halt escalates to SIGKILL after the stop timeout. If even that is not
// observed the exit is reported as unknown.
func (m *Manager) halt(ctx context.Context, e *entry, force, paused bool) types.ExitStatus {
	id := e.ctr.ID
	logger := m.logger.With().Str("container_id", id).Int("pid", e.ctr.Pid).Logger()
	timeout := m.stopTimeout(e)

	m.monitor.MarkSignalled(id)
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	if err := m.runtime.Kill(ctx, id, sig, force); err != nil && !errors.Is(err, types.ErrNotFound) {
		logger.Warn().Err(err).Str("signal", sig.String()).Msg("Failed to signal container")
	}
	if paused {
		// Frozen processes only act on the kill once thawed.
		if err := m.runtime.Resume(ctx, id); err != nil {
			logger.Debug().Err(err).Msg("Resume after kill failed")
		}
	}

	if !waitExit(e, timeout) {
		if !force {
			logger.Warn().Dur("timeout", timeout).Msg("Container ignored SIGTERM, killing")
			if err := m.runtime.Kill(ctx, id, syscall.SIGKILL, true); err != nil && !errors.Is(err, types.ErrNotFound) {
				logger.Warn().Err(err).Msg("Failed to kill container")
			}
		}
		if !waitExit(e, timeout) {
			logger.Error().Msg("Container exit not observed")
			e.handled = true
			return types.ExitStatus{Unknown: true, Requested: true, At: time.Now()}
		}
	}

	e.handled = true
	status := *e.exit
	status.Requested = true
	return status
}

func waitExit(e *entry, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-e.exitCh:
		return true
	case <-t.C:
		return false
	}
}

// finish releases what the instance held once its init process is gone:
// post-halt hooks (network), the runtime container, post-stop hooks, the
// private bundle. Failures are logged; every step is attempted.
func (m *Manager) finish(ctx context.Context, e *entry, status types.ExitStatus) {
	id := e.ctr.ID
	pid := e.ctr.Pid
	logger := m.logger.With().Str("container_id", id).Logger()

	hc := e.hc
	if hc == nil {
		hc = &plugin.HookContext{ID: id, BundlePath: e.ctr.BundlePath, Config: e.ctr.Config}
	}
	hc.Exit = &status

	if _, err := m.plugins.RunStage(ctx, types.StagePostHalt, hc); err != nil {
		logger.Warn().Err(err).Msg("Post-halt hooks failed")
	}
	m.monitor.Unwatch(id)
	if err := m.runtime.Delete(ctx, id, true); err != nil && !errors.Is(err, types.ErrNotFound) {
		logger.Warn().Err(err).Msg("Failed to delete runtime container")
	}
	if _, err := m.plugins.RunStage(ctx, types.StagePostStop, hc); err != nil {
		logger.Warn().Err(err).Msg("Post-stop hooks failed")
	}
	if err := runtime.RemovePrivateBundle(m.cfg.DataDir, id); err != nil {
		logger.Warn().Err(err).Msg("Failed to remove private bundle")
	}

	e.hc = nil
	m.update(e, func(c *types.Container) {
		c.Pid = 0
		c.Network = nil
		c.Applied = nil
		c.LastExit = &status
	})

	outcome := "stopped"
	if finalState(status) == types.StateFailed {
		outcome = "failed"
	}
	metrics.RuntimeExits.WithLabelValues(outcome).Inc()

	m.broker.Publish(&events.Event{
		Type:        events.EventContainerStopped,
		ContainerID: id,
		Message:     describeExit(status),
		Metadata: map[string]string{
			"pid":       strconv.Itoa(pid),
			"exit_code": strconv.Itoa(status.Code),
			"signal":    strconv.Itoa(status.Signal),
		},
	})
}

// finalState decides where an instance ends up after its init process is
// gone: killed by a signal the daemon did not send, or vanished without a
// status, is a failure; any exit code is a stop.
func finalState(s types.ExitStatus) types.State {
	if s.Unknown || (s.Signal != 0 && !s.Requested) {
		return types.StateFailed
	}
	return types.StateStopped
}

func describeExit(s types.ExitStatus) string {
	switch {
	case s.Unknown:
		return "exit status unknown"
	case s.Signal != 0:
		return "killed by " + syscall.Signal(s.Signal).String()
	default:
		return "exited with code " + strconv.Itoa(s.Code)
	}
}
