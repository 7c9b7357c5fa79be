package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/runtime"
	"github.com/cuemby/burrow/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// CreateAndStart registers container id, runs its pre-start hooks, spawns
// it from bundle and waits until it is Running. cfg may be nil, in which
// case burrow.yaml next to the bundle's config.json is used.
//
// The container is visible in Starting while this runs. Any failure after
// registration unwinds the applied hooks, releases the network and removes
// the registry entry before the error is returned.
func (m *Manager) CreateAndStart(ctx context.Context, id, bundle string, cfg *types.ContainerConfig) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("invalid container id %q: %w", id, errdefs.ErrInvalidArgument)
	}
	if err := m.checkReusable(id); err != nil {
		return err
	}

	abs, err := filepath.Abs(bundle)
	if err != nil {
		return fmt.Errorf("bundle %s: %v: %w", bundle, err, types.ErrInvalidBundle)
	}
	spec, err := runtime.LoadBundle(abs)
	if err != nil {
		return err
	}
	if cfg == nil {
		if cfg, err = runtime.LoadContainerConfig(abs); err != nil {
			return err
		}
	} else {
		cfg = cfg.Clone()
	}

	return m.do(ctx, "create", id, func(ctx context.Context) error {
		e, err := m.register(id, abs, spec, cfg)
		if err != nil {
			return err
		}
		if err := m.commit(e, types.StateStarting); err != nil {
			m.unregister(e)
			return err
		}
		if err := m.spawn(ctx, e); err != nil {
			m.unregister(e)
			return err
		}
		return m.commit(e, types.StateRunning)
	})
}

// checkReusable fails fast when id is taken by a container that cannot be
// replaced. Stopped containers are replaced by a new creation.
func (m *Manager) checkReusable(id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.containers[id]; ok && e.ctr.State != types.StateStopped {
		return fmt.Errorf("container %s is %s: %w", id, e.ctr.State, types.ErrDuplicateID)
	}
	return nil
}

func (m *Manager) register(id, bundle string, spec *specs.Spec, cfg *types.ContainerConfig) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.containers[id]; ok {
		if old.ctr.State != types.StateStopped {
			return nil, fmt.Errorf("container %s is %s: %w", id, old.ctr.State, types.ErrDuplicateID)
		}
		delete(m.descriptors, old.ctr.Descriptor)
		delete(m.containers, id)
	}

	desc, err := m.allocDescriptorLocked(id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	e := &entry{
		ctr: &types.Container{
			ID:         id,
			Descriptor: desc,
			BundlePath: bundle,
			Config:     cfg,
			CreatedAt:  now,
			StateSince: now,
		},
		origSpec: spec,
	}
	m.containers[id] = e
	return e, nil
}

// unregister drops an entry whose creation failed. An entry already
// reported as Starting is closed with Failed first, so subscribers to state
// changes never keep a container that was never started.
func (m *Manager) unregister(e *entry) {
	id := e.ctr.ID
	m.mu.RLock()
	starting := e.ctr.State == types.StateStarting
	m.mu.RUnlock()
	if starting {
		m.commit(e, types.StateFailed)
	}

	m.mu.Lock()
	if cur, ok := m.containers[id]; ok && cur == e {
		delete(m.containers, id)
		delete(m.descriptors, e.ctr.Descriptor)
	}
	m.mu.Unlock()

	m.forget(id)
	m.broker.Publish(&events.Event{
		Type:        events.EventContainerRemoved,
		ContainerID: id,
		Message:     "creation failed",
	})
}

// Stop halts container id. A graceful stop sends SIGTERM and escalates to
// SIGKILL after the stop timeout; a stop with prejudice sends SIGKILL to
// every process of the container at once. The entry stays registered in
// Stopped until removed or evicted.
func (m *Manager) Stop(ctx context.Context, id string, withPrejudice bool) error {
	return m.do(ctx, "stop", id, func(ctx context.Context) error {
		return m.stop(ctx, id, withPrejudice)
	})
}

func (m *Manager) stop(ctx context.Context, id string, force bool) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	state := e.ctr.State
	switch {
	case state == types.StateRunning:
	case state == types.StatePaused && force:
	default:
		return types.StateError("stop", id, state)
	}

	if err := m.commit(e, types.StateStopping); err != nil {
		return err
	}
	status := m.halt(ctx, e, force, state == types.StatePaused)
	m.finish(ctx, e, status)
	return m.commit(e, types.StateStopped)
}

// Pause freezes every process of container id
func (m *Manager) Pause(ctx context.Context, id string) error {
	return m.do(ctx, "pause", id, func(ctx context.Context) error {
		e, err := m.lookup(id)
		if err != nil {
			return err
		}
		if e.ctr.State != types.StateRunning {
			return types.StateError("pause", id, e.ctr.State)
		}
		if err := m.runtime.Pause(ctx, id); err != nil {
			return err
		}
		return m.commit(e, types.StatePaused)
	})
}

// Resume thaws a paused container
func (m *Manager) Resume(ctx context.Context, id string) error {
	return m.do(ctx, "resume", id, func(ctx context.Context) error {
		e, err := m.lookup(id)
		if err != nil {
			return err
		}
		if e.ctr.State != types.StatePaused {
			return types.StateError("resume", id, e.ctr.State)
		}
		if err := m.runtime.Resume(ctx, id); err != nil {
			return err
		}
		return m.commit(e, types.StateRunning)
	})
}

// Restart stops container id if it is running and creates it again from
// the same bundle and config. The entry stays registered throughout; if
// the new instance cannot be started the container ends up Failed.
func (m *Manager) Restart(ctx context.Context, id string) error {
	return m.do(ctx, "restart", id, func(ctx context.Context) error {
		e, err := m.lookup(id)
		if err != nil {
			return err
		}

		switch state := e.ctr.State; state {
		case types.StateRunning, types.StatePaused:
			if err := m.commit(e, types.StateStopping); err != nil {
				return err
			}
			paused := state == types.StatePaused
			status := m.halt(ctx, e, paused, paused)
			m.finish(ctx, e, status)
		case types.StateStopped:
		default:
			return types.StateError("restart", id, e.ctr.State)
		}

		return m.respawn(ctx, e, "restart requested")
	})
}

// respawn creates a new instance of a halted container
func (m *Manager) respawn(ctx context.Context, e *entry, reason string) error {
	if err := m.commit(e, types.StateStarting); err != nil {
		return err
	}
	if err := m.spawn(ctx, e); err != nil {
		m.commit(e, types.StateFailed)
		return err
	}

	m.broker.Publish(&events.Event{
		Type:        events.EventContainerRestart,
		ContainerID: e.ctr.ID,
		Message:     reason,
	})
	return m.commit(e, types.StateRunning)
}

// Remove deletes a Stopped or Failed container from the registry
func (m *Manager) Remove(ctx context.Context, id string) error {
	return m.do(ctx, "remove", id, func(ctx context.Context) error {
		return m.remove(id)
	})
}

func (m *Manager) remove(id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	if !e.ctr.State.Terminal() {
		return types.StateError("remove", id, e.ctr.State)
	}

	m.mu.Lock()
	delete(m.containers, id)
	delete(m.descriptors, e.ctr.Descriptor)
	m.mu.Unlock()

	m.forget(id)
	m.broker.Publish(&events.Event{
		Type:        events.EventContainerRemoved,
		ContainerID: id,
		Message:     "removed from " + string(e.ctr.State),
	})
	m.logger.Info().Str("container_id", id).Msg("Container removed")
	return nil
}
