package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/runtime"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/workqueue"
)

func (m *Manager) evictLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.cfg.RetainStopped <= 0 {
				continue
			}
			if _, err := m.queue.Submit(workqueue.GlobalKey, m.evict); err != nil {
				return
			}
		case <-m.stopCh:
			return
		}
	}
}

// Evict queues the removal of every Stopped container that has been
// stopped for longer than the retention period and waits for the sweep
// (not the removals) to finish
func (m *Manager) Evict(ctx context.Context) error {
	return m.queue.Do(ctx, workqueue.GlobalKey, m.evict)
}

func (m *Manager) evict(ctx context.Context) error {
	cutoff := time.Now().Add(-m.cfg.RetainStopped)

	var stale []string
	m.mu.RLock()
	for id, e := range m.containers {
		if e.ctr.State == types.StateStopped && e.ctr.StateSince.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		id := id
		_, err := m.queue.SubmitWithCallback(id, func(ctx context.Context) error {
			e, err := m.lookup(id)
			if err != nil {
				return nil
			}
			// Restarted or replaced since the sweep.
			if e.ctr.State != types.StateStopped || !e.ctr.StateSince.Before(cutoff) {
				return nil
			}
			return m.remove(id)
		}, func(err error) {
			if err != nil {
				m.logger.Warn().Err(err).Str("container_id", id).Msg("Eviction failed")
			}
		})
		if err != nil {
			return err
		}
	}

	if len(stale) > 0 {
		m.logger.Info().Int("containers", len(stale)).Msg("Evicting stopped containers")
	}
	return nil
}

// Recover removes what a previous daemon instance left behind: runtime
// containers it created and the private bundles it wrote. It must run
// before the first container is created.
func (m *Manager) Recover(ctx context.Context) error {
	var errs []error
	seen := make(map[string]bool)

	if m.store != nil {
		records, err := m.store.ListContainers()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list container records: %w", err))
		}
		for _, c := range records {
			seen[c.ID] = true
			m.logger.Info().Str("container_id", c.ID).Str("state", string(c.State)).Msg("Removing container left by previous daemon")
			m.destroy(ctx, c.ID)
			if err := runtime.RemovePrivateBundle(m.cfg.DataDir, c.ID); err != nil {
				errs = append(errs, err)
			}
			m.forget(c.ID)
		}
	}

	statuses, err := m.runtime.List(ctx)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		errs = append(errs, fmt.Errorf("failed to list runtime containers: %w", err))
	}
	for _, st := range statuses {
		if seen[st.ID] {
			continue
		}
		m.logger.Info().Str("container_id", st.ID).Str("status", st.Status).Msg("Removing unknown runtime container")
		m.destroy(ctx, st.ID)
		if err := runtime.RemovePrivateBundle(m.cfg.DataDir, st.ID); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
