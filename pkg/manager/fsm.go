package manager

import (
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// transitions lists the edges of the container state machine. Starting is
// entered from nothing on creation, from Stopping or Stopped on restart and
// from Running or Paused when a crashed container is restarted in place.
var transitions = map[types.State][]types.State{
	"":                  {types.StateStarting},
	types.StateStarting: {types.StateRunning, types.StateFailed},
	types.StateRunning:  {types.StatePaused, types.StateStopping, types.StateStarting, types.StateStopped, types.StateFailed},
	types.StatePaused:   {types.StateRunning, types.StateStopping, types.StateStarting, types.StateStopped, types.StateFailed},
	types.StateStopping: {types.StateStopped, types.StateStarting, types.StateFailed},
	types.StateStopped:  {types.StateStarting},
	types.StateFailed:   nil,
}

func canTransition(from, to types.State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// commit moves e to state to, then persists the record and reports the
// change. It must only be called from a task on e's lane.
func (m *Manager) commit(e *entry, to types.State) error {
	now := time.Now()

	m.mu.Lock()
	from := e.ctr.State
	if !canTransition(from, to) {
		m.mu.Unlock()
		err := fmt.Errorf("transition %s -> %s of %s: %w", from, to, e.ctr.ID, types.ErrInvalidState)
		m.logger.Error().Err(err).Msg("Refusing state transition")
		return err
	}
	e.ctr.State = to
	e.ctr.StateSince = now
	change := types.StateChangeEvent{
		ID:         e.ctr.ID,
		Descriptor: e.ctr.Descriptor,
		OldState:   from,
		NewState:   to,
		At:         now,
	}
	m.mu.Unlock()

	metrics.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
	m.persist(e)
	m.broker.PublishStateChange(change)

	m.logger.Info().
		Str("container_id", change.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Container state changed")
	return nil
}

// update applies fn to the container record under the write lock
func (m *Manager) update(e *entry, fn func(c *types.Container)) {
	m.mu.Lock()
	fn(e.ctr)
	m.mu.Unlock()
}
