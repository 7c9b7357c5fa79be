package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/plugin"
	"github.com/cuemby/burrow/pkg/runtime"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/workqueue"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
)

// Config holds configuration for creating a Manager
type Config struct {
	DataDir          string
	StopTimeout      time.Duration
	RetainStopped    time.Duration // Zero keeps stopped containers until removed
	EvictionInterval time.Duration

	Runtime runtime.Runtime
	Monitor *runtime.Monitor
	Queue   *workqueue.Queue
	Plugins *plugin.Orchestrator
	Events  *events.Broker
	Store   storage.Store // Optional
}

// Manager owns the container registry and drives every container through
// its lifecycle. All mutations run as work queue tasks keyed by container
// id; reads are served from the registry under a read lock and never wait
// for a task.
type Manager struct {
	cfg     Config
	runtime runtime.Runtime
	monitor *runtime.Monitor
	queue   *workqueue.Queue
	plugins *plugin.Orchestrator
	broker  *events.Broker
	store   storage.Store
	logger  zerolog.Logger

	mu          sync.RWMutex
	containers  map[string]*entry
	descriptors map[int]string

	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	startOnce sync.Once
}

// entry is the registry record of one container. ctr is read under m.mu;
// everything else is touched only by tasks on the container's lane.
type entry struct {
	ctr *types.Container

	// origSpec is the document loaded from the bundle, spec the one the
	// running instance was created from after plugin mutation
	origSpec *specs.Spec
	spec     *specs.Spec
	hc       *plugin.HookContext

	// exitCh is closed when the exit of the current init process has been
	// observed; exit is set before that. Both are replaced on every spawn.
	exitCh  chan struct{}
	exit    *types.ExitStatus
	handled bool
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	switch {
	case cfg.Runtime == nil:
		return nil, errors.New("manager requires a runtime")
	case cfg.Monitor == nil:
		return nil, errors.New("manager requires an exit monitor")
	case cfg.Queue == nil:
		return nil, errors.New("manager requires a work queue")
	case cfg.Plugins == nil:
		return nil, errors.New("manager requires a plugin orchestrator")
	case cfg.Events == nil:
		return nil, errors.New("manager requires an event broker")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.EvictionInterval <= 0 {
		cfg.EvictionInterval = time.Minute
	}

	return &Manager{
		cfg:         *cfg,
		runtime:     cfg.Runtime,
		monitor:     cfg.Monitor,
		queue:       cfg.Queue,
		plugins:     cfg.Plugins,
		broker:      cfg.Events,
		store:       cfg.Store,
		logger:      log.WithComponent("manager"),
		containers:  make(map[string]*entry),
		descriptors: make(map[int]string),
		stopCh:      make(chan struct{}),
	}, nil
}

// Start launches the work queue workers, the exit monitor and the
// background loops of the manager
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.queue.Start()
		m.monitor.Start()

		m.wg.Add(2)
		go m.watchExits()
		go m.evictLoop()

		metrics.UpdateComponent(metrics.ComponentWorkQueue, true, "")
		m.logger.Info().Msg("Lifecycle manager started")
	})
}

// Close force-stops every running container, drains the queue and stops
// the background loops. Containers that cannot be stopped before ctx ends
// are left to the next daemon's startup cleanup.
func (m *Manager) Close(ctx context.Context) error {
	var tickets []*workqueue.Ticket
	for _, c := range m.List() {
		if c.State != types.StateRunning && c.State != types.StatePaused {
			continue
		}
		id := c.ID
		t, err := m.queue.Submit(id, func(ctx context.Context) error {
			return m.stop(ctx, id, true)
		})
		if err != nil {
			continue
		}
		tickets = append(tickets, t)
	}

	var errs []error
	for _, t := range tickets {
		if err := t.Wait(ctx); err != nil && !errors.Is(err, types.ErrInvalidState) {
			errs = append(errs, fmt.Errorf("stop %s: %w", t.Key(), err))
		}
	}
	if err := m.queue.Drain(ctx); err != nil {
		errs = append(errs, err)
	}

	m.stopOnce.Do(func() { close(m.stopCh) })
	m.queue.Stop()
	m.monitor.Stop()
	m.wg.Wait()

	metrics.UpdateComponent(metrics.ComponentWorkQueue, false, "shut down")
	m.logger.Info().Msg("Lifecycle manager stopped")
	return errors.Join(errs...)
}

// StateOf returns the current state of container id
func (m *Manager) StateOf(id string) (types.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.containers[id]
	if !ok {
		return "", fmt.Errorf("container %s: %w", id, types.ErrNotFound)
	}
	return e.ctr.State, nil
}

// Get returns a snapshot of container id
func (m *Manager) Get(id string) (*types.Container, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.containers[id]
	if !ok {
		return nil, fmt.Errorf("container %s: %w", id, types.ErrNotFound)
	}
	return e.ctr.Clone(), nil
}

// List returns snapshots of all registered containers ordered by id
func (m *Manager) List() []*types.Container {
	m.mu.RLock()
	out := make([]*types.Container, 0, len(m.containers))
	for _, e := range m.containers {
		out = append(out, e.ctr.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SpecOf returns the OCI config document container id is running with,
// after plugin mutation
func (m *Manager) SpecOf(id string) (*specs.Spec, error) {
	m.mu.RLock()
	e, ok := m.containers[id]
	var spec *specs.Spec
	if ok {
		spec = e.spec
		if spec == nil {
			spec = e.origSpec
		}
	}
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("container %s: %w", id, types.ErrNotFound)
	}
	return runtime.CloneSpec(spec)
}

// StatsOf returns resource usage of container id. Runtime counters are only
// available while the container has a live init process.
func (m *Manager) StatsOf(ctx context.Context, id string) (*types.Stats, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	stats := &types.Stats{Timestamp: time.Now()}
	if c.State == types.StateRunning || c.State == types.StatePaused {
		rs, err := m.runtime.Stats(ctx, id)
		if err != nil {
			return nil, err
		}
		stats = rs
	}
	stats.ID = c.ID
	stats.Descriptor = c.Descriptor
	stats.State = c.State
	stats.Pid = c.Pid
	if c.Network != nil {
		stats.IPv4 = c.Network.IPv4.String()
	}
	return stats, nil
}

// Subscribe returns a channel receiving every event the daemon publishes,
// state changes included
func (m *Manager) Subscribe() events.Subscriber {
	return m.broker.Subscribe()
}

// Unsubscribe ends a subscription
func (m *Manager) Unsubscribe(sub events.Subscriber) {
	m.broker.Unsubscribe(sub)
}

// do runs fn as a task on the lane of id and records operation metrics
func (m *Manager) do(ctx context.Context, op, id string, fn workqueue.Task) error {
	timer := metrics.NewTimer()
	err := m.queue.Do(ctx, id, fn)
	timer.ObserveDurationVec(metrics.OperationDuration, op)
	if err != nil {
		metrics.OperationErrors.WithLabelValues(op).Inc()
		if errors.Is(err, workqueue.ErrClosed) {
			return fmt.Errorf("%s %s: %w", op, id, types.ErrCancelled)
		}
	}
	return err
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.containers[id]
	if !ok {
		return nil, fmt.Errorf("container %s: %w", id, types.ErrNotFound)
	}
	return e, nil
}

func (m *Manager) stopTimeout(e *entry) time.Duration {
	if e.ctr.Config != nil && e.ctr.Config.StopTimeout > 0 {
		return e.ctr.Config.StopTimeout
	}
	return m.cfg.StopTimeout
}

func (m *Manager) persist(e *entry) {
	if m.store == nil {
		return
	}
	m.mu.RLock()
	c := e.ctr.Clone()
	m.mu.RUnlock()
	if err := m.store.PutContainer(c); err != nil {
		m.logger.Warn().Err(err).Str("container_id", c.ID).Msg("Failed to persist container record")
	}
}

func (m *Manager) forget(id string) {
	if m.store == nil {
		return
	}
	if err := m.store.DeleteContainer(id); err != nil && !errors.Is(err, types.ErrNotFound) {
		m.logger.Warn().Err(err).Str("container_id", id).Msg("Failed to delete container record")
	}
}
