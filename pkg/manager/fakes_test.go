package manager

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/plugin"
	"github.com/cuemby/burrow/pkg/runtime"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/workqueue"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/require"
)

// fakeReaper reports exits injected by the fake runtime
type fakeReaper struct {
	mu     sync.Mutex
	exited map[int]types.ExitStatus
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
	}
	return status, ok, nil
}

type fakeContainer struct {
	pid    int
	bundle string
	status string
}

// fakeRuntime keeps containers in memory. Killing a container makes its
// init process exit through the fake reaper.
type fakeRuntime struct {
	mu         sync.Mutex
	reaper     *fakeReaper
	nextPid    int
	containers map[string]*fakeContainer
	ignoreTerm bool
	failStart  bool
	signals    []syscall.Signal
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		reaper:     &fakeReaper{exited: make(map[int]types.ExitStatus)},
		nextPid:    1000,
		containers: make(map[string]*fakeContainer),
	}
}

func (f *fakeRuntime) Create(ctx context.Context, id, bundle string, opts runtime.CreateOptions) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(filepath.Join(bundle, runtime.ConfigFile)); err != nil {
		return 0, err
	}
	f.nextPid++
	f.containers[id] = &fakeContainer{pid: f.nextPid, bundle: bundle, status: runtime.StatusCreated}
	return f.nextPid, nil
}

func (f *fakeRuntime) Start(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return types.ErrNotFound
	}
	if f.failStart {
		return types.ErrRuntimeSpawn
	}
	c.status = runtime.StatusRunning
	return nil
}

func (f *fakeRuntime) Kill(ctx context.Context, id string, sig syscall.Signal, all bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	c, ok := f.containers[id]
	if !ok || c.status == runtime.StatusStopped {
		return types.ErrNotFound
	}
	if sig == syscall.SIGTERM && f.ignoreTerm {
		return nil
	}
	c.status = runtime.StatusStopped
	f.reaper.exit(c.pid, types.ExitStatus{Signal: int(sig)})
	return nil
}

// crash ends the init process of id on its own
func (f *fakeRuntime) crash(id string, status types.ExitStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return
	}
	c.status = runtime.StatusStopped
	f.reaper.exit(c.pid, status)
}

func (f *fakeRuntime) Pause(ctx context.Context, id string) error {
	return f.setStatus(id, runtime.StatusPaused)
}

func (f *fakeRuntime) Resume(ctx context.Context, id string) error {
	return f.setStatus(id, runtime.StatusRunning)
}

func (f *fakeRuntime) setStatus(id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return types.ErrNotFound
	}
	c.status = status
	return nil
}

func (f *fakeRuntime) Delete(ctx context.Context, id string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return types.ErrNotFound
	}
	delete(f.containers, id)
	return nil
}

func (f *fakeRuntime) State(ctx context.Context, id string) (*runtime.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &runtime.Status{ID: id, Pid: c.pid, Status: c.status, Bundle: c.bundle}, nil
}

func (f *fakeRuntime) Stats(ctx context.Context, id string) (*types.Stats, error) {
	return &types.Stats{Pids: 2, MemoryUsage: 4096, MemoryLimit: 8192, Timestamp: time.Now()}, nil
}

func (f *fakeRuntime) List(ctx context.Context) ([]*runtime.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*runtime.Status
	for id, c := range f.containers {
		out = append(out, &runtime.Status{ID: id, Pid: c.pid, Status: c.status})
	}
	return out, nil
}

func (f *fakeRuntime) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.containers[id]
	return ok
}

func (f *fakeRuntime) sent(sig syscall.Signal) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.signals {
		if s == sig {
			return true
		}
	}
	return false
}

type harness struct {
	m       *Manager
	rt      *fakeRuntime
	test    *plugin.Test
	broker  *events.Broker
	dataDir string
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	return buildHarness(t, mutate, plugin.Config{HookTimeout: time.Second})
}

// buildHarness registers the test plugin plus extra and starts a manager
func buildHarness(t *testing.T, mutate func(*Config), pcfg plugin.Config, extra ...plugin.Plugin) *harness {
	t.Helper()

	rt := newFakeRuntime()
	test := plugin.NewTest()
	reg, err := plugin.NewRegistry(append([]plugin.Plugin{test}, extra...)...)
	require.NoError(t, err)

	broker := events.NewBroker()
	broker.Start()

	dataDir := t.TempDir()
	cfg := &Config{
		DataDir:          dataDir,
		StopTimeout:      time.Second,
		EvictionInterval: time.Hour,
		Runtime:          rt,
		Monitor:          runtime.NewMonitor(rt.reaper, 2*time.Millisecond),
		Queue:            workqueue.New(workqueue.Config{Workers: 4}),
		Plugins:          plugin.NewOrchestrator(reg, pcfg),
		Events:           broker,
	}
	if mutate != nil {
		mutate(cfg)
	}

	m, err := NewManager(cfg)
	require.NoError(t, err)
	m.Start()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Close(ctx)
		broker.Stop()
	})
	return &harness{m: m, rt: rt, test: test, broker: broker, dataDir: dataDir}
}

func writeBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rootfs"), 0o755))
	spec := specs.Spec{
		Version: specs.Version,
		Root:    &specs.Root{Path: "rootfs"},
		Process: &specs.Process{Args: []string{"/bin/app"}, Cwd: "/"},
	}
	data, err := json.Marshal(spec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, runtime.ConfigFile), data, 0o644))
	return dir
}

func withTest(data map[string]string) *types.ContainerConfig {
	return &types.ContainerConfig{Plugins: map[string]types.PluginConfig{
		"test": {Required: true, Data: data},
	}}
}

func (h *harness) waitState(t *testing.T, id string, want types.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := h.m.StateOf(id)
		return err == nil && st == want
	}, 3*time.Second, 5*time.Millisecond, "container %s never reached %s", id, want)
}
