package manager

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/netfilter"
	"github.com/cuemby/burrow/pkg/network"
	"github.com/cuemby/burrow/pkg/plugin"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hostLinks records host interfaces in memory
type hostLinks struct {
	mu    sync.Mutex
	links map[string]bool
}

func (l *hostLinks) EnsureBridge(name string, addrs []*net.IPNet, mtu int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.links[name] = true
	return nil
}

func (l *hostLinks) DeleteLink(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.links, name)
	return nil
}

func (l *hostLinks) LinkExists(name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.links[name], nil
}

func (l *hostLinks) CreateVethPair(host, peer string, mtu int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.links[host] = true
	return nil
}

func (l *hostLinks) AttachToBridge(link, bridge string) error { return nil }
func (l *hostLinks) MoveToNetns(link string, pid int) error    { return nil }
func (l *hostLinks) SetSysctl(key, value string) error         { return nil }

func (l *hostLinks) ConfigureContainerLink(pid int, peer, ifname string, addrs []*net.IPNet, gateways []net.IP) error {
	return nil
}

func (l *hostLinks) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for name := range l.links {
		out = append(out, name)
	}
	return out
}

// ruleTables keeps applied rule sets by name. Apply ignores ctx for delay,
// the way an iptables call blocks on the xtables lock.
type ruleTables struct {
	mu    sync.Mutex
	live  map[string]bool
	delay time.Duration
}

func (r *ruleTables) Apply(ctx context.Context, set netfilter.RuleSet) (netfilter.Handle, error) {
	r.mu.Lock()
	delay := r.delay
	r.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[set.Name] = true
	return netfilter.Handle{Name: set.Name, Chains: []types.ChainRef{{Family: "ipv4", Table: "filter", Parent: "FORWARD", Chain: netfilter.ChainName(set.Name, "FORWARD")}}}, nil
}

func (r *ruleTables) Remove(ctx context.Context, h netfilter.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, h.Name)
	return nil
}

func (r *ruleTables) has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[name]
}

type netHarness struct {
	*harness
	engine *network.Engine
	links  *hostLinks
	rules  *ruleTables
}

func newNetHarness(t *testing.T, hookTimeout, ruleDelay time.Duration) *netHarness {
	t.Helper()

	links := &hostLinks{links: make(map[string]bool)}
	rules := &ruleTables{live: make(map[string]bool)}
	engine, err := network.NewEngine(config.Default().Network, links, rules, nil)
	require.NoError(t, err)
	require.NoError(t, engine.Init(context.Background()))
	rules.delay = ruleDelay

	h := buildHarness(t, nil, plugin.Config{HookTimeout: hookTimeout}, network.NewPlugin(engine, nil))
	return &netHarness{harness: h, engine: engine, links: links, rules: rules}
}

func withNetwork(data map[string]string) *types.ContainerConfig {
	cfg := withTest(data)
	cfg.Plugins[network.PluginName] = types.PluginConfig{Required: true}
	return cfg
}

// assertReleased checks that no address, veth or rule chain of id is left
func (h *netHarness) assertReleased(t *testing.T, id string) {
	t.Helper()
	assert.Equal(t, 0, h.engine.Allocator().Allocated())
	_, held := h.engine.Allocator().Lookup(id)
	assert.False(t, held)
	assert.False(t, h.rules.has(id), "rule set of %s still applied", id)
	assert.Equal(t, []string{"burrow0"}, h.links.names())
}

func TestNetworkAttachedWhileRunning(t *testing.T) {
	h := newNetHarness(t, time.Second, 0)

	require.NoError(t, h.m.CreateAndStart(context.Background(), "c1", writeBundle(t), withNetwork(nil)))
	c, err := h.m.Get("c1")
	require.NoError(t, err)
	require.NotNil(t, c.Network)
	assert.Equal(t, 1, h.engine.Allocator().Allocated())
	assert.True(t, h.rules.has("c1"))

	require.NoError(t, h.m.Stop(context.Background(), "c1", false))
	h.assertReleased(t, "c1")
}

func TestNetworkReleasedAfterHookFailure(t *testing.T) {
	h := newNetHarness(t, time.Second, 0)

	err := h.m.CreateAndStart(context.Background(), "c1", writeBundle(t), withNetwork(map[string]string{"fail": "create-container"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrHookFailure))

	_, err = h.m.StateOf("c1")
	assert.True(t, errors.Is(err, types.ErrNotFound))
	assert.False(t, h.rt.has("c1"))
	h.assertReleased(t, "c1")
}

func TestNetworkReleasedAfterUnexpectedExit(t *testing.T) {
	h := newNetHarness(t, time.Second, 0)

	require.NoError(t, h.m.CreateAndStart(context.Background(), "c1", writeBundle(t), withNetwork(nil)))
	require.True(t, h.rules.has("c1"))

	h.rt.crash("c1", types.ExitStatus{Signal: 11})
	h.waitState(t, "c1", types.StateFailed)
	h.assertReleased(t, "c1")
}

func TestHookTimeoutDuringCreateRollsBack(t *testing.T) {
	h := newNetHarness(t, 30*time.Millisecond, 150*time.Millisecond)

	err := h.m.CreateAndStart(context.Background(), "c1", writeBundle(t), withNetwork(nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrTimeout))

	var hookErr *types.HookError
	require.True(t, errors.As(err, &hookErr))
	assert.Equal(t, network.PluginName, hookErr.Plugin)
	assert.Equal(t, types.StageCreateRuntime, hookErr.Stage)

	_, err = h.m.StateOf("c1")
	assert.True(t, errors.Is(err, types.ErrNotFound))
	assert.False(t, h.rt.has("c1"))
	h.assertReleased(t, "c1")
}
