package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/netfilter"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// ContainerInterface is the name the container sees for its bridge link
const ContainerInterface = "eth0"

// RuleEngine applies and removes firewall rule sets. *netfilter.Engine
// satisfies it.
type RuleEngine interface {
	Apply(ctx context.Context, set netfilter.RuleSet) (netfilter.Handle, error)
	Remove(ctx context.Context, handle netfilter.Handle) error
}

// Engine attaches containers to the bridge
type Engine struct {
	cfg    config.Network
	pool   config.Pool
	links  Links
	rules  RuleEngine
	alloc  *Allocator
	store  storage.Store
	logger zerolog.Logger

	mu           sync.Mutex
	veths        map[string]string // veth name -> container id
	bridgeHandle netfilter.Handle
}

// NewEngine creates a network engine. store may be nil.
func NewEngine(cfg config.Network, links Links, rules RuleEngine, store storage.Store) (*Engine, error) {
	pool, err := cfg.Pool()
	if err != nil {
		return nil, fmt.Errorf("invalid network settings: %w", err)
	}
	alloc, err := NewAllocator(pool, store)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:    cfg,
		pool:   pool,
		links:  links,
		rules:  rules,
		alloc:  alloc,
		store:  store,
		veths:  make(map[string]string),
		logger: log.WithComponent("network"),
	}, nil
}

// Allocator exposes the address allocator
func (e *Engine) Allocator() *Allocator {
	return e.alloc
}

// Init prepares the host: bridge device and address, forwarding, bridge
// wide rules. Allocations left behind by a previous daemon are torn down
// first.
func (e *Engine) Init(ctx context.Context) error {
	if err := e.CleanupStale(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Stale network state not fully removed")
	}

	addrs := []*net.IPNet{hostMask(e.pool.Bridge, e.pool.Subnet)}
	if e.pool.IPv6Prefix != nil {
		addrs = append(addrs, hostMask(e.pool.MapIPv6(e.pool.Bridge), e.pool.IPv6Prefix))
	}
	if err := e.links.EnsureBridge(e.cfg.Bridge, addrs, e.cfg.MTU); err != nil {
		metrics.UpdateComponent(metrics.ComponentNetwork, false, err.Error())
		return fmt.Errorf("%v: %w", err, types.ErrInterfaceCreate)
	}

	sysctls := [][2]string{{"net.ipv4.ip_forward", "1"}}
	if e.pool.IPv6Prefix != nil {
		sysctls = append(sysctls, [2]string{"net.ipv6.conf.all.forwarding", "1"})
	}
	if e.cfg.DNSRedirect {
		sysctls = append(sysctls, [2]string{"net.ipv4.conf." + e.cfg.Bridge + ".route_localnet", "1"})
	}
	for _, kv := range sysctls {
		if err := e.links.SetSysctl(kv[0], kv[1]); err != nil {
			metrics.UpdateComponent(metrics.ComponentNetwork, false, err.Error())
			return err
		}
	}

	handle, err := e.rules.Apply(ctx, e.bridgeRules())
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentNetwork, false, err.Error())
		return err
	}
	e.mu.Lock()
	e.bridgeHandle = handle
	e.mu.Unlock()

	metrics.UpdateComponent(metrics.ComponentNetwork, true, "")
	e.logger.Info().
		Str("bridge", e.cfg.Bridge).
		Str("subnet", e.pool.Subnet.String()).
		Int("pool_size", e.pool.Size()).
		Msg("Bridge ready")
	return nil
}

// Shutdown removes the bridge wide rules and the bridge
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	handle := e.bridgeHandle
	e.bridgeHandle = netfilter.Handle{}
	e.mu.Unlock()

	var errs []error
	if err := e.rules.Remove(ctx, handle); err != nil {
		errs = append(errs, err)
	}
	if err := e.links.DeleteLink(e.cfg.Bridge); err != nil {
		errs = append(errs, err)
	}
	metrics.UpdateComponent(metrics.ComponentNetwork, false, "shut down")
	return errors.Join(errs...)
}

type undoStep struct {
	name string
	fn   func() error
}

// Setup attaches the container whose init process is pid. Every completed
// step is reversed when a later one fails and the address is returned to the
// pool. A nil allocation with nil error means the container asked for no network.
func (e *Engine) Setup(ctx context.Context, id string, pid int, spec *types.NetworkSpec) (alloc *types.NetworkAllocation, err error) {
	if spec == nil {
		spec = &types.NetworkSpec{Mode: types.NetworkNAT}
	}
	if spec.Mode == types.NetworkNone {
		return nil, nil
	}

	logger := e.logger.With().Str("container_id", id).Int("pid", pid).Logger()

	var undo []undoStep
	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			if uerr := undo[i].fn(); uerr != nil {
				logger.Warn().Err(uerr).Str("step", undo[i].name).Msg("Network rollback step failed")
			}
		}
		alloc = nil
	}()

	ip4, err := e.alloc.Allocate(id)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate address for %s: %w", id, err)
	}
	undo = append(undo, undoStep{"release address", func() error {
		e.alloc.Release(id)
		return nil
	}})

	alloc = &types.NetworkAllocation{
		ContainerID: id,
		IPv4:        ip4,
		BridgeName:  e.cfg.Bridge,
	}
	if spec.IPv6 && e.pool.IPv6Prefix != nil {
		alloc.IPv6 = e.pool.MapIPv6(ip4)
	}

	veth, err := e.reserveVeth(id)
	if err != nil {
		return nil, err
	}
	alloc.VethName = veth
	undo = append(undo, undoStep{"release veth name", func() error {
		e.releaseVeth(veth)
		return nil
	}})

	peer := veth + "p"
	if err := e.links.CreateVethPair(veth, peer, e.cfg.MTU); err != nil {
		return nil, fmt.Errorf("%v: %w", err, types.ErrInterfaceCreate)
	}
	undo = append(undo, undoStep{"delete veth", func() error {
		return e.links.DeleteLink(veth)
	}})

	if err := e.links.AttachToBridge(veth, e.cfg.Bridge); err != nil {
		return nil, fmt.Errorf("%v: %w", err, types.ErrInterfaceCreate)
	}
	if err := e.links.MoveToNetns(peer, pid); err != nil {
		return nil, fmt.Errorf("%v: %w", err, types.ErrInterfaceCreate)
	}

	addrs := []*net.IPNet{hostMask(ip4, e.pool.Subnet)}
	gateways := []net.IP{e.pool.Bridge}
	if spec.Mode == types.NetworkPrivate {
		gateways = nil
	}
	if alloc.IPv6 != nil {
		addrs = append(addrs, hostMask(alloc.IPv6, e.pool.IPv6Prefix))
		if spec.Mode != types.NetworkPrivate {
			gateways = append(gateways, e.pool.MapIPv6(e.pool.Bridge))
		}
	}
	if err := e.links.ConfigureContainerLink(pid, peer, ContainerInterface, addrs, gateways); err != nil {
		return nil, fmt.Errorf("%v: %w", err, types.ErrInterfaceCreate)
	}

	handle, err := e.rules.Apply(ctx, e.containerRules(id, alloc, spec))
	if err != nil {
		return nil, err
	}
	alloc.Rules = handle
	undo = append(undo, undoStep{"remove rules", func() error {
		return e.rules.Remove(context.WithoutCancel(ctx), handle)
	}})

	if e.store != nil {
		if err := e.store.PutAllocation(alloc); err != nil {
			return nil, fmt.Errorf("failed to record allocation for %s: %v: %w", id, err, types.ErrNetworkAllocation)
		}
	}

	logger.Info().Str("address", describe(alloc)).Msg("Container network attached")
	return alloc, nil
}

// Teardown is the inverse of Setup. It only touches host-side state, so it
// succeeds whether or not the container process still exists. All steps are
// attempted; their errors are joined.
func (e *Engine) Teardown(ctx context.Context, alloc *types.NetworkAllocation) error {
	if alloc == nil {
		return nil
	}

	var errs []error
	if err := e.rules.Remove(ctx, alloc.Rules); err != nil {
		errs = append(errs, err)
	}
	if alloc.VethName != "" {
		if err := e.links.DeleteLink(alloc.VethName); err != nil {
			errs = append(errs, err)
		}
		e.releaseVeth(alloc.VethName)
	}
	e.alloc.Release(alloc.ContainerID)
	if e.store != nil {
		if err := e.store.DeleteAllocation(alloc.ContainerID); err != nil {
			errs = append(errs, fmt.Errorf("failed to forget allocation for %s: %w", alloc.ContainerID, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	e.logger.Info().Str("container_id", alloc.ContainerID).Str("address", describe(alloc)).Msg("Container network detached")
	return nil
}

// CleanupStale tears down allocations recorded by a previous daemon instance
func (e *Engine) CleanupStale(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	stale, err := e.store.ListAllocations()
	if err != nil {
		return fmt.Errorf("failed to list recorded allocations: %w", err)
	}

	var errs []error
	for _, alloc := range stale {
		if _, live := e.alloc.Lookup(alloc.ContainerID); live {
			continue
		}
		e.logger.Info().Str("container_id", alloc.ContainerID).Str("address", describe(alloc)).Msg("Removing stale network state")
		if err := e.Teardown(ctx, alloc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reserveVeth picks the lowest vethN name not used by us or present on the host
func (e *Engine) reserveVeth(id string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := 0; i < 1024; i++ {
		name := fmt.Sprintf("veth%d", i)
		if _, taken := e.veths[name]; taken {
			continue
		}
		exists, err := e.links.LinkExists(name)
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %v: %w", name, err, types.ErrInterfaceCreate)
		}
		if exists {
			continue
		}
		e.veths[name] = id
		return name, nil
	}
	return "", fmt.Errorf("no free veth name: %w", types.ErrInterfaceCreate)
}

func (e *Engine) releaseVeth(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.veths, name)
}
