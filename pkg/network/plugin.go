package network

import (
	"context"
	"fmt"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/plugin"
	"github.com/cuemby/burrow/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// PluginName is the name containers enable the networking plugin under
const PluginName = "networking"

// Plugin exposes the engine as a lifecycle hook plugin
type Plugin struct {
	engine *Engine
	broker *events.Broker
}

// NewPlugin creates the networking plugin. broker may be nil.
func NewPlugin(engine *Engine, broker *events.Broker) *Plugin {
	return &Plugin{engine: engine, broker: broker}
}

func (p *Plugin) Name() string { return PluginName }

func (p *Plugin) Stages() []types.Stage {
	return []types.Stage{types.StagePreCreation, types.StageCreateRuntime, types.StagePostHalt}
}

func (p *Plugin) Dependencies() []string { return nil }

func (p *Plugin) Run(ctx context.Context, stage types.Stage, hc *plugin.HookContext) error {
	switch stage {
	case types.StagePreCreation:
		return p.isolate(hc)
	case types.StageCreateRuntime:
		return p.attach(ctx, hc)
	case types.StagePostHalt:
		return p.detach(ctx, hc)
	}
	return nil
}

func (p *Plugin) Undo(ctx context.Context, stage types.Stage, hc *plugin.HookContext) error {
	if stage == types.StageCreateRuntime {
		return p.detach(ctx, hc)
	}
	return nil
}

// isolate gives the container its own network namespace. Joining an
// existing namespace is refused: the veth could not be moved into it safely.
func (p *Plugin) isolate(hc *plugin.HookContext) error {
	if mode(hc) == types.NetworkNone {
		return nil
	}
	if hc.Spec == nil {
		return fmt.Errorf("container %s has no config document", hc.ID)
	}
	if hc.Spec.Linux == nil {
		hc.Spec.Linux = &specs.Linux{}
	}
	for _, ns := range hc.Spec.Linux.Namespaces {
		if ns.Type != specs.NetworkNamespace {
			continue
		}
		if ns.Path != "" {
			return fmt.Errorf("container %s joins network namespace %s: %w", hc.ID, ns.Path, types.ErrInvalidBundle)
		}
		return nil
	}
	hc.Spec.Linux.Namespaces = append(hc.Spec.Linux.Namespaces, specs.LinuxNamespace{Type: specs.NetworkNamespace})
	return nil
}

func (p *Plugin) attach(ctx context.Context, hc *plugin.HookContext) error {
	if hc.Pid <= 0 {
		return fmt.Errorf("container %s has no init process to attach", hc.ID)
	}
	var spec *types.NetworkSpec
	if hc.Config != nil {
		spec = hc.Config.Network
	}

	alloc, err := p.engine.Setup(ctx, hc.ID, hc.Pid, spec)
	if err != nil {
		return err
	}
	hc.Network = alloc
	if alloc == nil {
		return nil
	}

	if p.broker != nil {
		meta := map[string]string{"ipv4": alloc.IPv4.String(), "veth": alloc.VethName}
		if alloc.IPv6 != nil {
			meta["ipv6"] = alloc.IPv6.String()
		}
		p.broker.Publish(&events.Event{
			Type:        events.EventNetworkAttached,
			ContainerID: hc.ID,
			Message:     "container attached to " + alloc.BridgeName,
			Metadata:    meta,
		})
	}
	return nil
}

func (p *Plugin) detach(ctx context.Context, hc *plugin.HookContext) error {
	if hc.Network == nil {
		return nil
	}
	alloc := hc.Network
	if err := p.engine.Teardown(ctx, alloc); err != nil {
		return err
	}
	hc.Network = nil

	if p.broker != nil {
		p.broker.Publish(&events.Event{
			Type:        events.EventNetworkDetached,
			ContainerID: hc.ID,
			Message:     "container detached from " + alloc.BridgeName,
			Metadata:    map[string]string{"ipv4": alloc.IPv4.String()},
		})
	}
	return nil
}

func mode(hc *plugin.HookContext) types.NetworkMode {
	if hc.Config == nil || hc.Config.Network == nil || hc.Config.Network.Mode == "" {
		return types.NetworkNAT
	}
	return hc.Config.Network.Mode
}
