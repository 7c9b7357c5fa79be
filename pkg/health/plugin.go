package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/network"
	"github.com/cuemby/burrow/pkg/plugin"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// PluginName is the name containers enable the readiness probe under
const PluginName = "healthcheck"

// DefaultInterval is the time between probe attempts
const DefaultInterval = 200 * time.Millisecond

// Plugin holds a container in Starting until the service inside answers on
// the container address. Config data:
//
//	tcp       port that must accept a connection
//	http      port/path that must answer 2xx or 3xx, e.g. "8080/healthz"
//	timeout   give up after this long (default: the hook timeout)
//	interval  time between attempts (default 200ms)
//
// Without a probe configured the hook does nothing.
type Plugin struct {
	logger zerolog.Logger

	// address overrides the container address, for tests
	address func(hc *plugin.HookContext) (net.IP, error)
}

// NewPlugin creates the readiness probe plugin
func NewPlugin() *Plugin {
	return &Plugin{
		logger:  log.WithComponent("health"),
		address: containerAddress,
	}
}

func (p *Plugin) Name() string { return PluginName }

func (p *Plugin) Stages() []types.Stage {
	return []types.Stage{types.StagePostStart}
}

func (p *Plugin) Dependencies() []string { return []string{network.PluginName} }

func (p *Plugin) Run(ctx context.Context, stage types.Stage, hc *plugin.HookContext) error {
	data := hc.PluginData(PluginName)
	probe, err := parseProbe(data)
	if err != nil || probe == nil {
		return err
	}

	ip, err := p.address(hc)
	if err != nil {
		return err
	}

	interval := DefaultInterval
	if v := data["interval"]; v != "" {
		if interval, err = time.ParseDuration(v); err != nil || interval <= 0 {
			return fmt.Errorf("invalid probe interval %q", v)
		}
	}
	if v := data["timeout"]; v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil || timeout <= 0 {
			return fmt.Errorf("invalid probe timeout %q", v)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	attempts, err := waitReady(ctx, probe, ip, interval)
	if err != nil {
		return fmt.Errorf("container %s: %w", hc.ID, err)
	}
	p.logger.Info().
		Str("container_id", hc.ID).
		Stringer("probe", probe).
		Int("attempts", attempts).
		Dur("waited", time.Since(start)).
		Msg("Container ready")
	hc.Set("healthcheck.ready", time.Now().Format(time.RFC3339Nano))
	return nil
}

func containerAddress(hc *plugin.HookContext) (net.IP, error) {
	if hc.Network == nil || hc.Network.IPv4 == nil {
		return nil, errors.New("readiness probe needs a container address")
	}
	return hc.Network.IPv4, nil
}
