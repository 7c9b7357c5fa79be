package plugin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cuemby/burrow/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// DefaultRTPriority is the RLIMIT_RTPRIO ceiling applied when the container
// config does not name one
const DefaultRTPriority = 6

// RTScheduling caps the real-time priority a container may request. Config
// data: "priority" (ceiling, 0-99) and "runtime_us" (cgroup cpu.rt_runtime_us
// budget, optional).
type RTScheduling struct{}

// NewRTScheduling creates the rtscheduling plugin
func NewRTScheduling() *RTScheduling {
	return &RTScheduling{}
}

func (p *RTScheduling) Name() string { return "rtscheduling" }

func (p *RTScheduling) Stages() []types.Stage {
	return []types.Stage{types.StagePreCreation}
}

func (p *RTScheduling) Dependencies() []string { return nil }

func (p *RTScheduling) Run(ctx context.Context, stage types.Stage, hc *HookContext) error {
	if hc.Spec == nil || hc.Spec.Process == nil {
		return fmt.Errorf("container %s has no process in its config", hc.ID)
	}
	data := hc.PluginData(p.Name())

	prio := uint64(DefaultRTPriority)
	if v, ok := data["priority"]; ok {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil || n > 99 {
			return fmt.Errorf("invalid rt priority %q", v)
		}
		prio = n
	}

	limit := specs.POSIXRlimit{Type: "RLIMIT_RTPRIO", Hard: prio, Soft: prio}
	replaced := false
	for i, rl := range hc.Spec.Process.Rlimits {
		if rl.Type == limit.Type {
			// Only ever lower what the bundle asked for.
			if rl.Hard < limit.Hard {
				limit = rl
			}
			hc.Spec.Process.Rlimits[i] = limit
			replaced = true
		}
	}
	if !replaced {
		hc.Spec.Process.Rlimits = append(hc.Spec.Process.Rlimits, limit)
	}

	if v, ok := data["runtime_us"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid rt runtime %q", v)
		}
		if hc.Spec.Linux == nil {
			hc.Spec.Linux = &specs.Linux{}
		}
		if hc.Spec.Linux.Resources == nil {
			hc.Spec.Linux.Resources = &specs.LinuxResources{}
		}
		if hc.Spec.Linux.Resources.CPU == nil {
			hc.Spec.Linux.Resources.CPU = &specs.LinuxCPU{}
		}
		hc.Spec.Linux.Resources.CPU.RealtimeRuntime = &n
	}

	hc.Set("rtscheduling.priority", strconv.FormatUint(limit.Hard, 10))
	return nil
}
