package types

import (
	"net"
	"time"
)

// Container is the daemon's record of one managed container
type Container struct {
	ID          string
	Descriptor  int // Small integer handle, unique among registered containers
	BundlePath  string
	Config      *ContainerConfig
	Pid         int
	State       State
	CreatedAt   time.Time
	StateSince  time.Time
	Network     *NetworkAllocation
	Applied     []AppliedHook // Hooks applied so far, in application order
	LastExit    *ExitStatus
	Restarts    int       // Crash restarts inside the current window
	RestartedAt time.Time // Start of the current crash-restart window
}

// Clone returns a deep copy safe to hand to readers
func (c *Container) Clone() *Container {
	if c == nil {
		return nil
	}
	out := *c
	out.Config = c.Config.Clone()
	out.Network = c.Network.Clone()
	if c.Applied != nil {
		out.Applied = append([]AppliedHook(nil), c.Applied...)
	}
	if c.LastExit != nil {
		exit := *c.LastExit
		out.LastExit = &exit
	}
	return &out
}

// State is the lifecycle state of a container
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Terminal reports whether no further transition happens without removal
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Stage identifies a point in the container lifecycle where plugin hooks run
type Stage string

const (
	StagePreCreation     Stage = "pre-creation"
	StageCreateRuntime   Stage = "create-runtime"
	StageCreateContainer Stage = "create-container"
	StagePostStart       Stage = "post-start"
	StagePostStop        Stage = "post-stop"
	StagePostHalt        Stage = "post-halt"
)

// Stages lists every stage in lifecycle order
var Stages = []Stage{
	StagePreCreation,
	StageCreateRuntime,
	StageCreateContainer,
	StagePostStart,
	StagePostHalt,
	StagePostStop,
}

// Teardown reports whether hooks of this stage run in reverse dependency order
func (s Stage) Teardown() bool {
	return s == StagePostStop || s == StagePostHalt
}

// AppliedHook records one successfully applied plugin hook
type AppliedHook struct {
	Plugin string
	Stage  Stage
}

// ExitStatus describes how a container's init process ended
type ExitStatus struct {
	Code      int
	Signal    int // Non-zero when the process was killed by a signal
	Requested bool // Signal was sent by the daemon
	Unknown   bool // Process vanished without a status the daemon could collect
	At        time.Time
}

// Crashed reports whether the exit counts as a crash for restart purposes
func (e ExitStatus) Crashed() bool {
	if e.Unknown {
		return true
	}
	if e.Signal != 0 {
		return !e.Requested
	}
	return e.Code != 0
}

// NetworkMode selects how a container is attached to the bridge
type NetworkMode string

const (
	NetworkNAT     NetworkMode = "nat"     // Bridge attached, masqueraded to the outside
	NetworkPrivate NetworkMode = "private" // Bridge attached, no route out
	NetworkNone    NetworkMode = "none"
)

// PortForward publishes a container port on the host
type PortForward struct {
	Protocol      string `yaml:"protocol" json:"protocol" validate:"omitempty,oneof=tcp udp"`
	HostPort      int    `yaml:"host_port" json:"host_port" validate:"required,min=1,max=65535"`
	ContainerPort int    `yaml:"container_port" json:"container_port" validate:"required,min=1,max=65535"`
}

// NetworkSpec is the per-container network request
type NetworkSpec struct {
	Mode         NetworkMode   `yaml:"mode" json:"mode" validate:"omitempty,oneof=nat private none"`
	IPv6         bool          `yaml:"ipv6" json:"ipv6"`
	PortForwards []PortForward `yaml:"port_forwards" json:"port_forwards" validate:"dive"`
}

// PluginConfig enables one plugin for a container
type PluginConfig struct {
	Required bool              `yaml:"required" json:"required"`
	Data     map[string]string `yaml:"data" json:"data,omitempty"`
}

// ContainerConfig is the per-container configuration supplied with createAndStart
type ContainerConfig struct {
	Plugins        map[string]PluginConfig `yaml:"plugins" json:"plugins,omitempty"`
	Network        *NetworkSpec            `yaml:"network" json:"network,omitempty"`
	RestartOnCrash bool                    `yaml:"restart_on_crash" json:"restart_on_crash"`
	StopTimeout    time.Duration           `yaml:"stop_timeout" json:"stop_timeout" validate:"min=0"`
}

// Plugin returns the configuration of a plugin and whether it is enabled
func (c *ContainerConfig) Plugin(name string) (PluginConfig, bool) {
	if c == nil {
		return PluginConfig{}, false
	}
	pc, ok := c.Plugins[name]
	return pc, ok
}

// Clone returns a deep copy
func (c *ContainerConfig) Clone() *ContainerConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.Plugins != nil {
		out.Plugins = make(map[string]PluginConfig, len(c.Plugins))
		for name, pc := range c.Plugins {
			data := make(map[string]string, len(pc.Data))
			for k, v := range pc.Data {
				data[k] = v
			}
			out.Plugins[name] = PluginConfig{Required: pc.Required, Data: data}
		}
	}
	if c.Network != nil {
		netSpec := *c.Network
		netSpec.PortForwards = append([]PortForward(nil), c.Network.PortForwards...)
		out.Network = &netSpec
	}
	return &out
}

// NetworkAllocation is the network state owned by one container
type NetworkAllocation struct {
	ContainerID string     `json:"container_id"`
	IPv4        net.IP     `json:"ipv4"`
	IPv6        net.IP     `json:"ipv6,omitempty"`
	VethName    string     `json:"veth_name"`
	BridgeName  string     `json:"bridge_name"`
	Rules       RuleHandle `json:"rules"`
}

// Clone returns a deep copy
func (a *NetworkAllocation) Clone() *NetworkAllocation {
	if a == nil {
		return nil
	}
	out := *a
	out.IPv4 = append(net.IP(nil), a.IPv4...)
	if a.IPv6 != nil {
		out.IPv6 = append(net.IP(nil), a.IPv6...)
	}
	out.Rules.Chains = append([]ChainRef(nil), a.Rules.Chains...)
	return &out
}

// ChainRef locates one dedicated chain and the jump rule that feeds it
type ChainRef struct {
	Family string   `json:"family"` // "ipv4" or "ipv6"
	Table  string   `json:"table"`
	Parent string   `json:"parent"`
	Chain  string   `json:"chain"`
	Jump   []string `json:"jump"`
}

// RuleHandle identifies everything an applied rule set put into the tables
type RuleHandle struct {
	Name   string     `json:"name"`
	Chains []ChainRef `json:"chains"`
}

// Empty reports whether the handle references nothing
func (h RuleHandle) Empty() bool {
	return len(h.Chains) == 0
}

// StateChangeEvent is reported outward on every committed transition
type StateChangeEvent struct {
	ID         string
	Descriptor int
	OldState   State
	NewState   State
	At         time.Time
}

// Stats is a point-in-time resource snapshot of a container
type Stats struct {
	ID          string    `json:"id"`
	Descriptor  int       `json:"descriptor"`
	State       State     `json:"state"`
	Pid         int       `json:"pid"`
	IPv4        string    `json:"ipv4,omitempty"`
	Pids        uint64    `json:"pids"`
	CPUUsage    uint64    `json:"cpu_usage_ns"`
	MemoryUsage uint64    `json:"memory_usage"`
	MemoryLimit uint64    `json:"memory_limit"`
	Timestamp   time.Time `json:"timestamp"`
}
