package plugin

import (
	"context"

	"github.com/cuemby/burrow/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Plugin is a lifecycle hook provider. Plugins are registered once at daemon
// start and enabled per container through ContainerConfig.Plugins.
type Plugin interface {
	Name() string

	// Stages lists the stages at which Run is called
	Stages() []types.Stage

	// Dependencies names plugins whose hooks must run before this one at
	// every shared stage
	Dependencies() []string

	// Run executes the hook. Hooks at pre-creation stages may mutate
	// hc.Spec in place. Run must return promptly once ctx is done.
	Run(ctx context.Context, stage types.Stage, hc *HookContext) error
}

// Reverter is implemented by plugins whose hooks can be undone. Undo is
// called in reverse application order when a later step of the same
// operation fails.
type Reverter interface {
	Undo(ctx context.Context, stage types.Stage, hc *HookContext) error
}

// HookContext carries the container being operated on through one stage. It
// is owned by the work queue task running the operation.
type HookContext struct {
	ID         string
	BundlePath string
	Spec       *specs.Spec
	Config     *types.ContainerConfig
	Pid        int

	// Network is set by the networking plugin at create-runtime
	Network *types.NetworkAllocation

	// Exit is set for post-stop and post-halt
	Exit *types.ExitStatus

	// Stdio is the file the runtime connects the container's stdout and
	// stderr to. Empty discards output.
	Stdio string

	// Values is free-form state plugins hand to each other
	Values map[string]string
}

// PluginData returns the per-container data of the named plugin
func (hc *HookContext) PluginData(name string) map[string]string {
	pc, _ := hc.Config.Plugin(name)
	return pc.Data
}

// Set records a value for later hooks
func (hc *HookContext) Set(key, value string) {
	if hc.Values == nil {
		hc.Values = make(map[string]string)
	}
	hc.Values[key] = value
}
