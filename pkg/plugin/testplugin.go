package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/burrow/pkg/types"
)

// Test is a diagnostics plugin that runs at every stage and fails where told
// to. Config data: "fail" (stage name) and "fail_undo" ("true" makes Undo
// fail as well). Calls are recorded for inspection.
type Test struct {
	mu    sync.Mutex
	calls []string
}

// NewTest creates the test plugin
func NewTest() *Test {
	return &Test{}
}

func (p *Test) Name() string { return "test" }

func (p *Test) Stages() []types.Stage {
	return append([]types.Stage(nil), types.Stages...)
}

func (p *Test) Dependencies() []string { return nil }

func (p *Test) Run(ctx context.Context, stage types.Stage, hc *HookContext) error {
	p.record("run", stage, hc.ID)
	if hc.PluginData(p.Name())["fail"] == string(stage) {
		return fmt.Errorf("configured to fail at %s", stage)
	}
	return nil
}

func (p *Test) Undo(ctx context.Context, stage types.Stage, hc *HookContext) error {
	p.record("undo", stage, hc.ID)
	if hc.PluginData(p.Name())["fail_undo"] == "true" {
		return fmt.Errorf("configured to fail undo at %s", stage)
	}
	return nil
}

// Calls returns the recorded calls as "op stage id"
func (p *Test) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *Test) record(op string, stage types.Stage, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, op+" "+string(stage)+" "+id)
}
