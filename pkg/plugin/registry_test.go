package plugin

import (
	"context"
	"testing"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlugin struct {
	name   string
	stages []types.Stage
	deps   []string
}

func (p *stubPlugin) Name() string           { return p.name }
func (p *stubPlugin) Stages() []types.Stage  { return p.stages }
func (p *stubPlugin) Dependencies() []string { return p.deps }
func (p *stubPlugin) Run(context.Context, types.Stage, *HookContext) error { return nil }

func stub(name string, deps ...string) *stubPlugin {
	return &stubPlugin{name: name, stages: []types.Stage{types.StagePreCreation}, deps: deps}
}

func TestRegistryOrdersByDependency(t *testing.T) {
	reg, err := NewRegistry(
		stub("logging", "storage"),
		stub("networking"),
		stub("storage"),
		stub("gpu", "networking", "logging"),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"networking", "storage", "logging", "gpu"}, reg.Names())
}

func TestRegistryIsIndependentOfRegistrationOrder(t *testing.T) {
	a, err := NewRegistry(stub("c"), stub("b", "a"), stub("a"))
	require.NoError(t, err)
	b, err := NewRegistry(stub("a"), stub("c"), stub("b", "a"))
	require.NoError(t, err)

	assert.Equal(t, a.Names(), b.Names())
}

func TestRegistryRejectsInvalidGraphs(t *testing.T) {
	tests := []struct {
		name    string
		plugins []Plugin
		want    string
	}{
		{"duplicate", []Plugin{stub("a"), stub("a")}, "registered twice"},
		{"unknown dependency", []Plugin{stub("a", "missing")}, "unknown plugin missing"},
		{"self dependency", []Plugin{stub("a", "a")}, "depends on itself"},
		{"cycle", []Plugin{stub("a", "b"), stub("b", "c"), stub("c", "a"), stub("d")}, "cycle among a, b, c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.plugins...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRegistryForStage(t *testing.T) {
	net := &stubPlugin{name: "networking", stages: []types.Stage{types.StagePreCreation, types.StageCreateRuntime, types.StagePostHalt}}
	logging := stub("logging")
	reg, err := NewRegistry(net, logging)
	require.NoError(t, err)

	var names []string
	for _, r := range reg.ForStage(types.StagePreCreation) {
		names = append(names, r.Name())
	}
	assert.Equal(t, []string{"logging", "networking"}, names)

	runtime := reg.ForStage(types.StageCreateRuntime)
	require.Len(t, runtime, 1)
	assert.Equal(t, "networking", runtime[0].Name())

	assert.Empty(t, reg.ForStage(types.StagePostStart))
}
