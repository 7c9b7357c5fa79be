package types

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainerCloneIsDeep(t *testing.T) {
	orig := &Container{
		ID:    "c1",
		State: StateRunning,
		Config: &ContainerConfig{
			Plugins: map[string]PluginConfig{"logging": {Data: map[string]string{"sink": "file"}}},
			Network: &NetworkSpec{Mode: NetworkNAT, PortForwards: []PortForward{{HostPort: 8080, ContainerPort: 80}}},
		},
		Network: &NetworkAllocation{IPv4: net.ParseIP("100.64.11.2").To4()},
		Applied: []AppliedHook{{Plugin: "networking", Stage: StageCreateRuntime}},
		LastExit: &ExitStatus{Code: 1},
	}

	cp := orig.Clone()
	cp.Config.Plugins["logging"].Data["sink"] = "journal"
	cp.Config.Network.PortForwards[0].HostPort = 9090
	cp.Network.IPv4[3] = 99
	cp.Applied[0].Plugin = "other"
	cp.LastExit.Code = 2

	assert.Equal(t, "file", orig.Config.Plugins["logging"].Data["sink"])
	assert.Equal(t, 8080, orig.Config.Network.PortForwards[0].HostPort)
	assert.Equal(t, "100.64.11.2", orig.Network.IPv4.String())
	assert.Equal(t, "networking", orig.Applied[0].Plugin)
	assert.Equal(t, 1, orig.LastExit.Code)
}

func TestExitStatusCrashed(t *testing.T) {
	tests := []struct {
		name string
		exit ExitStatus
		want bool
	}{
		{"clean exit", ExitStatus{Code: 0}, false},
		{"non-zero exit", ExitStatus{Code: 3}, true},
		{"requested kill", ExitStatus{Signal: 15, Requested: true}, false},
		{"unexpected signal", ExitStatus{Signal: 11}, true},
		{"unknown", ExitStatus{Unknown: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.exit.Crashed())
		})
	}
}

func TestStageTeardown(t *testing.T) {
	assert.True(t, StagePostStop.Teardown())
	assert.True(t, StagePostHalt.Teardown())
	assert.False(t, StagePreCreation.Teardown())
	assert.False(t, StageCreateRuntime.Teardown())
}

func TestPluginLookup(t *testing.T) {
	var nilCfg *ContainerConfig
	_, ok := nilCfg.Plugin("networking")
	assert.False(t, ok)

	cfg := &ContainerConfig{Plugins: map[string]PluginConfig{"networking": {Required: true}}}
	pc, ok := cfg.Plugin("networking")
	assert.True(t, ok)
	assert.True(t, pc.Required)
}
