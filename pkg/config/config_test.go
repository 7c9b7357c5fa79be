package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, d.DataDir, s.DataDir)
	assert.Equal(t, d.Workers, s.Workers)
	assert.Equal(t, d.HookTimeout, s.HookTimeout)
	assert.Equal(t, d.MonitorInterval, s.MonitorInterval)
	assert.Equal(t, d.Runtime, s.Runtime)
	assert.Equal(t, d.Network.Bridge, s.Network.Bridge)
	assert.Equal(t, d.Network.RangeEnd, s.Network.RangeEnd)
	assert.True(t, s.Network.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/burrow
workers: 2
hook_timeout: 750ms
network:
  bridge: br-test
  dns_redirect: true
`)
	t.Setenv("BURROW_WORKERS", "6")
	t.Setenv("BURROW_NETWORK_MTU", "1400")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/burrow", s.DataDir)
	assert.Equal(t, 6, s.Workers)
	assert.Equal(t, 750*time.Millisecond, s.HookTimeout)
	assert.Equal(t, "br-test", s.Network.Bridge)
	assert.Equal(t, 1400, s.Network.MTU)
	assert.True(t, s.Network.DNSRedirect)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(*Settings) {}, false},
		{"zero workers", func(s *Settings) { s.Workers = 0 }, true},
		{"bad log level", func(s *Settings) { s.LogLevel = "loud" }, true},
		{"bridge name too long", func(s *Settings) { s.Network.Bridge = "a-very-long-bridge-name" }, true},
		{"range outside subnet", func(s *Settings) { s.Network.RangeEnd = "100.64.12.5" }, true},
		{"range reversed", func(s *Settings) { s.Network.RangeStart = "100.64.11.200"; s.Network.RangeEnd = "100.64.11.10" }, true},
		{"bridge inside range", func(s *Settings) { s.Network.BridgeAddress = "100.64.11.20" }, true},
		{"ipv6 prefix too long", func(s *Settings) { s.Network.IPv6Prefix = "fd00::/112" }, true},
		{"ipv6 prefix", func(s *Settings) { s.Network.IPv6Prefix = "fd00:dead::/64" }, false},
		{"network disabled skips pool", func(s *Settings) { s.Network.Enabled = false; s.Network.RangeEnd = "100.64.12.5" }, false},
		{"bad metrics addr", func(s *Settings) { s.MetricsAddr = "nope" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPool(t *testing.T) {
	n := Default().Network
	n.IPv6Prefix = "fd00:dead::/64"

	p, err := n.Pool()
	require.NoError(t, err)
	assert.Equal(t, 249, p.Size())
	assert.Equal(t, "fd00:dead::6440:b02", p.MapIPv6(net.ParseIP("100.64.11.2")).String())

	n.IPv6Prefix = ""
	p, err = n.Pool()
	require.NoError(t, err)
	assert.Nil(t, p.MapIPv6(net.ParseIP("100.64.11.2")))
}
