package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var loopback = net.IPv4(127, 0, 0, 1)

func listenerPort(t *testing.T, addr net.Addr) int {
	t.Helper()
	_, p, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return n
}

func TestHTTPProbeStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		ready  bool
	}{
		{"ok", http.StatusOK, true},
		{"redirect is not followed", http.StatusFound, true},
		{"unavailable", http.StatusServiceUnavailable, false},
		{"not found", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/ready", r.URL.Path)
				if tt.status == http.StatusFound {
					w.Header().Set("Location", "/elsewhere")
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			probe := newHTTPProbe(listenerPort(t, server.Listener.Addr()), "ready")
			err := probe.Check(context.Background(), loopback)
			if tt.ready {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestTCPProbe(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	probe := tcpProbe{port: listenerPort(t, lis.Addr())}

	assert.NoError(t, probe.Check(context.Background(), loopback))

	lis.Close()
	assert.Error(t, probe.Check(context.Background(), loopback))
}

func TestParseProbe(t *testing.T) {
	p, err := parseProbe(map[string]string{"tcp": "6379"})
	require.NoError(t, err)
	assert.Equal(t, "tcp/6379", p.String())

	p, err = parseProbe(map[string]string{"http": "8080/healthz"})
	require.NoError(t, err)
	assert.Equal(t, "http/8080/healthz", p.String())

	p, err = parseProbe(map[string]string{"http": "8080"})
	require.NoError(t, err)
	assert.Equal(t, "http/8080/", p.String())

	p, err = parseProbe(nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = parseProbe(map[string]string{"tcp": "0"})
	assert.Error(t, err)
}

func TestWaitReadyCountsAttempts(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr()
	lis.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	attempts, err := waitReady(ctx, tcpProbe{port: listenerPort(t, addr)}, loopback, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, attempts, 1)
	assert.Contains(t, err.Error(), "not ready")
}
