package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Probe checks whether a service inside a container answers on the
// container's address. A nil error means ready.
type Probe interface {
	Check(ctx context.Context, addr net.IP) error
	String() string
}

// dialTimeout bounds one attempt; the overall wait is bounded by the caller
const dialTimeout = 2 * time.Second

type tcpProbe struct {
	port int
}

func (p tcpProbe) Check(ctx context.Context, addr net.IP) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(addr.String(), strconv.Itoa(p.port)))
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p tcpProbe) String() string { return "tcp/" + strconv.Itoa(p.port) }

// httpProbe passes on any 2xx or 3xx answer to a GET of path. Redirects are
// not followed: a 3xx already shows the service is up.
type httpProbe struct {
	port   int
	path   string
	client *http.Client
}

func newHTTPProbe(port int, path string) httpProbe {
	return httpProbe{
		port: port,
		path: "/" + strings.TrimPrefix(path, "/"),
		client: &http.Client{
			Timeout: dialTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (p httpProbe) Check(ctx context.Context, addr net.IP) error {
	url := "http://" + net.JoinHostPort(addr.String(), strconv.Itoa(p.port)) + p.path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 399 {
		return fmt.Errorf("%s answered %s", url, resp.Status)
	}
	return nil
}

func (p httpProbe) String() string { return "http/" + strconv.Itoa(p.port) + p.path }

// parseProbe builds the probe described by the plugin data, or nil when
// none is configured
func parseProbe(data map[string]string) (Probe, error) {
	if v := data["tcp"]; v != "" {
		port, err := parsePort(v)
		if err != nil {
			return nil, err
		}
		return tcpProbe{port: port}, nil
	}
	if v := data["http"]; v != "" {
		portStr, path, _ := strings.Cut(v, "/")
		port, err := parsePort(portStr)
		if err != nil {
			return nil, err
		}
		return newHTTPProbe(port, path), nil
	}
	return nil, nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("invalid probe port %q", s)
	}
	return n, nil
}

// waitReady repeats p against addr every interval until it passes or ctx is
// done. It returns the number of attempts made.
func waitReady(ctx context.Context, p Probe, addr net.IP, interval time.Duration) (int, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempts := 1; ; attempts++ {
		err := p.Check(ctx, addr)
		if err == nil {
			return attempts, nil
		}
		select {
		case <-ctx.Done():
			return attempts, fmt.Errorf("%s on %s not ready after %d attempts: %v: %w", p, addr, attempts, err, ctx.Err())
		case <-ticker.C:
		}
	}
}
