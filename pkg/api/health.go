package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// HealthServer serves health, readiness, metrics and a read-only view of
// the container registry over HTTP
type HealthServer struct {
	svc    *Service
	mux    *http.ServeMux
	server *http.Server
}

// NewHealthServer creates the HTTP endpoint. svc may be nil, in which case
// only /health, /ready and /metrics are served.
func NewHealthServer(svc *Service) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		svc: svc,
		mux: mux,
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.Handle("/health", readOnly(metrics.HealthHandler()))
	mux.Handle("/ready", readOnly(metrics.ReadyHandler()))
	mux.Handle("/metrics", readOnly(metrics.Handler()))
	if svc != nil {
		mux.Handle("/containers", readOnly(http.HandlerFunc(hs.listHandler)))
		mux.Handle("/containers/{id}", readOnly(http.HandlerFunc(hs.containerHandler)))
		mux.Handle("/containers/{id}/stats", readOnly(http.HandlerFunc(hs.statsHandler)))
	}

	return hs
}

// Start serves on addr until Shutdown is called
func (hs *HealthServer) Start(addr string) error {
	hs.server.Addr = addr
	err := hs.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server started by Start
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	return hs.server.Shutdown(ctx)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

// ContainerResponse is the JSON view of one container
type ContainerResponse struct {
	ID         string            `json:"id"`
	Descriptor int               `json:"descriptor"`
	State      types.State       `json:"state"`
	StateSince time.Time         `json:"state_since"`
	Pid        int               `json:"pid,omitempty"`
	Bundle     string            `json:"bundle"`
	IPv4       string            `json:"ipv4,omitempty"`
	Restarts   int               `json:"restarts,omitempty"`
	LastExit   *types.ExitStatus `json:"last_exit,omitempty"`
}

func containerResponse(c *types.Container) ContainerResponse {
	resp := ContainerResponse{
		ID:         c.ID,
		Descriptor: c.Descriptor,
		State:      c.State,
		StateSince: c.StateSince,
		Pid:        c.Pid,
		Bundle:     c.BundlePath,
		Restarts:   c.Restarts,
		LastExit:   c.LastExit,
	}
	if c.Network != nil {
		resp.IPv4 = c.Network.IPv4.String()
	}
	return resp
}

func (hs *HealthServer) listHandler(w http.ResponseWriter, r *http.Request) {
	list := hs.svc.ListContainers()
	out := make([]ContainerResponse, 0, len(list))
	for _, c := range list {
		out = append(out, containerResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (hs *HealthServer) containerHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, c := range hs.svc.ListContainers() {
		if c.ID == id {
			writeJSON(w, http.StatusOK, containerResponse(c))
			return
		}
	}
	writeError(w, types.ErrNotFound)
}

func (hs *HealthServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := hs.svc.StatsOfContainer(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ErrorResponse is the JSON body of a failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), ErrorResponse{Error: err.Error()})
}

// httpStatus maps an error kind to a status code
func httpStatus(err error) int {
	switch {
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsAlreadyExists(err), errdefs.IsFailedPrecondition(err):
		return http.StatusConflict
	case errdefs.IsDeadlineExceeded(err):
		return http.StatusGatewayTimeout
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
