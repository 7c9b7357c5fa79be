package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/containerd/go-runc"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

const pidFileName = "init.pid"

// Runc drives the runc binary
type Runc struct {
	rc     *runc.Runc
	logger zerolog.Logger
}

// NewRunc creates a runc driver from the runtime settings
func NewRunc(cfg config.Runtime) (*Runc, error) {
	if cfg.Root != "" {
		if err := os.MkdirAll(cfg.Root, 0o711); err != nil {
			return nil, fmt.Errorf("failed to create runtime root: %w", err)
		}
	}
	rc := &runc.Runc{
		Command:       cfg.Binary,
		Root:          cfg.Root,
		Log:           cfg.LogFile,
		SystemdCgroup: cfg.SystemdCgroup,
	}
	if cfg.LogFile != "" {
		rc.LogFormat = runc.JSON
	}
	metrics.UpdateComponent(metrics.ComponentRuntime, true, "")
	return &Runc{rc: rc, logger: log.WithComponent("runtime")}, nil
}

// Create runs "runc create" for bundle and returns the pid of the waiting
// init process
func (r *Runc) Create(ctx context.Context, id, bundle string, opts CreateOptions) (int, error) {
	stdio, err := newFileIO(opts.Stdio)
	if err != nil {
		return 0, fmt.Errorf("runtime create %s: %v: %w", id, err, types.ErrRuntimeSpawn)
	}
	defer stdio.Close()

	pidFile := filepath.Join(bundle, pidFileName)
	os.Remove(pidFile)

	err = r.rc.Create(ctx, id, bundle, &runc.CreateOpts{
		IO:      stdio,
		PidFile: pidFile,
	})
	if err != nil {
		return 0, translate("create", id, err)
	}

	pid, err := runc.ReadPidFile(pidFile)
	if err != nil {
		r.rc.Delete(context.WithoutCancel(ctx), id, &runc.DeleteOpts{Force: true})
		return 0, fmt.Errorf("runtime create %s: unreadable pid file: %v: %w", id, err, types.ErrRuntimeSpawn)
	}

	r.logger.Debug().Str("container_id", id).Int("pid", pid).Str("bundle", bundle).Msg("Container created")
	return pid, nil
}

func (r *Runc) Start(ctx context.Context, id string) error {
	return translate("start", id, r.rc.Start(ctx, id))
}

func (r *Runc) Kill(ctx context.Context, id string, sig syscall.Signal, all bool) error {
	return translate("kill", id, r.rc.Kill(ctx, id, int(sig), &runc.KillOpts{All: all}))
}

func (r *Runc) Pause(ctx context.Context, id string) error {
	return translate("pause", id, r.rc.Pause(ctx, id))
}

func (r *Runc) Resume(ctx context.Context, id string) error {
	return translate("resume", id, r.rc.Resume(ctx, id))
}

func (r *Runc) Delete(ctx context.Context, id string, force bool) error {
	return translate("delete", id, r.rc.Delete(ctx, id, &runc.DeleteOpts{Force: force}))
}

func (r *Runc) State(ctx context.Context, id string) (*Status, error) {
	c, err := r.rc.State(ctx, id)
	if err != nil {
		return nil, translate("state", id, err)
	}
	return fromContainer(c), nil
}

func (r *Runc) Stats(ctx context.Context, id string) (*types.Stats, error) {
	s, err := r.rc.Stats(ctx, id)
	if err != nil {
		return nil, translate("stats", id, err)
	}
	stats := &types.Stats{ID: id, Timestamp: time.Now()}
	if s != nil {
		stats.Pids = s.Pids.Current
		stats.CPUUsage = s.Cpu.Usage.Total
		stats.MemoryUsage = s.Memory.Usage.Usage
		stats.MemoryLimit = s.Memory.Usage.Limit
	}
	return stats, nil
}

func (r *Runc) List(ctx context.Context) ([]*Status, error) {
	cs, err := r.rc.List(ctx)
	if err != nil {
		return nil, translate("list", "", err)
	}
	out := make([]*Status, 0, len(cs))
	for _, c := range cs {
		out = append(out, fromContainer(c))
	}
	return out, nil
}

func fromContainer(c *runc.Container) *Status {
	return &Status{
		ID:      c.ID,
		Pid:     c.Pid,
		Status:  c.Status,
		Bundle:  c.Bundle,
		Created: c.Created,
	}
}
