package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// Runtime container statuses, as reported by the OCI runtime
const (
	StatusCreated = "created"
	StatusRunning = "running"
	StatusPaused  = "paused"
	StatusStopped = "stopped"
)

// Status is the runtime's own view of a container
type Status struct {
	ID      string
	Pid     int
	Status  string
	Bundle  string
	Created time.Time
}

// CreateOptions configure container creation
type CreateOptions struct {
	// Stdio is a file that receives the container's stdout and stderr.
	// Empty discards them.
	Stdio string
}

// Runtime drives an external OCI runtime. Create leaves the container's
// init process waiting; Start releases it.
type Runtime interface {
	Create(ctx context.Context, id, bundle string, opts CreateOptions) (int, error)
	Start(ctx context.Context, id string) error
	Kill(ctx context.Context, id string, sig syscall.Signal, all bool) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Delete(ctx context.Context, id string, force bool) error
	State(ctx context.Context, id string) (*Status, error)
	Stats(ctx context.Context, id string) (*types.Stats, error)
	List(ctx context.Context) ([]*Status, error)
}

// translate maps runtime failures onto the daemon's error kinds
func translate(op, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("runtime %s %s: %v: %w", op, id, err, types.ErrTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("runtime %s %s: %v: %w", op, id, err, types.ErrCancelled)
	}
	msg := err.Error()
	if strings.Contains(msg, "does not exist") || strings.Contains(msg, "not exist") {
		return fmt.Errorf("runtime %s %s: %v: %w", op, id, err, types.ErrNotFound)
	}
	if op == "create" || op == "start" {
		return fmt.Errorf("runtime %s %s: %v: %w", op, id, err, types.ErrRuntimeSpawn)
	}
	return fmt.Errorf("runtime %s %s: %w", op, id, err)
}
