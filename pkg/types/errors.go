package types

import (
	"context"
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Error kinds reported by lifecycle operations. Each kind wraps the errdefs
// class it belongs to, so callers may match either one with errors.Is.
var (
	ErrDuplicateID        = fmt.Errorf("duplicate container id: %w", errdefs.ErrAlreadyExists)
	ErrNotFound           = fmt.Errorf("container not found: %w", errdefs.ErrNotFound)
	ErrInvalidState       = fmt.Errorf("invalid container state: %w", errdefs.ErrFailedPrecondition)
	ErrInvalidBundle      = fmt.Errorf("invalid bundle: %w", errdefs.ErrInvalidArgument)
	ErrRuntimeSpawn       = fmt.Errorf("runtime spawn failed: %w", errdefs.ErrUnavailable)
	ErrHookFailure        = fmt.Errorf("hook failed: %w", errdefs.ErrAborted)
	ErrNetworkAllocation  = fmt.Errorf("network allocation failed: %w", errdefs.ErrUnavailable)
	ErrNoAddressAvailable = fmt.Errorf("no address available: %w (%w)", ErrNetworkAllocation, errdefs.ErrResourceExhausted)
	ErrInterfaceCreate    = fmt.Errorf("interface create failed: %w", errdefs.ErrUnavailable)
	ErrRuleApply          = fmt.Errorf("rule apply failed: %w", errdefs.ErrUnavailable)
	ErrTimeout            = fmt.Errorf("timed out: %w", context.DeadlineExceeded)
	ErrCancelled          = fmt.Errorf("cancelled: %w", context.Canceled)
)

// HookError reports a failed plugin hook
type HookError struct {
	Plugin string
	Stage  Stage
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin %s failed at %s: %v", e.Plugin, e.Stage, e.Err)
}

func (e *HookError) Unwrap() []error {
	return []error{ErrHookFailure, e.Err}
}

// Retryable reports whether err is transient and the operation may be
// retried. Pool exhaustion counts: addresses return to the pool on teardown.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidBundle) {
		return false
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNetworkAllocation) ||
		errdefs.IsUnavailable(err)
}

// StateError builds an ErrInvalidState for an operation attempted in the wrong state
func StateError(op, id string, state State) error {
	return fmt.Errorf("cannot %s container %s in state %s: %w", op, id, state, ErrInvalidState)
}
