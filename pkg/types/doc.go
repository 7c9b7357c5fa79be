/*
Package types defines the core data structures shared by every burrow package.

It holds the container record owned by the lifecycle manager, the lifecycle
state and hook stage enumerations, per-container configuration, network
allocations, firewall rule handles, the outward state change event, and the
error kinds returned by lifecycle operations.

# Core Types

Containers:
  - Container: registry record (id, bundle, pid, state, applied hooks)
  - State: starting, running, paused, stopping, stopped, failed
  - ExitStatus: exit code or terminating signal of the init process
  - Stats: resource snapshot returned by statsOf

Configuration:
  - ContainerConfig: plugins, network request, restart policy
  - PluginConfig: enables a plugin, marks it required, carries plugin data
  - NetworkSpec / PortForward: network mode and published ports

Plugins:
  - Stage: lifecycle point at which hooks run
  - AppliedHook: one hook that succeeded and may need rolling back

Networking:
  - NetworkAllocation: address, veth and rule handle owned by a container
  - RuleHandle / ChainRef: dedicated firewall chains installed for it

# State Machine

	Starting → Running ⇄ Paused
	              ↓        ↓
	           Stopping ←──┘
	              ↓
	           Stopped

	any state → Failed (unrecoverable runtime error, required hook exhausted)

Stopped and Failed are terminal; the record stays visible until it is removed
explicitly or evicted.

# Errors

Every lifecycle error kind wraps a github.com/containerd/errdefs class:

	ErrDuplicateID        → errdefs.ErrAlreadyExists
	ErrNotFound           → errdefs.ErrNotFound
	ErrInvalidState       → errdefs.ErrFailedPrecondition
	ErrInvalidBundle      → errdefs.ErrInvalidArgument
	ErrRuntimeSpawn       → errdefs.ErrUnavailable
	ErrHookFailure        → errdefs.ErrAborted
	ErrNoAddressAvailable → ErrNetworkAllocation, errdefs.ErrResourceExhausted
	ErrTimeout            → context.DeadlineExceeded (errdefs.IsDeadlineExceeded)
	ErrCancelled          → context.Canceled (errdefs.IsCanceled)

so both of these hold for a duplicate create:

	errors.Is(err, types.ErrDuplicateID)
	errdefs.IsAlreadyExists(err)

HookError carries the failing plugin and stage and unwraps to both
ErrHookFailure and the plugin's own error.

# Thread Safety

Values in this package carry no locks. The manager mutates Container records
only from work queue tasks and hands readers copies made with Clone.
*/
package types
