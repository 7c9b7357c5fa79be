/*
Package plugin runs lifecycle hooks of registered plugins.

Plugins implement a fixed interface (Name, Stages, Dependencies, Run and
optionally Undo) and are registered once at daemon start. A container enables
the plugins it wants through its configuration:

	plugins:
	  networking:
	    required: true
	  logging:
	    data:
	      sink: file

# Ordering

NewRegistry orders plugins so that each one comes after its dependencies,
breaking ties by name. Unknown dependencies and cycles are rejected at
registration. Setup stages (pre-creation, create-runtime, create-container,
post-start) run in that order; teardown stages (post-stop, post-halt) run in
the reverse order.

# Failures

	required hook fails   retried Config.Retries times, then the stage stops
	                      with a *types.HookError
	optional hook fails   logged, the stage continues, dependents are skipped
	teardown hook fails   logged, every other hook still runs, errors joined
	hook times out        counts as a failure wrapping types.ErrTimeout; the
	                      hook is still awaited, and undone if it succeeds late
	dependency disabled   treated like a failed dependency

The orchestrator keeps no per-container state. RunStage returns the hooks it
applied; the lifecycle manager stores them on the container and hands them
back to Unwind, which calls Undo in reverse order, when a later step fails.

# Built-in plugins

	rtscheduling  caps RLIMIT_RTPRIO (and optionally cpu.rt_runtime_us)
	logging       sends container output to <data_dir>/logs/<id>.log
	test          fails on demand, for exercising rollback

The networking plugin lives in the network package next to the engine it
drives.
*/
package plugin
