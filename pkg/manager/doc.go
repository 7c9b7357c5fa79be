/*
Package manager implements the burrow lifecycle manager.

The Manager owns the container registry and is the only component allowed to
change a container's state. Every mutating operation (CreateAndStart, Stop,
Pause, Resume, Restart, Remove) and every reaction to an init process exit
runs as a work queue task keyed by the container id, so operations on one
container are strictly ordered while different containers proceed in
parallel. Reads (StateOf, Get, List, SpecOf, StatsOf) take the registry read
lock and never wait behind a task.

# State Machine

	          createAndStart
	 (none) ─────────────────► Starting ──────► Running ◄────► Paused
	                              │  ▲            │               │
	                              │  │ restart    │ stop          │ stop (prejudice)
	                              │  │            ▼               ▼
	                              │  └──────── Stopping ◄──────────┘
	                              │                │
	                              ▼                ▼
	                           Failed          Stopped ──► removed / evicted

Every committed transition is persisted (when a store is configured),
counted in burrow_state_transitions_total and published as one
container.state_changed event, in commit order.

# Creation

CreateAndStart registers the id in Starting, then:

 1. runs pre-creation hooks on a copy of the bundle's config document
 2. writes the mutated document as a private bundle under the data dir
 3. creates the container through the runtime and starts watching its pid
 4. runs create-runtime hooks (network setup) and create-container hooks
 5. starts the container and runs post-start hooks

A failure at any step unwinds the hooks applied so far in reverse order,
deletes the runtime container and the private bundle and drops the registry
entry, so a failed creation leaves nothing behind. Subscribers see the
attempt close with Starting -> Failed followed by container.removed.

# Exits

The runtime Monitor reaps init processes and reports their exits. An exit
wakes a Stop waiting for it; an exit nobody asked for is handled on the
container's lane: post-halt hooks release the network, the runtime container
is deleted, post-stop hooks run, and the container becomes Stopped (any exit
code) or Failed (killed by a signal burrow did not send, or the status was
lost). Containers configured with restart_on_crash are respawned instead, at
most ten times in five minutes.

# Descriptors

Each registered container holds a small integer descriptor (1..1023),
unique while registered and reused after removal. Lookup maps it back to the
id.

# Usage

	m, err := manager.NewManager(&manager.Config{
		DataDir: settings.DataDir,
		Runtime: rt,
		Monitor: runtime.NewMonitor(runtime.WaitReaper{}, settings.MonitorInterval),
		Queue:   workqueue.New(workqueue.Config{Workers: settings.Workers}),
		Plugins: orchestrator,
		Events:  broker,
		Store:   store,
	})
	if err != nil {
		return err
	}
	if err := m.Recover(ctx); err != nil {
		log.Logger.Warn().Err(err).Msg("Startup cleanup incomplete")
	}
	m.Start()
	defer m.Close(ctx)

	err = m.CreateAndStart(ctx, "sensor", "/var/lib/bundles/sensor", nil)
*/
package manager
