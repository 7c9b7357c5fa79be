/*
Package events provides the in-memory event broker through which burrow
reports lifecycle changes to the outside world.

The lifecycle manager publishes one container.state_changed event for every
committed transition, in commit order. Collaborators outside the core (the
api state stream, the start command, tests) subscribe to the broker instead of
being called directly, which keeps them out of the work queue's critical path.

# Architecture

	 manager task commits transition
	              │
	              ▼
	   Broker.PublishStateChange ──► eventCh (buffer 100)
	                                     │
	                               run loop (one goroutine)
	                                     │
	          ┌──────────────────────────┼──────────────────────────┐
	          ▼                          ▼                          ▼
	   api.StateChanges           burrowd start              tests
	   (buffer 50)                (buffer 50)                (buffer 50)

A single distribution goroutine preserves publish order for every subscriber.
A subscriber whose buffer is full misses the event rather than stalling the
daemon.

# Event Types

	container.state_changed   Change holds {ID, OldState, NewState}
	container.created         runtime process spawned; Metadata: bundle, pid
	container.stopped         init process gone; Metadata: pid, exit_code, signal
	container.removed         registry entry deleted
	container.restarted       crash restart performed
	network.attached          Metadata: ipv4, veth
	network.detached
	logging.target_assigned   Metadata: path

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		if ev.Type == events.EventStateChanged {
			fmt.Println(ev.ContainerID, ev.Change.NewState)
		}
	}
*/
package events
