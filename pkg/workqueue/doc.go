/*
Package workqueue serializes mutating lifecycle operations.

Every task is bound to a key, normally a container id. The queue guarantees:

  - tasks for one key run in submission order and never overlap
  - tasks for different keys run in parallel on the worker pool
  - keys with pending work are served round robin
  - each task's result is delivered exactly once, through its Ticket and,
    when given, its Callback
  - a queued task can be cancelled; an executing task is never preempted

# Architecture

	Submit(key, task)
	      │
	      ▼
	 lanes[key] ── FIFO per key ──┐
	                              │   ready: keys with pending work
	                              ▼   and nothing executing
	             ┌──────── ready ring ────────┐
	             ▼              ▼             ▼
	         worker 1       worker 2  …   RunOne / RunFor / RunUntil
	                                      (inline, caller goroutine)

A key leaves the ready ring while one of its tasks executes and rejoins at
the tail when the task returns, which is what gives per-key exclusivity and
fairness at the same time.

# Usage

	q := workqueue.New(workqueue.Config{Workers: settings.Workers})
	q.Start()
	defer q.Stop()

	err := q.Do(ctx, id, func(ctx context.Context) error {
		return m.doStop(ctx, id, false)
	})

Tests usually skip Start and drive execution deterministically:

	q := workqueue.New(workqueue.Config{})
	ticket, _ := q.Submit("c1", task)
	q.RunFor(100 * time.Millisecond)
	<-ticket.Done()

Stop fails every queued task with ErrClosed and waits for executing tasks.
*/
package workqueue
