/*
Package storage persists burrow's restart-relevant state in a single BoltDB
file (<data_dir>/burrow.db).

Only state that outlives the process is stored here. The in-memory registry
owned by the lifecycle manager stays authoritative while the daemon runs; the
store lets a restarted daemon find what its predecessor left behind.

# Buckets

	allocations   container id → NetworkAllocation (JSON)
	containers    container id → Container record (JSON)
	meta          small string values, e.g. the address pool cursor

# Usage

	store, err := storage.NewBoltStore(settings.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	stale, _ := store.ListAllocations()
	for _, alloc := range stale {
		engine.Teardown(ctx, alloc)
	}

Writes go through bolt.DB.Update and are durable when they return. Get
operations report types.ErrNotFound for missing keys; deletes of missing keys
succeed.
*/
package storage
