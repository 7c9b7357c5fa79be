/*
Package api exposes the lifecycle manager to the outside of the daemon.

Service is the facade an IPC transport binds to: one method per lifecycle
operation plus a stream of committed state changes. It adds no semantics of
its own; every call is delegated to the lifecycle manager and every error
keeps its kind (types.ErrNotFound, types.ErrInvalidState, ...) so the
transport can map it to its own status codes.

HealthServer is a small HTTP endpoint for the device's supervisor and for
scraping:

	GET /health                  component health (metrics.HealthHandler)
	GET /ready                   readiness of runtime, network and work queue
	GET /metrics                 Prometheus exposition
	GET /containers              registry snapshot
	GET /containers/{id}         one container
	GET /containers/{id}/stats   resource usage

The HTTP endpoint is read-only: any method other than GET or HEAD is
rejected with 405, and lifecycle operations are only reachable through the
Service.

# Usage

	svc := api.NewService(mgr)
	hs := api.NewHealthServer(svc)
	go func() {
		if err := hs.Start(settings.MetricsAddr); err != nil {
			log.Logger.Error().Err(err).Msg("Health server failed")
		}
	}()
	defer hs.Shutdown(ctx)

	for change := range svc.StateChanges(ctx) {
		fmt.Printf("%s: %s -> %s\n", change.ID, change.OldState, change.NewState)
	}
*/
package api
