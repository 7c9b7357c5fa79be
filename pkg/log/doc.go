/*
Package log provides structured logging for burrow using zerolog.

A single package-level zerolog.Logger is configured once at daemon start with
Init and shared by every component. Component loggers add a "component" field,
container loggers a "container_id" field, and plugin loggers the "plugin" and
"stage" fields, so that one container's lifecycle can be followed across the
work queue, the plugin orchestrator, the network engine and the runtime
adapter with a single filter.

# Configuration

	log.Init(log.Config{
		Level:      log.ParseLevel(settings.LogLevel),
		JSONOutput: settings.LogJSON,
		Output:     os.Stderr,
	})

Console output (the default) is meant for a serial console or journal on the
device. JSON output is meant for log shipping.

# Usage

	logger := log.WithComponent("network")
	logger.Info().
		Str("container_id", id).
		Str("ipv4", addr.String()).
		Str("veth", veth).
		Msg("Network attached")

	clog := log.WithContainerID(id)
	clog.Warn().Err(err).Msg("Rollback step failed")

Fields used throughout the daemon:

	component     manager, workqueue, plugin, network, netfilter, runtime, api
	container_id  container the entry refers to
	plugin/stage  hook being executed
	pid           container init pid
	chain/table   firewall chain touched

# Thread Safety

zerolog loggers are safe for concurrent use. Init is not and must run before
any component starts.
*/
package log
