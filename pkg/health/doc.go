/*
Package health probes services inside containers.

A Probe checks one port of a container's bridge address: a TCP connect, or
an HTTP GET that must answer 2xx or 3xx. The probe is repeated until it
passes or its context ends.

The "healthcheck" plugin uses them at post-start to hold a container in
Starting until the service inside answers on the container's bridge address.
Enabled as required, a probe that never passes fails the creation and
everything done for the container is rolled back:

	plugins:
	  networking:
	    required: true
	  healthcheck:
	    required: true
	    data:
	      http: "8080/healthz"
	      timeout: "20s"

The probe is bounded by the daemon's hook timeout as well as its own
timeout, so hook_timeout must be at least as long as the slowest service
start.
*/
package health
