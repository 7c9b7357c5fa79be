/*
Package runtime drives the external OCI runtime and watches the processes it
spawns.

# Runtime

Runtime is the narrow interface the lifecycle manager uses. Runc implements
it on top of github.com/containerd/go-runc:

	Create   runc create --bundle <dir> --pid-file <dir>/init.pid <id>
	Start    runc start <id>
	Kill     runc kill [--all] <id> <signal>
	Pause    runc pause <id>
	Resume   runc resume <id>
	Delete   runc delete [--force] <id>
	State    runc state <id>
	Stats    runc events --stats <id>

The container's stdout and stderr are plain files (or /dev/null) handed to
runc create. The container keeps them after runc exits, so nothing in the
daemon has to drain a pipe.

Failures are mapped onto the daemon's error kinds: an unknown container is
types.ErrNotFound, a failed create or start is types.ErrRuntimeSpawn, an
expired context is types.ErrTimeout.

# Bundles

LoadBundle reads config.json from a bundle and checks the fields the daemon
relies on. Plugins then mutate the document, and WritePrivateBundle writes the
result under <data_dir>/bundles/<id>, which is the bundle runc is pointed at.
The rootfs is never copied or modified. An optional burrow.yaml next to
config.json carries the per-container daemon configuration.

# Exit monitoring

The daemon registers as a child subreaper (SetSubreaper), so each container
init process becomes its child once runc create returns. Monitor polls the
watched pids with a non-blocking wait4 from one goroutine and delivers one
ExitEvent per exit. An exit the daemon asked for (MarkSignalled) is flagged
as requested so it is not counted as a crash. A process that vanished
without a status the daemon could collect is reported with Unknown set.
*/
package runtime
