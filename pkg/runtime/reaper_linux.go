package runtime

import (
	"errors"
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
	"golang.org/x/sys/unix"
)

// WaitReaper reaps children of the daemon with wait4. Container init
// processes become children once the daemon is a child subreaper.
type WaitReaper struct{}

func (WaitReaper) Reap(pid int) (types.ExitStatus, bool, error) {
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	switch {
	case errors.Is(err, unix.EINTR):
		return types.ExitStatus{}, false, nil
	case errors.Is(err, unix.ECHILD):
		// Not ours to reap. Gone means the status is lost.
		if kerr := unix.Kill(pid, 0); errors.Is(kerr, unix.ESRCH) {
			return types.ExitStatus{Unknown: true}, true, nil
		}
		return types.ExitStatus{}, false, nil
	case err != nil:
		return types.ExitStatus{}, false, fmt.Errorf("wait4 %d: %w", pid, err)
	case wpid == 0:
		return types.ExitStatus{}, false, nil
	}

	if ws.Signaled() {
		return types.ExitStatus{Signal: int(ws.Signal())}, true, nil
	}
	return types.ExitStatus{Code: ws.ExitStatus()}, true, nil
}

// SetSubreaper makes the daemon the reaper of orphaned descendants, which
// includes every container init process once runc exits
func SetSubreaper() error {
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("failed to become child subreaper: %w", err)
	}
	return nil
}
