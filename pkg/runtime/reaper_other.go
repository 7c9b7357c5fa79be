//go:build !linux

package runtime

import (
	"errors"

	"github.com/cuemby/burrow/pkg/types"
)

var errUnsupported = errors.New("process reaping requires linux")

// WaitReaper is only functional on linux
type WaitReaper struct{}

func (WaitReaper) Reap(pid int) (types.ExitStatus, bool, error) {
	return types.ExitStatus{}, false, errUnsupported
}

// SetSubreaper is only functional on linux
func SetSubreaper() error {
	return errUnsupported
}
