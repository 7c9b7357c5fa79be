package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)

// Volume is a host directory bind mounted into one container
type Volume struct {
	Container   string
	Name        string
	Destination string // Absolute path inside the container
	Ephemeral   bool   // Deleted when the container stops
}

// LocalDriver keeps volumes as plain directories under a base path,
// one subdirectory per container
type LocalDriver struct {
	basePath string
}

// NewLocalDriver creates a new local volume driver
func NewLocalDriver(basePath string) (*LocalDriver, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create volumes directory: %w", err)
	}
	return &LocalDriver{basePath: basePath}, nil
}

// Path returns the host directory of v
func (d *LocalDriver) Path(v *Volume) string {
	return filepath.Join(d.basePath, v.Container, v.Name)
}

// Create makes the directory of v. created reports whether it did not exist
// before, so callers know whether undoing the creation may delete it.
func (d *LocalDriver) Create(v *Volume) (path string, created bool, err error) {
	path = d.Path(v)
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create volume directory: %w", err)
	}
	return path, true, nil
}

// Delete removes the directory of v and everything in it
func (d *LocalDriver) Delete(v *Volume) error {
	if err := os.RemoveAll(d.Path(v)); err != nil {
		return fmt.Errorf("failed to delete volume %s of %s: %w", v.Name, v.Container, err)
	}
	// Drop the container directory once its last volume is gone.
	_ = os.Remove(filepath.Join(d.basePath, v.Container))
	return nil
}
