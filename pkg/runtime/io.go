package runtime

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// fileIO connects the runtime command, and through it the container, to
// plain files. The container inherits the descriptors, so the runtime
// command must never see a pipe it would wait on.
type fileIO struct {
	stdin *os.File
	out   *os.File
}

func newFileIO(path string) (*fileIO, error) {
	stdin, err := os.Open(os.DevNull)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = os.DevNull
	} else if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to open container output %s: %w", path, err)
	}
	return &fileIO{stdin: stdin, out: out}, nil
}

func (f *fileIO) Close() error {
	return errors.Join(f.stdin.Close(), f.out.Close())
}

func (f *fileIO) Stdin() io.WriteCloser { return nil }
func (f *fileIO) Stdout() io.ReadCloser { return nil }
func (f *fileIO) Stderr() io.ReadCloser { return nil }

func (f *fileIO) Set(cmd *exec.Cmd) {
	cmd.Stdin = f.stdin
	cmd.Stdout = f.out
	cmd.Stderr = f.out
}
