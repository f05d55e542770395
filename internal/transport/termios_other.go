//go:build !linux

package transport

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const ioctlInQueue = unix.FIONREAD

func openSerial(path string, _ int) (int, func() error, error) {
	return -1, nil, fmt.Errorf("%w: %s: %w", ErrSerialOpen, path, ErrUnsupported)
}
