package transport

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ioctlInQueue reports the number of bytes waiting to be read. TIOCINQ
// shares its value with FIONREAD and works for sockets as well as ttys.
const ioctlInQueue = unix.TIOCINQ

var baudCodes = map[int]uint32{
	50:     unix.B50,
	75:     unix.B75,
	110:    unix.B110,
	134:    unix.B134,
	150:    unix.B150,
	200:    unix.B200,
	300:    unix.B300,
	600:    unix.B600,
	1200:   unix.B1200,
	1800:   unix.B1800,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

func openSerial(path string, baudRate int) (int, func() error, error) {
	code, ok := baudCodes[baudRate]
	if !ok {
		return -1, nil, fmt.Errorf("%w: %d", ErrUnknownBaudRate, baudRate)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, nil, fmt.Errorf("%w: %s: %w", ErrSerialOpen, path, err)
	}

	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("%w: %s: reading line settings: %w", ErrSerialOpen, path, err)
	}

	// Raw 8N1, ignore modem lines, ignore parity errors, one byte per read.
	tio := unix.Termios{
		Iflag:  unix.IGNPAR,
		Cflag:  code | unix.CS8 | unix.CLOCAL | unix.CREAD,
		Ispeed: code,
		Ospeed: code,
	}
	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("%w: %s: flushing input: %w", ErrSerialOpen, path, err)
	}
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &tio); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("%w: %s: applying line settings: %w", ErrSerialOpen, path, err)
	}

	restore := func() error {
		return unix.IoctlSetTermios(fd, unix.TCSETS, saved)
	}
	return fd, restore, nil
}
