package transport

import (
	"fmt"
	"slices"
)

// SupportedBaudRates lists the baud rates a serial endpoint accepts.
var SupportedBaudRates = []int{
	50, 75, 110, 134, 150, 200, 300, 600, 1200, 1800, 2400, 4800,
	9600, 19200, 38400, 57600, 115200, 230400,
}

// ValidBaudRate reports whether rate is in SupportedBaudRates.
func ValidBaudRate(rate int) bool {
	return slices.Contains(SupportedBaudRates, rate)
}

// serialEndpoint opens a tty in raw 8N1 mode. The previous line settings
// are restored when the connection closes.
type serialEndpoint struct {
	path     string
	baudRate int
}

func (s serialEndpoint) open() (int, func() error, error) {
	if !ValidBaudRate(s.baudRate) {
		return -1, nil, fmt.Errorf("%w: %d", ErrUnknownBaudRate, s.baudRate)
	}
	return openSerial(s.path, s.baudRate)
}
