package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultResolveTimeout bounds host name resolution during Open.
const DefaultResolveTimeout = 5 * time.Second

// networkEndpoint connects a TCP stream socket. The connect itself is
// blocking; the descriptor is switched to non-blocking once connected.
type networkEndpoint struct {
	host    string
	port    uint16
	timeout time.Duration
}

func (n networkEndpoint) open() (int, func() error, error) {
	timeout := n.timeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, n.host)
	if err != nil {
		return -1, nil, fmt.Errorf("%w: %s: %w", ErrHostResolution, n.host, err)
	}
	if len(addrs) == 0 {
		return -1, nil, fmt.Errorf("%w: %s: no addresses", ErrHostResolution, n.host)
	}

	var lastErr error
	for _, addr := range addrs {
		fd, err := connectTCP(addr.IP, n.port)
		if err == nil {
			return fd, nil, nil
		}
		lastErr = err
	}
	return -1, nil, fmt.Errorf("%w: %s: %w", ErrSocketOpen,
		net.JoinHostPort(n.host, fmt.Sprint(n.port)), lastErr)
}

func connectTCP(ip net.IP, port uint16) (int, error) {
	var (
		family int
		sa     unix.Sockaddr
	)
	if ip4 := ip.To4(); ip4 != nil {
		sa4 := &unix.SockaddrInet4{Port: int(port)}
		copy(sa4.Addr[:], ip4)
		family, sa = unix.AF_INET, sa4
	} else {
		sa6 := &unix.SockaddrInet6{Port: int(port)}
		copy(sa6.Addr[:], ip.To16())
		family, sa = unix.AF_INET6, sa6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	// Small JSON messages; do not wait to coalesce.
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return fd, nil
}
