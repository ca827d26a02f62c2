package server

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/mmahmood233/localhost/internal/config"
)

// boundListener is one bound, listening, non-blocking socket fd paired
// with the config.Listener it serves, per spec.md §4.K.
type boundListener struct {
	fd  int
	cfg *config.Listener
}

// bindListener creates, binds and listens on addr:port using raw
// golang.org/x/sys/unix socket calls rather than net.Listen, because the
// reactor needs the bare fd to register for readiness itself (spec.md
// §4.A/§4.K: the listener fd is just another readiness source).
func bindListener(l *config.Listener) (*boundListener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("server: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("server: setsockopt SO_REUSEADDR: %w", err)
	}

	addr, err := resolveIPv4(l.Address)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	sa := &unix.SockaddrInet4{Port: l.Port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("server: bind %s:%d: %w", l.Address, l.Port, err)
	}

	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("server: listen: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("server: set listener non-blocking: %w", err)
	}

	return &boundListener{fd: fd, cfg: l}, nil
}

const listenBacklog = 512

func resolveIPv4(host string) (addr [4]byte, err error) {
	if host == "" || host == "0.0.0.0" || host == "*" {
		return [4]byte{0, 0, 0, 0}, nil
	}
	var a, b, c, d int
	n, scanErr := fmt.Sscanf(host, "%d.%d.%d.%d", &a, &b, &c, &d)
	if scanErr != nil || n != 4 {
		return addr, fmt.Errorf("server: unsupported listen address %q (dotted IPv4 or 0.0.0.0 only)", host)
	}
	return [4]byte{byte(a), byte(b), byte(c), byte(d)}, nil
}

// accept performs one non-blocking accept, per the reactor's one-event,
// one-syscall rule (spec.md §4.A). A (-1, "", nil) result means no
// connection was waiting — a benign EAGAIN.
func (bl *boundListener) accept() (fd int, remoteAddr string, err error) {
	nfd, sa, err := unix.Accept4(bl.fd, unix.SOCK_NONBLOCK)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return -1, "", nil
		}
		return -1, "", err
	}
	remoteAddr = formatSockaddr(sa)
	return nfd, remoteAddr, nil
}

func formatSockaddr(sa unix.Sockaddr) string {
	if v4, ok := sa.(*unix.SockaddrInet4); ok {
		return fmt.Sprintf("%d.%d.%d.%d:%d", v4.Addr[0], v4.Addr[1], v4.Addr[2], v4.Addr[3], v4.Port)
	}
	return "unknown"
}
