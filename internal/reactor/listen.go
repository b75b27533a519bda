package reactor

import (
	"golang.org/x/sys/unix"

	"github.com/kestrelnet/concur/internal/fdutil"
)

// listenTCP opens a non-blocking, SO_REUSEADDR IPv4 listening socket on
// port, bound to all interfaces. Built directly on raw syscalls (rather
// than net.Listen + File()) so the resulting fd is ready to register with
// the poller without the extra dup/blocking-mode dance net.TCPListener.File
// would require.
func listenTCP(port int) (*fdutil.OwnedFD, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, err
	}
	owned := fdutil.NewOwnedFD(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = owned.Close()
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = owned.Close()
		return nil, err
	}

	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		_ = owned.Close()
		return nil, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = owned.Close()
		return nil, err
	}
	return owned, nil
}
