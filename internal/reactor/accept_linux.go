//go:build linux

package reactor

import "golang.org/x/sys/unix"

// acceptNonblock accepts one pending connection off listenFD, already
// non-blocking and close-on-exec, or returns unix.EAGAIN if none is
// pending.
func acceptNonblock(listenFD int) (int, error) {
	nfd, _, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, err
	}
	return nfd, nil
}
