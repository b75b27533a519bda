//go:build !linux

package reactor

import "golang.org/x/sys/unix"

// acceptNonblock is the non-Linux fallback: accept4 isn't available on
// Darwin, so accept then set non-blocking and close-on-exec explicitly.
func acceptNonblock(listenFD int) (int, error) {
	nfd, _, err := unix.Accept(listenFD)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return -1, err
	}
	unix.CloseOnExec(nfd)
	return nfd, nil
}
