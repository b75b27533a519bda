//go:build !linux

package fdutil

import "golang.org/x/sys/unix"

// createWakeFd falls back to a pipe(2) pair on platforms without eventfd
// (Darwin and others), matching eventloop's non-Linux wakeup path.
func createWakeFd() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func writeWakeFd(writeFD int) {
	var buf [1]byte
	_, _ = unix.Write(writeFD, buf[:])
}

func drainWakeFd(readFD int) {
	var buf [64]byte
	for {
		_, err := unix.Read(readFD, buf[:])
		if err != nil {
			return
		}
	}
}

func closeWakeFd(readFD, writeFD int) error {
	_ = unix.Close(writeFD)
	return unix.Close(readFD)
}
