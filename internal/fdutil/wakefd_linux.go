//go:build linux

package fdutil

import "golang.org/x/sys/unix"

// createWakeFd creates a single eventfd serving as both ends, grounded on
// eventloop/wakeup_linux.go's createWakeFd.
func createWakeFd() (readFD, writeFD int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

func writeWakeFd(writeFD int) {
	var buf [8]byte
	buf[7] = 1
	_, _ = unix.Write(writeFD, buf[:])
}

// drainWakeFd drains every pending wakeup, per
// eventloop/wakeup_linux.go's drainWakeUpPipe.
func drainWakeFd(readFD int) {
	var buf [8]byte
	for {
		_, err := unix.Read(readFD, buf[:])
		if err != nil {
			return
		}
	}
}

func closeWakeFd(readFD, writeFD int) error {
	return unix.Close(readFD)
}
