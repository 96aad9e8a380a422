package engine

import "golang.org/x/sys/unix"

// pipeFDs and friends are small test helpers for asserting that freeing a
// probe with a stream socket attached closes exactly one OS handle, without
// depending on a real raw socket being available in the test environment.

func pipeFDs() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func closeFD(fd int) {
	unix.Close(fd)
}

func fdIsOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}
