//go:build !windows

package state

import "syscall"

// flockLock takes an exclusive advisory lock, blocking until it is free.
func flockLock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_EX)
}

func flockUnlock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_UN)
}
