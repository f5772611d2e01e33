//go:build linux || darwin

package crypto

import "golang.org/x/sys/unix"

// LockMemory pins b in RAM so it is never written to swap. Callers treat a
// failure (usually RLIMIT_MEMLOCK) as non-fatal.
func LockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mlock(b)
}

func UnlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munlock(b)
}
