package crypto

import "runtime"

// Zero overwrites a byte slice in memory with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
