// Package sync provides the spinlock used to guard state shared between
// cores before any scheduler exists.
package sync

import (
	"mpkernel/kernel/cpu"
	"sync/atomic"
)

var (
	// pauseFn is invoked between acquisition attempts. Tests replace it
	// with runtime.Gosched.
	pauseFn = cpu.Pause
)

// Spinlock implements a lock where each core trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the current core. Any
// attempt to re-acquire a lock already held by the current core will cause a
// deadlock.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		// Spin on a plain load so the cache line is not bounced
		// between cores by failed CAS attempts.
		for atomic.LoadUint32(&l.state) != 0 {
			pauseFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other cores to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
