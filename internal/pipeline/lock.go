package pipeline

import "sync/atomic"

// runLock is a non-blocking lock guarding one ingestion run at a time.
type runLock struct {
	state atomic.Int32 // 0 = idle, 1 = running
}

// TryAcquire takes the lock if no run holds it.
func (l *runLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release frees the lock. Only the holder may call it.
func (l *runLock) Release() {
	l.state.Store(0)
}

// Running reports whether a run holds the lock.
func (l *runLock) Running() bool {
	return l.state.Load() == 1
}
