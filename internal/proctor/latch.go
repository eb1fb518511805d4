package proctor

import "sync/atomic"

// Latch is a one-way flag. Trip succeeds for exactly one caller until Reset.
type Latch struct {
	v atomic.Bool
}

// Trip sets the latch and reports whether this call was the one that set it.
func (l *Latch) Trip() bool {
	return l.v.CompareAndSwap(false, true)
}

// Tripped reports whether the latch is set.
func (l *Latch) Tripped() bool {
	return l.v.Load()
}

// Reset reopens the latch. Only a failed submission does this.
func (l *Latch) Reset() {
	l.v.Store(false)
}
