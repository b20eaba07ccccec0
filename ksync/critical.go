package ksync

// CriticalSpinlock is a spinlock that masks interrupts on the current
// execution context for as long as it is held, so an interrupt handler can
// never spin on a lock its own context owns.
type CriticalSpinlock struct {
	lock       Spinlock
	interrupts InterruptController
	// UseLock can be cleared by callers that serialize access themselves
	UseLock bool
}

// NewCriticalSpinlock creates a lock that masks interrupts through the
// provided controller.
func NewCriticalSpinlock(interrupts InterruptController) *CriticalSpinlock {
	return &CriticalSpinlock{
		interrupts: interrupts,
		UseLock:    true,
	}
}

// Lock masks interrupts, then spins until the lock is acquired. The returned
// value must be passed to the matching Unlock call.
func (l *CriticalSpinlock) Lock() (interruptsEnabled bool) {
	if !l.UseLock {
		return false
	}

	interruptsEnabled = l.interrupts.Disable()
	l.lock.Acquire()
	return interruptsEnabled
}

// Unlock releases the lock, then restores the interrupt state captured by
// Lock.
func (l *CriticalSpinlock) Unlock(interruptsEnabled bool) {
	if !l.UseLock {
		return
	}

	l.lock.Release()
	l.interrupts.Restore(interruptsEnabled)
}
