package ksync

import "sync/atomic"

//go:generate mockgen -source interrupts.go -destination mocks/interrupts.go -package mock_ksync

// InterruptController masks and unmasks interrupt delivery on the current
// execution context.
type InterruptController interface {
	// Disable masks interrupts and reports whether they were enabled before
	// the call.
	Disable() bool
	// Restore re-enables interrupts if enabled is true. It is passed the value
	// returned by the matching Disable call.
	Restore(enabled bool)
}

// SoftInterrupts is an InterruptController that only tracks the enable flag.
// It stands in for the arch-specific controller on hosted builds.
type SoftInterrupts struct {
	disabled atomic.Bool
}

var _ InterruptController = &SoftInterrupts{}

func (s *SoftInterrupts) Disable() bool {
	return !s.disabled.Swap(true)
}

func (s *SoftInterrupts) Restore(enabled bool) {
	if enabled {
		s.disabled.Store(false)
	}
}

// Enabled reports whether interrupts are currently unmasked.
func (s *SoftInterrupts) Enabled() bool {
	return !s.disabled.Load()
}
