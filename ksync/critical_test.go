package ksync_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinykern/kalloc/ksync"
	mock_ksync "github.com/tinykern/kalloc/ksync/mocks"
	"go.uber.org/mock/gomock"
)

func TestCriticalSpinlockMasksInterrupts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	interrupts := mock_ksync.NewMockInterruptController(ctrl)
	gomock.InOrder(
		interrupts.EXPECT().Disable().Return(true),
		interrupts.EXPECT().Restore(true),
	)

	lock := ksync.NewCriticalSpinlock(interrupts)
	enabled := lock.Lock()
	require.True(t, enabled)
	lock.Unlock(enabled)
}

func TestCriticalSpinlockKeepsMaskedInterruptsMasked(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	interrupts := mock_ksync.NewMockInterruptController(ctrl)
	gomock.InOrder(
		interrupts.EXPECT().Disable().Return(false),
		interrupts.EXPECT().Restore(false),
	)

	lock := ksync.NewCriticalSpinlock(interrupts)
	lock.Unlock(lock.Lock())
}

func TestCriticalSpinlockExternallySynchronized(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No calls are expected on the controller
	interrupts := mock_ksync.NewMockInterruptController(ctrl)

	lock := ksync.NewCriticalSpinlock(interrupts)
	lock.UseLock = false
	lock.Unlock(lock.Lock())
}

func TestSoftInterrupts(t *testing.T) {
	var interrupts ksync.SoftInterrupts
	require.True(t, interrupts.Enabled())

	outer := interrupts.Disable()
	require.True(t, outer)
	require.False(t, interrupts.Enabled())

	// nested critical section must not unmask on exit
	inner := interrupts.Disable()
	require.False(t, inner)
	interrupts.Restore(inner)
	require.False(t, interrupts.Enabled())

	interrupts.Restore(outer)
	require.True(t, interrupts.Enabled())
}
