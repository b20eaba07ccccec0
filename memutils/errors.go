package memutils

import "github.com/pkg/errors"

var (
	// ErrOutOfMemory is returned when no free block is large enough to satisfy
	// a request. It is the only allocator failure a caller is expected to
	// handle.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrPowerOfTwo is returned from CheckPow2 or other methods if the number
	// being tested is not a power of two
	ErrPowerOfTwo = errors.New("number must be a power of two")

	// The errors below describe caller contract violations. Allocators panic
	// with them, wrapped with the offending address, because the shared state
	// can no longer be trusted once they are detected.

	// ErrNullBlock is raised when the nil address is freed.
	ErrNullBlock = errors.New("null block")
	// ErrUnaligned is raised when a block is freed at an order its address is
	// not aligned to.
	ErrUnaligned = errors.New("unaligned block")
	// ErrDoubleFree is raised when a block that is already free is freed again.
	ErrDoubleFree = errors.New("double free")
	// ErrOrderOverflow is raised when a free would create a block above the
	// maximum order.
	ErrOrderOverflow = errors.New("order exceeds the maximum order")
	// ErrUnknownFrame is raised when a slab pointer does not belong to any
	// frame carved up by the slab allocator.
	ErrUnknownFrame = errors.New("frame is not tracked by the slab allocator")
	// ErrNoCache is raised when no registered size class can serve a layout.
	ErrNoCache = errors.New("no size class can serve the layout")
	// ErrUnknownCache is raised when a tracked frame serves a layout that has
	// no size class.
	ErrUnknownCache = errors.New("frame layout has no size class")
	// ErrLayoutMismatch is raised when an allocation is freed with a layout
	// other than the one it was allocated with.
	ErrLayoutMismatch = errors.New("layout does not match the allocation")
	// ErrCorruption is raised when a poisoned free slot was written to.
	ErrCorruption = errors.New("memory corruption detected")
)
