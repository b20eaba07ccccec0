// Package arena implements a growable array whose storage comes straight from
// whole frames. It holds the bookkeeping tables of allocators that cannot
// allocate their own metadata through themselves.
package arena

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/tinykern/kalloc/mem"
	"github.com/tinykern/kalloc/memutils"
)

//go:generate mockgen -source arena.go -destination ./mocks/frames.go

// FrameSource hands out contiguous zeroed frames. Frames returned by
// AllocFrames are released with FreeFrames using the same count.
type FrameSource interface {
	AllocFrames(count int) (mem.Addr, error)
	FreeFrames(block mem.Addr, count int)
}

// Arena is a growable sequence of T stored in frames from a FrameSource. T
// must not contain Go pointers: the garbage collector does not scan frame
// memory. Slices and element pointers obtained from an Arena are invalidated
// by any call that grows it.
type Arena[T any] struct {
	source   FrameSource
	data     mem.Addr
	frames   int
	length   int
	capacity int
}

// New creates an empty arena. No frames are requested until the first
// element is added.
func New[T any](source FrameSource) *Arena[T] {
	var zero T
	if unsafe.Sizeof(zero) == 0 {
		panic(cerrors.Newf("arena elements of type %T have no size", zero))
	}
	if mem.Size(unsafe.Alignof(zero)) > mem.PageSize {
		panic(cerrors.Newf("arena elements of type %T need more than frame alignment", zero))
	}

	return &Arena[T]{source: source}
}

func (a *Arena[T]) elementSize() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Len returns the number of elements.
func (a *Arena[T]) Len() int {
	return a.length
}

// Cap returns the number of elements that fit without growing.
func (a *Arena[T]) Cap() int {
	return a.capacity
}

// Frames returns the number of frames currently backing the arena.
func (a *Arena[T]) Frames() int {
	return a.frames
}

func (a *Arena[T]) storage() []T {
	if a.data == mem.NilAddr {
		return nil
	}
	return unsafe.Slice((*T)(a.data.Pointer()), a.capacity)
}

// Slice returns the elements as a slice over frame memory.
func (a *Arena[T]) Slice() []T {
	return a.storage()[:a.length]
}

// At returns a pointer to the element at index.
func (a *Arena[T]) At(index int) *T {
	if index < 0 || index >= a.length {
		panic(cerrors.Newf("arena index %d out of range [0:%d]", index, a.length))
	}
	return &a.storage()[index]
}

// EnsureCapacity grows the arena so it can hold at least capacity elements.
// The new capacity is rounded up to a power of two and then to whole frames.
// The old contents are copied and the old frames are released.
func (a *Arena[T]) EnsureCapacity(capacity int) error {
	if capacity <= a.capacity {
		return nil
	}

	elementSize := a.elementSize()
	wanted := 1 << memutils.Log2Ceil(uint64(capacity))
	frames := mem.Size(wanted * elementSize).Pages()

	data, err := a.source.AllocFrames(frames)
	if err != nil {
		return cerrors.Wrapf(err, "failed to grow arena to %d elements", wanted)
	}

	if a.data != mem.NilAddr {
		mem.Memcopy(a.data, data, mem.Size(a.length*elementSize))
		a.source.FreeFrames(a.data, a.frames)
	}

	a.data = data
	a.frames = frames
	a.capacity = (frames << mem.PageShift) / elementSize

	return nil
}

// Push appends element, growing the arena if it is full.
func (a *Arena[T]) Push(element T) error {
	if err := a.EnsureCapacity(a.length + 1); err != nil {
		return err
	}

	a.storage()[a.length] = element
	a.length++
	return nil
}

// Pop removes and returns the last element. It returns false if the arena is
// empty.
func (a *Arena[T]) Pop() (T, bool) {
	var zero T
	if a.length == 0 {
		return zero, false
	}

	a.length--
	storage := a.storage()
	element := storage[a.length]
	storage[a.length] = zero
	return element, true
}

// Insert places element at index, shifting later elements up by one. index
// may equal Len.
func (a *Arena[T]) Insert(index int, element T) error {
	if index < 0 || index > a.length {
		panic(cerrors.Newf("arena insert index %d out of range [0:%d]", index, a.length))
	}
	if err := a.EnsureCapacity(a.length + 1); err != nil {
		return err
	}

	storage := a.storage()
	copy(storage[index+1:a.length+1], storage[index:a.length])
	storage[index] = element
	a.length++
	return nil
}

// Remove deletes and returns the element at index, shifting later elements
// down by one.
func (a *Arena[T]) Remove(index int) T {
	if index < 0 || index >= a.length {
		panic(cerrors.Newf("arena remove index %d out of range [0:%d]", index, a.length))
	}

	var zero T
	storage := a.storage()
	element := storage[index]
	copy(storage[index:a.length-1], storage[index+1:a.length])
	a.length--
	storage[a.length] = zero
	return element
}

// Release returns every frame to the source and leaves the arena empty.
func (a *Arena[T]) Release() {
	if a.data != mem.NilAddr {
		a.source.FreeFrames(a.data, a.frames)
	}

	a.data = mem.NilAddr
	a.frames = 0
	a.length = 0
	a.capacity = 0
}
