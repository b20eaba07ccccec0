// Package kalloc is the single entry point for memory allocation. It routes
// small requests to the slab allocator and everything else to the buddy
// allocator, holding one interrupt-masking lock around both.
package kalloc

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/tinykern/kalloc/buddy"
	"github.com/tinykern/kalloc/ksync"
	"github.com/tinykern/kalloc/mem"
	"github.com/tinykern/kalloc/memutils"
	"github.com/tinykern/kalloc/slab"
	"golang.org/x/exp/slog"
)

const (
	// SlabMaxSize is the largest request size served by the slab allocator.
	SlabMaxSize = mem.PageSize / 2
	// SlabMaxAlign is the largest request alignment served by the slab
	// allocator.
	SlabMaxAlign = mem.PageSize / 4
)

// Allocator owns one buddy allocator and one slab allocator carved from it.
type Allocator struct {
	logger      *slog.Logger
	lock        *ksync.CriticalSpinlock
	createFlags CreateFlags

	frames      *buddy.Allocator
	objects     *slab.Allocator
	sizeClasses []memutils.Layout
	classesUp   bool

	live *swiss.Map[mem.Addr, memutils.Layout]
}

var _ memutils.Validatable = &Allocator{}

// RoutesToSlab reports whether a request of this layout is served by the slab
// allocator. Allocate and Free apply the same test, so a block is always
// returned to the allocator it came from.
func RoutesToSlab(layout memutils.Layout) bool {
	return layout.Size <= SlabMaxSize && layout.Align <= SlabMaxAlign
}

func (a *Allocator) fatal(err error) {
	a.logger.Error("fatal allocator error", slog.String("Error", err.Error()))
	panic(err)
}

// Allocate returns the address of size bytes aligned to align, which must be a
// power of two. The memory is not cleared. When no memory is available the
// returned error wraps memutils.ErrOutOfMemory.
func (a *Allocator) Allocate(size, align mem.Size) (mem.Addr, error) {
	a.logger.Debug("Allocator::Allocate",
		slog.Int("Size", int(size)),
		slog.Int("Align", int(align)),
	)

	layout, err := memutils.NewLayout(size, align)
	if err != nil {
		return mem.NilAddr, err
	}

	interrupts := a.lock.Lock()
	defer a.lock.Unlock(interrupts)

	var block mem.Addr
	if RoutesToSlab(layout) {
		block, err = a.allocateObject(layout)
	} else {
		block, err = a.frames.Allocate(size, buddy.OrderForAlign(align))
	}
	if err != nil {
		return mem.NilAddr, cerrors.Wrapf(err, "failed to allocate %s", layout)
	}

	if a.live != nil {
		a.live.Put(block, layout)
	}

	return block, nil
}

func (a *Allocator) allocateObject(layout memutils.Layout) (mem.Addr, error) {
	if !a.classesUp {
		if err := a.installSizeClasses(); err != nil {
			return mem.NilAddr, err
		}
	}
	return a.objects.Allocate(layout)
}

// installSizeClasses registers the slab ladder. The cache table takes a frame,
// so this waits until the allocator has been given memory.
func (a *Allocator) installSizeClasses() error {
	if a.frames.FreeBytes() == 0 {
		return cerrors.Wrap(memutils.ErrOutOfMemory, "no memory has been handed to the allocator")
	}

	for _, class := range a.sizeClasses {
		if err := a.objects.RegisterCache(class); err != nil {
			return cerrors.Wrapf(err, "failed to register size class %s", class)
		}
	}

	a.classesUp = true
	return nil
}

// Free returns memory obtained from Allocate. size and align must be the values
// passed to Allocate. Freeing anything else is fatal.
func (a *Allocator) Free(block mem.Addr, size, align mem.Size) {
	a.logger.Debug("Allocator::Free",
		slog.String("Block", block.String()),
		slog.Int("Size", int(size)),
		slog.Int("Align", int(align)),
	)

	layout, err := memutils.NewLayout(size, align)
	if err != nil {
		a.fatal(cerrors.Wrapf(err, "free of %s", block))
	}

	interrupts := a.lock.Lock()
	defer a.lock.Unlock(interrupts)

	if a.live != nil {
		a.forget(block, layout)
	}

	if RoutesToSlab(layout) {
		a.objects.Free(block)
	} else {
		a.frames.FreeExact(block, buddy.EffectiveOrder(size, buddy.OrderForAlign(align)))
	}
}

func (a *Allocator) forget(block mem.Addr, layout memutils.Layout) {
	allocated, isLive := a.live.Get(block)
	if !isLive {
		a.fatal(cerrors.Wrapf(memutils.ErrDoubleFree, "%s is not a live allocation", block))
	}
	if allocated != layout {
		a.fatal(cerrors.Wrapf(memutils.ErrLayoutMismatch, "%s was allocated as %s but freed as %s", block, allocated, layout))
	}

	a.live.Delete(block)
}

// AllocFrames returns count contiguous zeroed frames, bypassing the slab
// allocator. They must be returned with FreeFrames and the same count.
func (a *Allocator) AllocFrames(count int) (mem.Addr, error) {
	a.logger.Debug("Allocator::AllocFrames", slog.Int("Count", count))

	interrupts := a.lock.Lock()
	defer a.lock.Unlock(interrupts)

	return a.frames.AllocFrames(count)
}

// FreeFrames returns frames obtained from AllocFrames.
func (a *Allocator) FreeFrames(block mem.Addr, count int) {
	a.logger.Debug("Allocator::FreeFrames",
		slog.String("Block", block.String()),
		slog.Int("Count", count),
	)

	interrupts := a.lock.Lock()
	defer a.lock.Unlock(interrupts)

	a.frames.FreeFrames(block, count)
}

// AllocFrame returns one zeroed frame.
func (a *Allocator) AllocFrame() (mem.Addr, error) {
	return a.AllocFrames(1)
}

// FreeFrame returns a frame obtained from AllocFrame.
func (a *Allocator) FreeFrame(frame mem.Addr) {
	a.FreeFrames(frame, 1)
}

// FreeRegion hands an arbitrary span of memory to the allocator. Partial
// frames at either end are dropped.
func (a *Allocator) FreeRegion(start mem.Addr, size mem.Size) {
	a.logger.Debug("Allocator::FreeRegion",
		slog.String("Start", start.String()),
		slog.String("Size", size.String()),
	)

	interrupts := a.lock.Lock()
	defer a.lock.Unlock(interrupts)

	a.frames.FreeRegion(start, size)
}

// Shrink returns every slab frame with no live objects to the buddy allocator
// and reports how many frames were released.
func (a *Allocator) Shrink() int {
	interrupts := a.lock.Lock()
	defer a.lock.Unlock(interrupts)

	released := a.objects.Shrink()
	a.logger.Debug("Allocator::Shrink", slog.Int("Released", released))
	return released
}

// Reset forgets all memory the allocator was given, free or handed out, along
// with the slab caches carved from it. Outstanding allocations must not be
// used or freed afterwards. Memory is added again with Discover or
// FreeRegion.
func (a *Allocator) Reset() {
	interrupts := a.lock.Lock()
	defer a.lock.Unlock(interrupts)

	a.logger.Debug("Allocator::Reset", slog.String("FreeBytes", a.frames.FreeBytes().String()))

	a.frames.Clear()
	a.objects = slab.New(a.frames)
	a.classesUp = false
	if a.live != nil {
		a.live = swiss.NewMap[mem.Addr, memutils.Layout](42)
	}
}

// Validate checks the buddy free lists, the slab tables and, when allocations
// are tracked, that every tracked slab object is live in the slab allocator.
func (a *Allocator) Validate() error {
	interrupts := a.lock.Lock()
	defer a.lock.Unlock(interrupts)

	if err := a.frames.Validate(); err != nil {
		return cerrors.Wrap(err, "buddy allocator")
	}
	if err := a.objects.Validate(); err != nil {
		return cerrors.Wrap(err, "slab allocator")
	}

	if a.live == nil {
		return nil
	}

	trackedObjects := 0
	a.live.Iter(func(block mem.Addr, layout memutils.Layout) bool {
		if RoutesToSlab(layout) {
			trackedObjects++
		}
		return false
	})

	var stats memutils.Statistics
	a.objects.AddStatistics(&stats)
	if stats.AllocationCount != trackedObjects {
		return cerrors.Newf("%d slab objects are tracked but the slab allocator holds %d", trackedObjects, stats.AllocationCount)
	}

	return nil
}
