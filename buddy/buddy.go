// Package buddy implements the physical frame allocator. It manages memory as
// power-of-two blocks of granules ("orders") kept in intrusive free lists,
// one list per order, whose links live in the first word of each free block.
package buddy

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
	"github.com/tinykern/kalloc/mem"
	"github.com/tinykern/kalloc/memutils"
)

const (
	// MinSizeShift is log2 of the smallest block, one granule.
	MinSizeShift = mem.PageShift
	// MaxSizeShift is log2 of the largest block that fits in a machine word.
	MaxSizeShift = bits.UintSize - 1
	// MaxOrder is the highest order a block can have.
	MaxOrder = MaxSizeShift - MinSizeShift
)

// BlockSize returns the size in bytes of a block of the given order.
func BlockSize(order int) mem.Size {
	return mem.PageSize << order
}

// OrderForSize returns the smallest order whose blocks can hold size bytes.
func OrderForSize(size mem.Size) int {
	return memutils.Log2Ceil(uint64(size.Pages()))
}

// OrderForAlign returns the smallest order whose natural alignment satisfies
// align.
func OrderForAlign(align mem.Size) int {
	if align <= mem.PageSize {
		return 0
	}
	return memutils.Log2Ceil(uint64(align)) - MinSizeShift
}

// EffectiveOrder returns the order Allocate uses for a request of size bytes
// with a minimum order.
func EffectiveOrder(size mem.Size, order int) int {
	sizeOrder := OrderForSize(size)
	if sizeOrder > order {
		return sizeOrder
	}
	return order
}

// Allocator is the buddy allocator. Its zero value is an allocator with no
// memory; memory is added with FreeRegion.
type Allocator struct {
	freeArea  [MaxOrder + 1]mem.Addr
	freeBytes mem.Size
}

var _ memutils.Validatable = &Allocator{}

// New creates an empty buddy allocator.
func New() *Allocator {
	return &Allocator{}
}

func (a *Allocator) push(block mem.Addr, order int) {
	block.StoreLink(a.freeArea[order])
	a.freeArea[order] = block
}

func (a *Allocator) pop(order int) mem.Addr {
	block := a.freeArea[order]
	a.freeArea[order] = block.LoadLink()
	return block
}

// Allocate returns a block of at least size bytes whose order is no lower
// than order. The block is aligned to its own size and its contents are not
// cleared. When no such block is free, the returned error wraps
// memutils.ErrOutOfMemory.
func (a *Allocator) Allocate(size mem.Size, order int) (mem.Addr, error) {
	if order < 0 {
		order = 0
	}
	if order > MaxOrder || size > BlockSize(MaxOrder) {
		return mem.NilAddr, cerrors.Wrapf(memutils.ErrOutOfMemory, "no block of order %d can hold %d bytes", order, size)
	}

	order = EffectiveOrder(size, order)

	found := order
	for found <= MaxOrder && a.freeArea[found] == mem.NilAddr {
		found++
	}
	if found > MaxOrder {
		return mem.NilAddr, cerrors.Wrapf(memutils.ErrOutOfMemory, "no free block of order %d or higher", order)
	}

	block := a.pop(found)

	// Split, keeping the lower half and freeing the upper half one order down
	for found > order {
		found--
		a.push(block.Add(BlockSize(found)), found)
	}

	a.freeBytes -= BlockSize(order)
	memutils.DebugValidate(a)

	return block, nil
}

// FreeExact returns a block of the given order, merging it with its buddy as
// long as the buddy is free. The block must be aligned to its order and must
// not already be free; violations panic.
func (a *Allocator) FreeExact(block mem.Addr, order int) {
	if order < 0 || order > MaxOrder {
		panic(cerrors.Wrapf(memutils.ErrOrderOverflow, "cannot free %s at order %d, max %d", block, order, MaxOrder))
	}
	if block == mem.NilAddr {
		panic(cerrors.Wrapf(memutils.ErrNullBlock, "free at order %d", order))
	}
	if !block.IsAligned(BlockSize(order)) {
		panic(cerrors.Wrapf(memutils.ErrUnaligned, "block %s is not aligned to order %d (%s)", block, order, BlockSize(order)))
	}
	if cover, coverOrder, covered := a.coveringFreeBlock(block, order); covered {
		panic(cerrors.Wrapf(memutils.ErrDoubleFree, "block %s of order %d lies inside free block %s of order %d", block, order, cover, coverOrder))
	}

	freed := BlockSize(order)

	for {
		buddy := block ^ mem.Addr(BlockSize(order))
		if !a.unlinkBuddy(block, buddy, order) {
			a.push(block, order)
			break
		}

		if buddy < block {
			block = buddy
		}

		order++
		if order > MaxOrder {
			panic(cerrors.Wrapf(memutils.ErrOrderOverflow, "merging %s produced order %d, max %d", block, order, MaxOrder))
		}
	}

	a.freeBytes += freed
	memutils.DebugValidate(a)
}

// unlinkBuddy walks the free list of the given order looking for buddy. If it
// is found it is removed from the list and true is returned. Finding block
// itself means it is being freed twice.
func (a *Allocator) unlinkBuddy(block, buddy mem.Addr, order int) bool {
	prev := mem.NilAddr
	for current := a.freeArea[order]; current != mem.NilAddr; {
		if current == block {
			panic(cerrors.Wrapf(memutils.ErrDoubleFree, "block %s is already free at order %d", block, order))
		}

		next := current.LoadLink()
		if current == buddy {
			if prev == mem.NilAddr {
				a.freeArea[order] = next
			} else {
				prev.StoreLink(next)
			}
			return true
		}

		prev = current
		current = next
	}

	return false
}

// coveringFreeBlock looks for a free block of a higher order that contains
// block. Such a block exists when block was freed before and has since merged
// with its buddy.
func (a *Allocator) coveringFreeBlock(block mem.Addr, order int) (mem.Addr, int, bool) {
	for higher := order + 1; higher <= MaxOrder; higher++ {
		if a.freeArea[higher] == mem.NilAddr {
			continue
		}

		candidate := block &^ mem.Addr(BlockSize(higher)-1)
		for current := a.freeArea[higher]; current != mem.NilAddr; current = current.LoadLink() {
			if current == candidate {
				return candidate, higher, true
			}
		}
	}

	return mem.NilAddr, 0, false
}

// FreeRegion hands an arbitrary span of memory to the allocator. The span is
// trimmed to whole granules and decomposed into the largest naturally aligned
// blocks that fit, each of which is freed with FreeExact. The granule at
// address zero is never used: the nil address terminates the free lists.
func (a *Allocator) FreeRegion(start mem.Addr, size mem.Size) {
	block := memutils.AlignUp(start, mem.Addr(mem.PageSize))
	if block < start || block.Sub(start) >= size {
		return
	}
	size = memutils.AlignDown(size-block.Sub(start), mem.PageSize)

	if block == mem.NilAddr && size > 0 {
		block = block.Add(mem.PageSize)
		size -= mem.PageSize
	}

	for size > 0 {
		order := largestOrder(block, size)
		a.FreeExact(block, order)

		block = block.Add(BlockSize(order))
		size -= BlockSize(order)
	}
}

// largestOrder returns the highest order of a block that starts at block, is
// aligned to its own size and does not extend past size bytes.
func largestOrder(block mem.Addr, size mem.Size) int {
	order := memutils.Log2Floor(uint64(size >> mem.PageShift))
	if alignOrder := bits.TrailingZeros64(uint64(block)) - MinSizeShift; alignOrder < order {
		order = alignOrder
	}
	if order > MaxOrder {
		order = MaxOrder
	}
	return order
}

// AllocFrames returns count contiguous zeroed frames. The frames come from a
// single block of order ceil(log2(count)) and must be returned with FreeFrames
// using the same count.
func (a *Allocator) AllocFrames(count int) (mem.Addr, error) {
	if count < 1 {
		return mem.NilAddr, cerrors.Newf("frame count must be positive, got %d", count)
	}

	size := mem.Size(count) << mem.PageShift
	block, err := a.Allocate(size, 0)
	if err != nil {
		return mem.NilAddr, err
	}

	mem.Memset(block, 0, size)
	return block, nil
}

// FreeFrames returns frames obtained from AllocFrames.
func (a *Allocator) FreeFrames(block mem.Addr, count int) {
	a.FreeExact(block, OrderForSize(mem.Size(count)<<mem.PageShift))
}

// Clear forgets every free block.
func (a *Allocator) Clear() {
	a.freeArea = [MaxOrder + 1]mem.Addr{}
	a.freeBytes = 0
}
