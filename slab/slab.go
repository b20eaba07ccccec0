// Package slab implements the object slab allocator. Whole frames are carved
// into equal slots for a fixed ladder of size classes ("caches"); free slots
// are threaded into one intrusive list per cache.
package slab

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
	"github.com/tinykern/kalloc/arena"
	"github.com/tinykern/kalloc/mem"
	"github.com/tinykern/kalloc/memutils"
	"golang.org/x/exp/slices"
)

type cache struct {
	layout    memutils.Layout
	freeList  mem.Addr
	freeSlots int
}

// maxSlotsPerFrame is the slot count of the smallest possible layout.
const maxSlotsPerFrame = int(mem.PageSize / memutils.MinAlignment)

type pageMeta struct {
	base      mem.Addr
	layout    memutils.Layout
	free      int
	allocated int
	// one bit per slot, set while the slot is handed out
	live [maxSlotsPerFrame / 64]uint64
}

func (p *pageMeta) slotIndex(slot mem.Addr) int {
	return int(slot.Sub(p.base) / p.layout.Size)
}

func (p *pageMeta) isLive(index int) bool {
	return p.live[index/64]&(1<<(index%64)) != 0
}

func (p *pageMeta) setLive(index int, live bool) {
	if live {
		p.live[index/64] |= 1 << (index % 64)
	} else {
		p.live[index/64] &^= 1 << (index % 64)
	}
}

func (p *pageMeta) liveCount() int {
	count := 0
	for _, word := range p.live {
		count += bits.OnesCount64(word)
	}
	return count
}

// Allocator is the slab allocator. Both of its tables live in arenas backed by
// the same frame source the slabs are carved from.
type Allocator struct {
	frames arena.FrameSource
	caches *arena.Arena[cache]
	pages  *arena.Arena[pageMeta]
}

var _ memutils.Validatable = &Allocator{}

// New creates a slab allocator with no caches.
func New(frames arena.FrameSource) *Allocator {
	return &Allocator{
		frames: frames,
		caches: arena.New[cache](frames),
		pages:  arena.New[pageMeta](frames),
	}
}

// SlotsPerFrame returns how many slots of a normalized layout fit in one frame.
func SlotsPerFrame(layout memutils.Layout) int {
	return int(mem.PageSize / layout.Size)
}

// SlotAlign returns the alignment every slot of the layout is guaranteed to
// have. Slots sit at multiples of their size from a frame-aligned base.
func SlotAlign(layout memutils.Layout) mem.Size {
	align := mem.Size(1) << bits.TrailingZeros64(uint64(layout.Size))
	if align > mem.PageSize {
		align = mem.PageSize
	}
	return align
}

func normalize(layout memutils.Layout) (memutils.Layout, error) {
	if err := memutils.CheckPow2(layout.Align, "alignment"); err != nil && layout.Align != 0 {
		return memutils.Layout{}, cerrors.Wrapf(err, "invalid slab layout %s", layout)
	}
	return layout.Normalize(), nil
}

// RegisterCache adds a cache for the normalized layout unless one already
// exists. The layout must fit in a frame.
func (a *Allocator) RegisterCache(layout memutils.Layout) error {
	layout, err := normalize(layout)
	if err != nil {
		return err
	}
	if layout.Size > mem.PageSize {
		return cerrors.Newf("slab layout %s does not fit in a %s frame", layout, mem.PageSize)
	}

	index, found := a.searchCache(layout)
	if found {
		return nil
	}

	return a.caches.Insert(index, cache{layout: layout})
}

func (a *Allocator) searchCache(layout memutils.Layout) (int, bool) {
	return slices.BinarySearchFunc(a.caches.Slice(), layout, func(c cache, target memutils.Layout) int {
		return c.layout.Compare(target)
	})
}

// closestCache returns the index of the smallest cache whose slots can hold
// the normalized layout, or -1. A cache qualifies when its size is at least
// the request's and its SlotAlign meets the request's alignment. SlotAlign is
// never below the cache's declared alignment, because a normalized size is a
// multiple of its alignment, so any cache dominating the request in both size
// and alignment also qualifies.
func (a *Allocator) closestCache(layout memutils.Layout) int {
	caches := a.caches.Slice()
	start, _ := slices.BinarySearchFunc(caches, layout.Size, func(c cache, size mem.Size) int {
		switch {
		case c.layout.Size < size:
			return -1
		case c.layout.Size > size:
			return 1
		}
		return 0
	})

	for index := start; index < len(caches); index++ {
		if SlotAlign(caches[index].layout) >= layout.Align {
			return index
		}
	}

	return -1
}

// Lookup returns the layout of the cache that would serve a request.
func (a *Allocator) Lookup(layout memutils.Layout) (memutils.Layout, bool) {
	layout, err := normalize(layout)
	if err != nil {
		return memutils.Layout{}, false
	}

	index := a.closestCache(layout)
	if index < 0 {
		return memutils.Layout{}, false
	}
	return a.caches.At(index).layout, true
}

func (a *Allocator) searchPage(base mem.Addr) (int, bool) {
	return slices.BinarySearchFunc(a.pages.Slice(), base, func(page pageMeta, target mem.Addr) int {
		switch {
		case page.base < target:
			return -1
		case page.base > target:
			return 1
		}
		return 0
	})
}

// Allocate returns a slot from the smallest cache that can hold layout. The
// slot's contents are not cleared. A request no cache can serve is a fatal
// configuration error; running out of frames returns an error wrapping
// memutils.ErrOutOfMemory.
func (a *Allocator) Allocate(layout memutils.Layout) (mem.Addr, error) {
	normalized, err := normalize(layout)
	if err != nil {
		panic(err)
	}

	index := a.closestCache(normalized)
	if index < 0 {
		panic(cerrors.Wrapf(memutils.ErrNoCache, "no slab cache can hold %s", normalized))
	}

	c := a.caches.At(index)
	if c.freeList == mem.NilAddr {
		if err := a.carveFrame(c); err != nil {
			return mem.NilAddr, err
		}
	}

	slot := c.freeList
	c.freeList = slot.LoadLink()
	c.freeSlots--

	if !memutils.CheckPoison(slot, c.layout.Size) {
		panic(cerrors.Wrapf(memutils.ErrCorruption, "free slot %s of cache %s was written after it was freed", slot, c.layout))
	}

	pageIndex, found := a.searchPage(slot.PageBase())
	if !found {
		panic(cerrors.Wrapf(memutils.ErrCorruption, "slot %s of cache %s belongs to no slab frame", slot, c.layout))
	}

	page := a.pages.At(pageIndex)
	slotIndex := page.slotIndex(slot)
	if page.isLive(slotIndex) {
		panic(cerrors.Wrapf(memutils.ErrCorruption, "free slot %s of cache %s is already handed out", slot, c.layout))
	}
	page.setLive(slotIndex, true)
	page.free--
	page.allocated++

	memutils.DebugValidate(a)
	return slot, nil
}

// carveFrame takes one frame from the frame source, threads it into slots and
// makes them the cache's free list.
func (a *Allocator) carveFrame(c *cache) error {
	base, err := a.frames.AllocFrames(1)
	if err != nil {
		return cerrors.Wrapf(err, "failed to carve a frame for slab cache %s", c.layout)
	}

	index, found := a.searchPage(base)
	if found {
		panic(cerrors.Wrapf(memutils.ErrCorruption, "frame %s handed out twice to the slab allocator", base))
	}

	slots := SlotsPerFrame(c.layout)
	err = a.pages.Insert(index, pageMeta{
		base:   base,
		layout: c.layout,
		free:   slots,
	})
	if err != nil {
		a.frames.FreeFrames(base, 1)
		return cerrors.Wrapf(err, "failed to record a frame for slab cache %s", c.layout)
	}

	next := c.freeList
	for i := slots - 1; i >= 0; i-- {
		slot := base.Add(mem.Size(i) * c.layout.Size)
		slot.StoreLink(next)
		memutils.WritePoison(slot, c.layout.Size)
		next = slot
	}

	c.freeList = base
	c.freeSlots += slots
	return nil
}

// Free returns a slot to the cache its frame was carved for. Freeing an
// address that did not come from this allocator, or a slot that is not
// currently handed out, is fatal.
func (a *Allocator) Free(slot mem.Addr) {
	base := slot.PageBase()
	pageIndex, found := a.searchPage(base)
	if !found {
		panic(cerrors.Wrapf(memutils.ErrUnknownFrame, "slot %s is not in any slab frame", slot))
	}

	page := a.pages.At(pageIndex)
	offset := slot.Sub(base)
	if offset%page.layout.Size != 0 || int(offset/page.layout.Size) >= SlotsPerFrame(page.layout) {
		panic(cerrors.Wrapf(memutils.ErrUnaligned, "address %s is not a slot of frame %s with layout %s", slot, base, page.layout))
	}
	index := page.slotIndex(slot)
	if !page.isLive(index) {
		panic(cerrors.Wrapf(memutils.ErrDoubleFree, "slot %s of frame %s is already free", slot, base))
	}

	cacheIndex, found := a.searchCache(page.layout)
	if !found {
		panic(cerrors.Wrapf(memutils.ErrUnknownCache, "frame %s serves layout %s which has no cache", base, page.layout))
	}

	page.setLive(index, false)
	page.free++
	page.allocated--

	c := a.caches.At(cacheIndex)
	slot.StoreLink(c.freeList)
	memutils.WritePoison(slot, c.layout.Size)
	c.freeList = slot
	c.freeSlots++

	memutils.DebugValidate(a)
}

// Shrink returns every frame with no live slots to the frame source and
// reports how many were released. Frames are never released automatically.
func (a *Allocator) Shrink() int {
	caches := a.caches.Slice()
	for i := range caches {
		a.unlinkEmptyFrames(&caches[i])
	}

	released := 0
	for index := a.pages.Len() - 1; index >= 0; index-- {
		if a.pages.At(index).allocated != 0 {
			continue
		}

		page := a.pages.Remove(index)
		a.frames.FreeFrames(page.base, 1)
		released++
	}

	memutils.DebugValidate(a)
	return released
}

func (a *Allocator) unlinkEmptyFrames(c *cache) {
	prev := mem.NilAddr
	for slot := c.freeList; slot != mem.NilAddr; {
		next := slot.LoadLink()

		pageIndex, found := a.searchPage(slot.PageBase())
		if !found {
			panic(cerrors.Wrapf(memutils.ErrCorruption, "slot %s of cache %s belongs to no slab frame", slot, c.layout))
		}

		if a.pages.At(pageIndex).allocated == 0 {
			if prev == mem.NilAddr {
				c.freeList = next
			} else {
				prev.StoreLink(next)
			}
			c.freeSlots--
		} else {
			prev = slot
		}

		slot = next
	}
}
