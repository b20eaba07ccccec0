package slab

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/tinykern/kalloc/mem"
	"github.com/tinykern/kalloc/memutils"
	"golang.org/x/exp/slog"
)

// CacheStatistics describes the occupancy of one cache.
type CacheStatistics struct {
	Layout      memutils.Layout
	Frames      int
	FreeSlots   int
	LiveObjects int
}

// CacheStatistics returns one entry per cache, smallest layout first.
func (a *Allocator) CacheStatistics() []CacheStatistics {
	caches := a.caches.Slice()
	stats := make([]CacheStatistics, len(caches))
	for i, c := range caches {
		stats[i] = CacheStatistics{Layout: c.layout, FreeSlots: c.freeSlots}
	}

	for _, page := range a.pages.Slice() {
		index, found := a.searchCache(page.layout)
		if !found {
			continue
		}
		stats[index].Frames++
		stats[index].LiveObjects += page.allocated
	}

	return stats
}

// FrameCount returns the number of frames carved into slots.
func (a *Allocator) FrameCount() int {
	return a.pages.Len()
}

// MetadataFrames returns the number of frames holding the cache and frame
// tables.
func (a *Allocator) MetadataFrames() int {
	return a.caches.Frames() + a.pages.Frames()
}

// AddStatistics sums the slab frames and live objects into stats.
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	for _, page := range a.pages.Slice() {
		stats.FrameCount++
		stats.FrameBytes += int(mem.PageSize)
		stats.AllocationCount += page.allocated
		stats.AllocationBytes += page.allocated * int(page.layout.Size)
	}
}

// Validate checks both tables and every cache's free list against each other.
func (a *Allocator) Validate() error {
	caches := a.caches.Slice()
	for i, c := range caches {
		if c.layout != c.layout.Normalize() {
			return cerrors.Newf("cache %d has layout %s which is not normalized", i, c.layout)
		}
		if i > 0 && caches[i-1].layout.Compare(c.layout) >= 0 {
			return cerrors.Newf("caches %d and %d are out of order: %s, %s", i-1, i, caches[i-1].layout, c.layout)
		}
	}

	pages := a.pages.Slice()
	freeByLayout := swiss.NewMap[memutils.Layout, int](uint32(len(caches)))
	for i, page := range pages {
		if !page.base.IsAligned(mem.PageSize) {
			return cerrors.Newf("slab frame %s is not frame aligned", page.base)
		}
		if i > 0 && pages[i-1].base >= page.base {
			return cerrors.Newf("slab frames %s and %s are out of order", pages[i-1].base, page.base)
		}
		if page.free < 0 || page.allocated < 0 || page.free+page.allocated != SlotsPerFrame(page.layout) {
			return cerrors.Newf("slab frame %s has %d free and %d allocated slots of layout %s", page.base, page.free, page.allocated, page.layout)
		}
		if live := page.liveCount(); live != page.allocated {
			return cerrors.Newf("slab frame %s marks %d slots live but counts %d allocated", page.base, live, page.allocated)
		}
		if _, found := a.searchCache(page.layout); !found {
			return cerrors.Wrapf(memutils.ErrUnknownCache, "slab frame %s serves layout %s", page.base, page.layout)
		}
		free, _ := freeByLayout.Get(page.layout)
		freeByLayout.Put(page.layout, free+page.free)
	}

	for _, c := range caches {
		if err := a.validateFreeList(c); err != nil {
			return err
		}
		if free, _ := freeByLayout.Get(c.layout); free != c.freeSlots {
			return cerrors.Newf("cache %s lists %d free slots but its frames hold %d", c.layout, c.freeSlots, free)
		}
	}

	return nil
}

func (a *Allocator) validateFreeList(c cache) error {
	count := 0
	for slot := c.freeList; slot != mem.NilAddr; slot = slot.LoadLink() {
		count++
		if count > c.freeSlots {
			return cerrors.Newf("cache %s free list is longer than its %d free slots", c.layout, c.freeSlots)
		}

		index, found := a.searchPage(slot.PageBase())
		if !found {
			return cerrors.Wrapf(memutils.ErrUnknownFrame, "free slot %s of cache %s", slot, c.layout)
		}
		page := a.pages.At(index)
		if page.layout != c.layout {
			return cerrors.Wrapf(memutils.ErrLayoutMismatch, "free slot %s of cache %s lies in a frame of layout %s", slot, c.layout, page.layout)
		}
		if slot.Sub(page.base)%c.layout.Size != 0 {
			return cerrors.Wrapf(memutils.ErrUnaligned, "free slot %s of cache %s", slot, c.layout)
		}
		if page.isLive(page.slotIndex(slot)) {
			return cerrors.Wrapf(memutils.ErrDoubleFree, "slot %s of cache %s is on the free list while handed out", slot, c.layout)
		}
		if !memutils.CheckPoison(slot, c.layout.Size) {
			return cerrors.Wrapf(memutils.ErrCorruption, "free slot %s of cache %s was written after it was freed", slot, c.layout)
		}
	}

	if count != c.freeSlots {
		return cerrors.Newf("cache %s free list holds %d slots, expected %d", c.layout, count, c.freeSlots)
	}
	return nil
}

// PrintDetailedMap populates a json object with the caches and, when detailed
// is set, every slab frame.
func (a *Allocator) PrintDetailedMap(json *jwriter.ObjectState, detailed bool) {
	json.Name("Frames").Int(a.pages.Len())
	json.Name("MetadataFrames").Int(a.MetadataFrames())

	caches := json.Name("Caches").Array()
	for _, stats := range a.CacheStatistics() {
		obj := caches.Object()
		obj.Name("Size").Int(int(stats.Layout.Size))
		obj.Name("Align").Int(int(stats.Layout.Align))
		obj.Name("Frames").Int(stats.Frames)
		obj.Name("FreeSlots").Int(stats.FreeSlots)
		obj.Name("LiveObjects").Int(stats.LiveObjects)
		obj.End()
	}
	caches.End()

	if !detailed {
		return
	}

	pages := json.Name("Pages").Array()
	for _, page := range a.pages.Slice() {
		obj := pages.Object()
		obj.Name("Base").String(page.base.String())
		obj.Name("Size").Int(int(page.layout.Size))
		obj.Name("Free").Int(page.free)
		obj.Name("Allocated").Int(page.allocated)
		obj.End()
	}
	pages.End()
}

// DebugLogCaches logs the occupancy of every cache.
func (a *Allocator) DebugLogCaches(logger *slog.Logger) {
	for _, stats := range a.CacheStatistics() {
		logger.Debug("slab cache",
			slog.String("Layout", stats.Layout.String()),
			slog.Int("Frames", stats.Frames),
			slog.Int("FreeSlots", stats.FreeSlots),
			slog.Int("LiveObjects", stats.LiveObjects))
	}
}
