package slab_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/tinykern/kalloc/buddy"
	"github.com/tinykern/kalloc/hostmem"
	"github.com/tinykern/kalloc/mem"
	"github.com/tinykern/kalloc/memutils"
	"github.com/tinykern/kalloc/slab"
	"golang.org/x/exp/slog"
)

func requireFatal(t *testing.T, target error, fn func()) {
	t.Helper()

	defer func() {
		t.Helper()

		r := recover()
		require.NotNil(t, r, "expected a fatal error wrapping %v", target)

		err, isErr := r.(error)
		require.Truef(t, isErr, "expected the panic value to be an error, got %T", r)
		require.Truef(t, errors.Is(err, target), "expected %v, got %v", target, err)
	}()

	fn()
}

const regionSize = 4 * mem.Mb

func layout(size, align mem.Size) memutils.Layout {
	return memutils.Layout{Size: size, Align: align}
}

func newSlab(t *testing.T, sizes ...mem.Size) (*slab.Allocator, *buddy.Allocator) {
	t.Helper()

	region, err := hostmem.Map(regionSize, regionSize)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, region.Close())
	})

	frames := buddy.New()
	frames.FreeRegion(region.Base(), region.Size())

	alloc := slab.New(frames)
	for _, size := range sizes {
		require.NoError(t, alloc.RegisterCache(layout(size, memutils.MinAlignment)))
	}

	return alloc, frames
}

func TestRegisterCache(t *testing.T) {
	alloc, _ := newSlab(t, 64, 16, 32)

	// duplicates after normalization are ignored
	require.NoError(t, alloc.RegisterCache(layout(30, 2)))
	require.NoError(t, alloc.RegisterCache(layout(16, 0)))
	require.NoError(t, alloc.RegisterCache(layout(32, 32)))

	var registered []memutils.Layout
	for _, stats := range alloc.CacheStatistics() {
		registered = append(registered, stats.Layout)
	}
	require.Equal(t, []memutils.Layout{
		layout(16, 8),
		layout(32, 8),
		layout(32, 32),
		layout(64, 8),
	}, registered)

	require.Error(t, alloc.RegisterCache(layout(24, 24)))
	require.Error(t, alloc.RegisterCache(layout(2*mem.PageSize, 8)))
	require.NoError(t, alloc.Validate())
}

func TestClosestFit(t *testing.T) {
	alloc, _ := newSlab(t, 16, 32, 64)

	chosen, ok := alloc.Lookup(layout(20, 8))
	require.True(t, ok)
	require.Equal(t, layout(32, 8), chosen)

	first, err := alloc.Allocate(layout(20, 8))
	require.NoError(t, err)
	second, err := alloc.Allocate(layout(20, 8))
	require.NoError(t, err)
	require.Equal(t, mem.Size(32), second.Sub(first))

	stats := alloc.CacheStatistics()
	require.Equal(t, 0, stats[0].Frames)
	require.Equal(t, 1, stats[1].Frames)
	require.Equal(t, 2, stats[1].LiveObjects)

	chosen, ok = alloc.Lookup(layout(16, 8))
	require.True(t, ok)
	require.Equal(t, layout(16, 8), chosen)

	_, ok = alloc.Lookup(layout(65, 8))
	require.False(t, ok)
}

func TestAlignmentFromSlotSize(t *testing.T) {
	alloc, _ := newSlab(t, 16, 48, 128)

	// 48 byte slots are only 16 aligned, so the 128 byte class serves this
	chosen, ok := alloc.Lookup(layout(40, 32))
	require.True(t, ok)
	require.Equal(t, layout(128, 8), chosen)

	for i := 0; i < 40; i++ {
		slot, err := alloc.Allocate(layout(40, 32))
		require.NoError(t, err)
		require.True(t, slot.IsAligned(32))
	}

	for i := 0; i < 40; i++ {
		slot, err := alloc.Allocate(layout(8, 16))
		require.NoError(t, err)
		require.True(t, slot.IsAligned(16))
	}

	require.NoError(t, alloc.Validate())
}

func TestDeclaredAlignmentDominates(t *testing.T) {
	alloc, _ := newSlab(t, 48)
	require.NoError(t, alloc.RegisterCache(layout(64, 64)))

	chosen, ok := alloc.Lookup(layout(40, 64))
	require.True(t, ok)
	require.Equal(t, layout(64, 64), chosen)

	chosen, ok = alloc.Lookup(layout(40, 32))
	require.True(t, ok)
	require.Equal(t, layout(64, 64), chosen)

	slot, err := alloc.Allocate(layout(40, 64))
	require.NoError(t, err)
	require.True(t, slot.IsAligned(64))
	alloc.Free(slot)
	require.NoError(t, alloc.Validate())
}

func TestPacking(t *testing.T) {
	const objects = 150

	alloc, frames := newSlab(t, 64)
	slotsPerFrame := slab.SlotsPerFrame(layout(64, 8))
	require.Equal(t, 64, slotsPerFrame)

	slots := make([]mem.Addr, 0, objects)
	for i := 0; i < objects; i++ {
		slot, err := alloc.Allocate(layout(64, 8))
		require.NoError(t, err)
		slots = append(slots, slot)
	}

	expectedFrames := (objects + slotsPerFrame - 1) / slotsPerFrame
	require.Equal(t, expectedFrames, alloc.FrameCount())

	// everything taken from the frame source is either a slab or a table
	require.Equal(t, mem.Size(expectedFrames+alloc.MetadataFrames())*mem.PageSize, regionSize-frames.FreeBytes())

	seen := make(map[mem.Addr]struct{}, objects)
	for _, slot := range slots {
		require.True(t, slot.IsAligned(64))
		_, duplicate := seen[slot]
		require.False(t, duplicate)
		seen[slot] = struct{}{}
	}

	var stats memutils.Statistics
	alloc.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{
		FrameCount:      expectedFrames,
		FrameBytes:      expectedFrames * int(mem.PageSize),
		AllocationCount: objects,
		AllocationBytes: objects * 64,
	}, stats)

	for _, slot := range slots {
		alloc.Free(slot)
	}

	cacheStats := alloc.CacheStatistics()
	require.Len(t, cacheStats, 1)
	require.Equal(t, expectedFrames*slotsPerFrame, cacheStats[0].FreeSlots)
	require.Equal(t, 0, cacheStats[0].LiveObjects)

	// frames stay with the cache until Shrink
	require.Equal(t, expectedFrames, alloc.FrameCount())
	require.NoError(t, alloc.Validate())

	for i := 0; i < objects; i++ {
		_, err := alloc.Allocate(layout(64, 8))
		require.NoError(t, err)
	}
	require.Equal(t, expectedFrames, alloc.FrameCount())
}

func TestShrink(t *testing.T) {
	alloc, frames := newSlab(t, 32)

	var slots []mem.Addr
	for i := 0; i < 3*128; i++ {
		slot, err := alloc.Allocate(layout(32, 8))
		require.NoError(t, err)
		slots = append(slots, slot)
	}
	require.Equal(t, 3, alloc.FrameCount())

	// keep one object alive in the middle frame
	keep := slots[128]
	for _, slot := range slots {
		if slot != keep {
			alloc.Free(slot)
		}
	}

	require.Equal(t, 2, alloc.Shrink())
	require.Equal(t, 1, alloc.FrameCount())
	require.Equal(t, keep.PageBase(), slots[129].PageBase())
	require.NoError(t, alloc.Validate())

	stats := alloc.CacheStatistics()
	require.Equal(t, 127, stats[0].FreeSlots)
	require.Equal(t, 1, stats[0].LiveObjects)

	// the surviving frame still serves allocations
	slot, err := alloc.Allocate(layout(32, 8))
	require.NoError(t, err)
	require.Equal(t, keep.PageBase(), slot.PageBase())
	alloc.Free(slot)

	alloc.Free(keep)
	require.Equal(t, 1, alloc.Shrink())
	require.Equal(t, 0, alloc.Shrink())
	require.Equal(t, regionSize-mem.Size(alloc.MetadataFrames())*mem.PageSize, frames.FreeBytes())
	require.NoError(t, alloc.Validate())
}

func TestFatalErrors(t *testing.T) {
	alloc, _ := newSlab(t, 16, 32, 64)

	requireFatal(t, memutils.ErrNoCache, func() {
		_, _ = alloc.Allocate(layout(128, 8))
	})

	slot, err := alloc.Allocate(layout(32, 8))
	require.NoError(t, err)

	requireFatal(t, memutils.ErrUnknownFrame, func() {
		alloc.Free(slot.Add(mem.PageSize))
	})

	requireFatal(t, memutils.ErrUnaligned, func() {
		alloc.Free(slot.Add(8))
	})

	alloc.Free(slot)
	requireFatal(t, memutils.ErrDoubleFree, func() {
		alloc.Free(slot)
	})
}

func TestDoubleFreeWithLiveNeighbour(t *testing.T) {
	alloc, _ := newSlab(t, 32)

	first, err := alloc.Allocate(layout(32, 8))
	require.NoError(t, err)
	second, err := alloc.Allocate(layout(32, 8))
	require.NoError(t, err)
	require.Equal(t, first.PageBase(), second.PageBase())

	alloc.Free(first)
	requireFatal(t, memutils.ErrDoubleFree, func() {
		alloc.Free(first)
	})

	// the rejected free left the cache untouched
	require.NoError(t, alloc.Validate())
	again, err := alloc.Allocate(layout(32, 8))
	require.NoError(t, err)
	next, err := alloc.Allocate(layout(32, 8))
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.NotEqual(t, again, next)
	require.NotEqual(t, second, next)

	alloc.Free(second)
	alloc.Free(again)
	alloc.Free(next)
	require.NoError(t, alloc.Validate())
}

func TestOutOfFrames(t *testing.T) {
	region, err := hostmem.Map(4*mem.PageSize, 4*mem.PageSize)
	require.NoError(t, err)
	defer func() { require.NoError(t, region.Close()) }()

	frames := buddy.New()
	frames.FreeRegion(region.Base(), region.Size())

	alloc := slab.New(frames)
	require.NoError(t, alloc.RegisterCache(layout(mem.PageSize/2, 8)))

	// one frame holds the cache table, the rest become slabs or the page table
	var allocateErr error
	for i := 0; i < 16 && allocateErr == nil; i++ {
		_, allocateErr = alloc.Allocate(layout(mem.PageSize/2, 8))
	}
	require.True(t, errors.Is(allocateErr, memutils.ErrOutOfMemory))
	require.NoError(t, alloc.Validate())
}

func TestRandomWorkload(t *testing.T) {
	sizes := []mem.Size{8, 16, 24, 32, 48, 64, 96, 128, 256, 512, 1024, 2048}
	alloc, _ := newSlab(t, sizes...)

	type live struct {
		slot  mem.Addr
		size  mem.Size
		value byte
	}

	rng := rand.New(rand.NewSource(7))
	var objects []live

	for step := 0; step < 2000; step++ {
		if len(objects) > 0 && rng.Intn(5) < 2 {
			index := rng.Intn(len(objects))
			object := objects[index]
			objects = append(objects[:index], objects[index+1:]...)

			// nobody else wrote into the object while it was live
			contents := unsafeBytes(object.slot, object.size)
			require.Equal(t, bytes.Repeat([]byte{object.value}, int(object.size)), contents)

			alloc.Free(object.slot)
			continue
		}

		size := mem.Size(rng.Intn(2048)) + 1
		slot, err := alloc.Allocate(layout(size, 8))
		require.NoError(t, err)

		value := byte(rng.Intn(255) + 1)
		mem.Memset(slot, value, size)
		objects = append(objects, live{slot: slot, size: size, value: value})

		if step%100 == 0 {
			require.NoError(t, alloc.Validate())
		}
	}

	for _, object := range objects {
		alloc.Free(object.slot)
	}
	require.NoError(t, alloc.Validate())

	for _, stats := range alloc.CacheStatistics() {
		require.Equal(t, 0, stats.LiveObjects)
	}
}

func TestPrintDetailedMap(t *testing.T) {
	alloc, _ := newSlab(t, 16, 64)

	slot, err := alloc.Allocate(layout(64, 8))
	require.NoError(t, err)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	alloc.PrintDetailedMap(&obj, true)
	obj.End()

	require.JSONEq(t, `{
		"Frames": 1,
		"MetadataFrames": 2,
		"Caches": [
			{"Size": 16, "Align": 8, "Frames": 0, "FreeSlots": 0, "LiveObjects": 0},
			{"Size": 64, "Align": 8, "Frames": 1, "FreeSlots": 63, "LiveObjects": 1}
		],
		"Pages": [
			{"Base": "`+slot.PageBase().String()+`", "Size": 64, "Free": 63, "Allocated": 1}
		]
	}`, string(writer.Bytes()))

	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	alloc.DebugLogCaches(logger)
	require.Contains(t, out.String(), "LiveObjects=1")
	require.Contains(t, out.String(), "FreeSlots=63")
}
