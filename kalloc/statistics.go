package kalloc

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/tinykern/kalloc/mem"
	"github.com/tinykern/kalloc/memutils"
	"github.com/tinykern/kalloc/slab"
	"golang.org/x/exp/slog"
)

// Statistics is a snapshot of the whole allocator.
type Statistics struct {
	// Free describes the blocks held in the buddy free lists
	Free memutils.DetailedStatistics
	// Slab describes the frames carved into slots and the objects living in
	// them
	Slab memutils.Statistics
	// Caches breaks Slab down by size class
	Caches []slab.CacheStatistics
	// MetadataFrames is the number of frames holding slab tables
	MetadataFrames int
	// TrackedAllocations is the number of live Allocate results, or zero if
	// AllocatorCreateTrackAllocations was not set
	TrackedAllocations int
}

// CalculateStatistics fills stats with the current state of the allocator.
func (a *Allocator) CalculateStatistics(stats *Statistics) {
	interrupts := a.lock.Lock()
	defer a.lock.Unlock(interrupts)

	a.calculateStatistics(stats)
}

func (a *Allocator) calculateStatistics(stats *Statistics) {
	stats.Free.Clear()
	a.frames.AddDetailedStatistics(&stats.Free)

	stats.Slab.Clear()
	a.objects.AddStatistics(&stats.Slab)

	stats.Caches = a.objects.CacheStatistics()
	stats.MetadataFrames = a.objects.MetadataFrames()

	stats.TrackedAllocations = 0
	if a.live != nil {
		stats.TrackedAllocations = a.live.Count()
	}
}

// BuildStatsString returns a json document describing the allocator. With
// detailed set it also lists every free block and every slab frame.
func (a *Allocator) BuildStatsString(detailed bool) string {
	interrupts := a.lock.Lock()
	defer a.lock.Unlock(interrupts)

	var stats Statistics
	a.calculateStatistics(&stats)

	writer := jwriter.NewWriter()
	root := writer.Object()

	root.Name("Flags").String(a.createFlags.String())
	root.Name("FrameSize").Int(int(mem.PageSize))

	total := root.Name("Total").Object()
	total.Name("FreeBytes").Int(stats.Free.FreeBytes)
	total.Name("SlabBytes").Int(stats.Slab.FrameBytes)
	total.Name("MetadataBytes").Int(stats.MetadataFrames * int(mem.PageSize))
	total.Name("TrackedAllocations").Int(stats.TrackedAllocations)
	total.End()

	free := root.Name("Free").Object()
	stats.Free.JsonData(&free)
	free.End()

	buddyMap := root.Name("Buddy").Object()
	a.frames.PrintDetailedMap(&buddyMap, detailed)
	buddyMap.End()

	slabMap := root.Name("Slab").Object()
	stats.Slab.JsonData(&slabMap)
	a.objects.PrintDetailedMap(&slabMap, detailed)
	slabMap.End()

	root.End()
	return string(writer.Bytes())
}

// DebugLogAllocator logs every buddy free list and every slab cache.
func (a *Allocator) DebugLogAllocator() {
	interrupts := a.lock.Lock()
	defer a.lock.Unlock(interrupts)

	a.logger.Debug("Allocator::DebugLogAllocator",
		slog.String("FreeBytes", a.frames.FreeBytes().String()),
		slog.Int("SlabFrames", a.objects.FrameCount()),
	)
	a.frames.DebugLogFreeBlocks(a.logger)
	a.objects.DebugLogCaches(a.logger)
}
