package kalloc

import (
	"github.com/tinykern/kalloc/mem"
	"github.com/tinykern/kalloc/memutils"
	"golang.org/x/exp/slog"
)

func overlapsAny(span mem.Region, reserved []mem.Region) bool {
	for _, region := range reserved {
		if span.Overlaps(region) {
			return true
		}
	}
	return false
}

// Discover hands the parts of a physical memory span that do not overlap any
// reserved span to the allocator, and returns the number of bytes handed
// over. The span is walked a frame at a time. Each frame clear of reserved
// spans starts a run that keeps doubling while it stays inside memory and
// clear; the longest such run is freed and the walk resumes after it.
// Addresses are translated by physOffset before they are freed.
func (a *Allocator) Discover(memory mem.Region, reserved []mem.Region, physOffset mem.Addr) mem.Size {
	a.logger.Debug("Allocator::Discover",
		slog.String("Memory", memory.String()),
		slog.Int("Reserved", len(reserved)),
		slog.String("PhysOffset", physOffset.String()),
	)

	current := memutils.AlignUp(memory.Start, mem.Addr(mem.PageSize))
	end := memory.End()
	if current < memory.Start || current >= end {
		return 0
	}

	var handed mem.Size
	for end.Sub(current) >= mem.PageSize {
		if overlapsAny(mem.Region{Start: current, Size: mem.PageSize}, reserved) {
			current = current.Add(mem.PageSize)
			continue
		}

		run := mem.PageSize
		for run<<1 > run && run<<1 <= end.Sub(current) &&
			!overlapsAny(mem.Region{Start: current, Size: run << 1}, reserved) {
			run <<= 1
		}

		start := current.Add(mem.Size(physOffset))
		a.logger.Debug("freeing discovered memory",
			slog.String("Start", start.String()),
			slog.String("End", start.Add(run).String()),
		)
		a.FreeRegion(start, run)

		handed += run
		current = current.Add(run)
	}

	return handed
}
