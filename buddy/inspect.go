package buddy

import (
	"strings"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/tinykern/kalloc/mem"
	"github.com/tinykern/kalloc/memutils"
	"golang.org/x/exp/slog"
)

// FreeBytes returns the number of bytes held in free lists.
func (a *Allocator) FreeBytes() mem.Size {
	return a.freeBytes
}

// FreeBlockCount returns the length of the free list of the given order.
func (a *Allocator) FreeBlockCount(order int) int {
	count := 0
	for block := a.freeArea[order]; block != mem.NilAddr; block = block.LoadLink() {
		count++
	}
	return count
}

// VisitFreeBlocks calls visit for every free block, highest order first,
// stopping at the first error.
func (a *Allocator) VisitFreeBlocks(visit func(block mem.Addr, order int) error) error {
	for order := MaxOrder; order >= 0; order-- {
		for block := a.freeArea[order]; block != mem.NilAddr; block = block.LoadLink() {
			if err := visit(block, order); err != nil {
				return err
			}
		}
	}
	return nil
}

// Validate checks the free lists: every block is aligned to its order, no two
// blocks overlap, no buddy pair was left unmerged and the listed sizes add up
// to FreeBytes. The lists are walked with a bound first so a cyclic list is
// reported instead of looping; the overlap checks are quadratic in the number
// of free blocks.
func (a *Allocator) Validate() error {
	var total mem.Size
	remaining := int(a.freeBytes>>mem.PageShift) + 1

	for order := 0; order <= MaxOrder; order++ {
		for block := a.freeArea[order]; block != mem.NilAddr; block = block.LoadLink() {
			remaining--
			if remaining < 0 {
				return cerrors.Newf("free list of order %d holds more blocks than free memory allows, it may be cyclic", order)
			}
			if !block.IsAligned(BlockSize(order)) {
				return cerrors.Newf("block %s in free list %d is not aligned to %s", block, order, BlockSize(order))
			}
			total += BlockSize(order)
		}
	}

	if total != a.freeBytes {
		return cerrors.Newf("free lists add up to %d bytes but %d bytes are recorded as free", total, a.freeBytes)
	}

	for order := 0; order <= MaxOrder; order++ {
		for block := a.freeArea[order]; block != mem.NilAddr; block = block.LoadLink() {
			if err := a.checkOverlaps(block, order); err != nil {
				return err
			}
		}
	}

	return nil
}

func (a *Allocator) checkOverlaps(block mem.Addr, order int) error {
	span := mem.Region{Start: block, Size: BlockSize(order)}
	buddy := block ^ mem.Addr(BlockSize(order))

	for otherOrder := 0; otherOrder <= MaxOrder; otherOrder++ {
		for other := a.freeArea[otherOrder]; other != mem.NilAddr; other = other.LoadLink() {
			if other == block && otherOrder == order {
				continue
			}
			if otherOrder == order && other == buddy {
				return cerrors.Newf("buddies %s and %s are both free at order %d", block, buddy, order)
			}
			if span.Overlaps(mem.Region{Start: other, Size: BlockSize(otherOrder)}) {
				return cerrors.Newf("block %s of order %d overlaps block %s of order %d", block, order, other, otherOrder)
			}
		}
	}

	return nil
}

// AddStatistics sums the free memory of this allocator into stats.
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	stats.FrameCount += int(a.freeBytes >> mem.PageShift)
	stats.FrameBytes += int(a.freeBytes)
}

// AddDetailedStatistics sums the free memory of this allocator into stats,
// block by block.
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.AddStatistics(&stats.Statistics)
	_ = a.VisitFreeBlocks(func(block mem.Addr, order int) error {
		stats.AddFreeBlock(int(BlockSize(order)))
		return nil
	})
}

// PrintDetailedMap populates a json object with the free lists.
func (a *Allocator) PrintDetailedMap(json *jwriter.ObjectState, detailed bool) {
	json.Name("FreeBytes").Int(int(a.freeBytes))

	orders := json.Name("Orders").Array()
	defer orders.End()

	for order := MaxOrder; order >= 0; order-- {
		if a.freeArea[order] == mem.NilAddr {
			continue
		}

		obj := orders.Object()
		obj.Name("Order").Int(order)
		obj.Name("BlockSize").Int(int(BlockSize(order)))
		obj.Name("Count").Int(a.FreeBlockCount(order))
		if detailed {
			blocks := obj.Name("Blocks").Array()
			for block := a.freeArea[order]; block != mem.NilAddr; block = block.LoadLink() {
				blocks.String(block.String())
			}
			blocks.End()
		}
		obj.End()
	}
}

// DebugLogFreeBlocks logs each non-empty free list, highest order first.
func (a *Allocator) DebugLogFreeBlocks(logger *slog.Logger) {
	for order := MaxOrder; order >= 0; order-- {
		if a.freeArea[order] == mem.NilAddr {
			continue
		}

		var chain strings.Builder
		for block := a.freeArea[order]; block != mem.NilAddr; block = block.LoadLink() {
			chain.WriteString(block.String())
			chain.WriteString("->")
		}
		chain.WriteString("nil")

		logger.Debug("free list",
			slog.Int("Order", order),
			slog.String("BlockSize", BlockSize(order).String()),
			slog.String("Blocks", chain.String()))
	}
}
