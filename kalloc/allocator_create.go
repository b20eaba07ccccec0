package kalloc

import (
	"io"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/tinykern/kalloc/buddy"
	"github.com/tinykern/kalloc/ksync"
	"github.com/tinykern/kalloc/mem"
	"github.com/tinykern/kalloc/memutils"
	"github.com/tinykern/kalloc/slab"
	"github.com/vkngwrapper/core/v2/common"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return allocatorCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocatorCreateExternallySynchronized skips the critical section around
	// every operation. The consumer must guarantee the allocator is only used
	// from one execution context at a time, with interrupt handlers unable to
	// reenter it.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
	// AllocatorCreateTrackAllocations records the layout of every live
	// allocation made through Allocate. Free then rejects addresses that are
	// not live and layouts that differ from the allocation's, at the cost of
	// a hash map insert and delete per call.
	AllocatorCreateTrackAllocations
)

func init() {
	AllocatorCreateExternallySynchronized.Register("AllocatorCreateExternallySynchronized")
	AllocatorCreateTrackAllocations.Register("AllocatorCreateTrackAllocations")
}

// DefaultSizeClasses is the slab ladder used when CreateOptions.SizeClasses is
// empty: word multiples from one word up to a half frame.
var DefaultSizeClasses = wordClasses(1, 2, 3, 4, 6, 8, 12, 16, 24, 32, 48, 64, 128, 256)

func wordClasses(words ...int) []memutils.Layout {
	classes := make([]memutils.Layout, 0, len(words))
	for _, count := range words {
		classes = append(classes, memutils.Layout{
			Size:  mem.Size(count) * mem.PointerSize,
			Align: mem.PointerSize,
		})
	}
	return classes
}

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags

	// SizeClasses is the slab ladder. It must contain a class able to hold
	// the largest request routed to the slab allocator: SlabMaxSize bytes
	// aligned to SlabMaxAlign. Defaults to DefaultSizeClasses.
	SizeClasses []memutils.Layout

	// Interrupts masks interrupt delivery while the allocator lock is held.
	// Defaults to a software controller.
	Interrupts ksync.InterruptController

	// Memory lists the physical memory spans to hand to the allocator at
	// creation. It can be left empty and memory added later with FreeRegion
	// or Discover.
	Memory []mem.Region
	// Reserved lists spans inside Memory that must never be handed out, such
	// as the kernel image and firmware tables.
	Reserved []mem.Region
	// PhysOffset is added to a physical address to obtain the address the
	// allocator reads and writes through.
	PhysOffset mem.Addr
}

// New creates a new Allocator
//
// logger - Receives debug output for every operation and error output before
// fatal aborts. A nil logger discards everything.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sizeClasses := options.SizeClasses
	if len(sizeClasses) == 0 {
		sizeClasses = DefaultSizeClasses
	}
	if err := validateSizeClasses(sizeClasses); err != nil {
		return nil, err
	}

	interrupts := options.Interrupts
	if interrupts == nil {
		interrupts = &ksync.SoftInterrupts{}
	}

	frames := buddy.New()
	allocator := &Allocator{
		logger:      logger,
		lock:        ksync.NewCriticalSpinlock(interrupts),
		createFlags: options.Flags,
		frames:      frames,
		objects:     slab.New(frames),
		sizeClasses: append([]memutils.Layout(nil), sizeClasses...),
	}
	allocator.lock.UseLock = options.Flags&AllocatorCreateExternallySynchronized == 0

	if options.Flags&AllocatorCreateTrackAllocations != 0 {
		allocator.live = swiss.NewMap[mem.Addr, memutils.Layout](42)
	}

	logger.Debug("Allocator::New",
		slog.String("Flags", options.Flags.String()),
		slog.Int("SizeClasses", len(sizeClasses)),
		slog.Int("MemoryRegions", len(options.Memory)),
	)

	for _, region := range options.Memory {
		allocator.Discover(region, options.Reserved, options.PhysOffset)
	}

	return allocator, nil
}

// validateSizeClasses checks that every class is a valid slab layout and that
// some class can hold every request the dispatcher routes to the slab.
func validateSizeClasses(sizeClasses []memutils.Layout) error {
	largest := memutils.Layout{Size: SlabMaxSize, Align: SlabMaxAlign}
	covered := false

	for _, class := range sizeClasses {
		if class.Align != 0 {
			if err := memutils.CheckPow2(class.Align, "size class alignment"); err != nil {
				return cerrors.Wrapf(err, "invalid size class %s", class)
			}
		}

		normalized := class.Normalize()
		if normalized.Size > mem.PageSize {
			return cerrors.Newf("size class %s does not fit in a %s frame", class, mem.PageSize)
		}
		if normalized.Size >= largest.Size && slab.SlotAlign(normalized) >= largest.Align {
			covered = true
		}
	}

	if !covered {
		return cerrors.Wrapf(memutils.ErrNoCache, "the size classes cannot hold %s", largest)
	}
	return nil
}
