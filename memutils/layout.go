package memutils

import (
	"fmt"

	cerrors "github.com/cockroachdb/errors"
	"github.com/tinykern/kalloc/mem"
)

// MinAlignment is the smallest alignment a slab slot can have: every free
// slot stores one link word.
const MinAlignment = mem.PointerSize

// Layout is the size and alignment of an allocation request.
type Layout struct {
	Size  mem.Size
	Align mem.Size
}

// NewLayout builds a Layout, returning an error if align is not a power of
// two.
func NewLayout(size, align mem.Size) (Layout, error) {
	if err := CheckPow2(align, "alignment"); err != nil {
		return Layout{}, cerrors.Wrapf(err, "invalid layout of size %d", size)
	}
	return Layout{Size: size, Align: align}, nil
}

// Normalize floors the alignment at MinAlignment and rounds the size up to a
// non-zero multiple of the alignment.
func (l Layout) Normalize() Layout {
	align := l.Align
	if align < MinAlignment {
		align = MinAlignment
	}
	size := l.Size
	if size == 0 {
		size = 1
	}
	return Layout{Size: AlignUp(size, align), Align: align}
}

// Compare orders layouts by size, then by alignment.
func (l Layout) Compare(other Layout) int {
	switch {
	case l.Size < other.Size:
		return -1
	case l.Size > other.Size:
		return 1
	case l.Align < other.Align:
		return -1
	case l.Align > other.Align:
		return 1
	}
	return 0
}

// Dominates returns true if memory laid out as l can hold other.
func (l Layout) Dominates(other Layout) bool {
	return l.Size >= other.Size && l.Align >= other.Align
}

func (l Layout) String() string {
	return fmt.Sprintf("{size: %d, align: %d}", uintptr(l.Size), uintptr(l.Align))
}
