// Package mem holds the address and size types shared by every allocator
// layer, along with helpers that read and write raw memory by address.
package mem

import "fmt"

// Size represents a memory block size in bytes.
type Size uintptr

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)).
	PointerShift = 3

	// PointerSize is the size in bytes of a machine word.
	PointerSize = Size(1 << PointerShift)

	// PageShift is equal to log2(PageSize). It converts between a frame
	// number and its physical address.
	PageShift = 12

	// PageSize is the size of one granule, the smallest unit the frame
	// allocator hands out.
	PageSize = Size(1 << PageShift)
)

// Pages returns the number of whole frames required to hold s bytes.
func (s Size) Pages() int {
	return int((s + PageSize - 1) >> PageShift)
}

func (s Size) String() string {
	switch {
	case s >= Gb && s%Gb == 0:
		return fmt.Sprintf("%dGiB", s/Gb)
	case s >= Mb && s%Mb == 0:
		return fmt.Sprintf("%dMiB", s/Mb)
	case s >= Kb && s%Kb == 0:
		return fmt.Sprintf("%dKiB", s/Kb)
	}
	return fmt.Sprintf("%dB", uintptr(s))
}
