package mem

import "fmt"

// Region describes the half-open byte range [Start, Start+Size).
type Region struct {
	Start Addr
	Size  Size
}

// RegionFromBounds builds the region [start, end). An end at or below start
// yields an empty region.
func RegionFromBounds(start, end Addr) Region {
	if end <= start {
		return Region{Start: start}
	}
	return Region{Start: start, Size: end.Sub(start)}
}

// End returns the first address past the region.
func (r Region) End() Addr {
	return r.Start.Add(r.Size)
}

// Empty returns true if the region covers no bytes.
func (r Region) Empty() bool {
	return r.Size == 0
}

// Contains returns true if addr falls inside the region.
func (r Region) Contains(addr Addr) bool {
	return addr >= r.Start && addr < r.End()
}

// Overlaps returns true if the two regions share at least one byte.
func (r Region) Overlaps(other Region) bool {
	return r.Start < other.End() && other.Start < r.End()
}

// Offset translates the region by a fixed amount, e.g. from a physical to a
// direct-mapped virtual address.
func (r Region) Offset(delta Addr) Region {
	return Region{Start: r.Start + delta, Size: r.Size}
}

func (r Region) String() string {
	return fmt.Sprintf("%s..%s", r.Start, r.End())
}
