// Package hostmem provides anonymous memory mappings that stand in for
// physical memory when the allocators run as an ordinary process, such as in
// tests and in the kallocsim tool.
package hostmem

import (
	"github.com/pkg/errors"
	"github.com/tinykern/kalloc/mem"
	"github.com/tinykern/kalloc/memutils"
)

// Region is an anonymous read-write mapping whose usable window starts at a
// caller-chosen alignment.
type Region struct {
	mapping []byte
	window  mem.Region
}

// Map reserves size bytes of zeroed memory starting at an address aligned to
// align. align must be a power of two.
func Map(size, align mem.Size) (*Region, error) {
	if err := memutils.CheckPow2(align, "align"); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, errors.New("cannot map an empty region")
	}

	slack := mem.Size(0)
	if align > mem.PageSize {
		slack = align
	}

	mapping, err := mapAnonymous(size + slack)
	if err != nil {
		return nil, err
	}

	base := mem.Addr(0)
	if len(mapping) > 0 {
		base = mem.Addr(uintptrOf(mapping))
	}

	return &Region{
		mapping: mapping,
		window: mem.Region{
			Start: memutils.AlignUp(base, mem.Addr(align)),
			Size:  size,
		},
	}, nil
}

// Base returns the first usable address.
func (r *Region) Base() mem.Addr {
	return r.window.Start
}

// Size returns the usable size in bytes.
func (r *Region) Size() mem.Size {
	return r.window.Size
}

// Region returns the usable window.
func (r *Region) Region() mem.Region {
	return r.window
}

// Contains reports whether the span [addr, addr+size) lies in the usable
// window.
func (r *Region) Contains(addr mem.Addr, size mem.Size) bool {
	return addr >= r.window.Start && addr.Add(size) <= r.window.End()
}

// Close unmaps the region. Addresses inside it must not be used afterwards.
func (r *Region) Close() error {
	if r.mapping == nil {
		return nil
	}
	err := unmap(r.mapping)
	r.mapping = nil
	return err
}
