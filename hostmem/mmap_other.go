//go:build !unix

package hostmem

import "github.com/tinykern/kalloc/mem"

// Without mmap the region is backed by the Go heap, which does not move
// objects, padded so the window can be page aligned.
func mapAnonymous(size mem.Size) ([]byte, error) {
	return make([]byte, size+mem.PageSize), nil
}

func unmap(mapping []byte) error {
	return nil
}
