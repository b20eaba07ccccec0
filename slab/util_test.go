package slab_test

import (
	"unsafe"

	"github.com/tinykern/kalloc/mem"
)

func unsafeBytes(addr mem.Addr, size mem.Size) []byte {
	return unsafe.Slice((*byte)(addr.Pointer()), int(size))
}
