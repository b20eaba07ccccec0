package mem

import (
	"fmt"
	"unsafe"
)

// Addr is a byte address in the kernel's direct-mapped view of physical
// memory. Allocators do all of their arithmetic on Addr values and only turn
// them into pointers when they touch the memory behind them.
type Addr uintptr

// NilAddr terminates intrusive free lists and marks a missing block.
const NilAddr Addr = 0

// Add returns the address size bytes past a.
func (a Addr) Add(size Size) Addr {
	return a + Addr(size)
}

// Sub returns the distance in bytes from other to a.
func (a Addr) Sub(other Addr) Size {
	return Size(a - other)
}

// PageBase masks a down to the start of the frame that contains it.
func (a Addr) PageBase() Addr {
	return a &^ Addr(PageSize-1)
}

// IsAligned returns true if a is a multiple of align, which must be a power
// of two.
func (a Addr) IsAligned(align Size) bool {
	return uintptr(a)&(uintptr(align)-1) == 0
}

// Pointer converts a into an unsafe.Pointer. The caller must own the memory
// at a. a is a direct-mapped address of memory the Go heap does not manage,
// never the address of a Go object, so the garbage collector neither moves
// nor frees what it points to.
func (a Addr) Pointer() unsafe.Pointer {
	return unsafe.Pointer(uintptr(a))
}

// LoadLink reads the address stored in the first machine word at a. It is
// used to follow intrusive list links written into free memory.
func (a Addr) LoadLink() Addr {
	return *(*Addr)(a.Pointer())
}

// StoreLink writes next into the first machine word at a.
func (a Addr) StoreLink(next Addr) {
	*(*Addr)(a.Pointer()) = next
}

func (a Addr) String() string {
	return fmt.Sprintf("%#x", uintptr(a))
}
