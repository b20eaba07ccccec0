//go:build debug_kalloc

package memutils

import (
	"unsafe"

	"github.com/tinykern/kalloc/mem"
)

const (
	// DebugEnabled reports whether the package was built with the debug_kalloc
	// build tag.
	DebugEnabled = true

	poisonMagicValue uint32 = 0x7F84E666
)

// WritePoison fills a free slot, past its link word, with an easy-to-identify
// marker. This method no-ops unless the debug_kalloc build tag is present.
func WritePoison(slot mem.Addr, size mem.Size) {
	for offset := mem.PointerSize; offset+4 <= size; offset += 4 {
		*(*uint32)(unsafe.Pointer(uintptr(slot.Add(offset)))) = poisonMagicValue
	}
}

// CheckPoison verifies that the marker written by WritePoison is intact.
// This method no-ops unless the debug_kalloc build tag is present.
func CheckPoison(slot mem.Addr, size mem.Size) bool {
	for offset := mem.PointerSize; offset+4 <= size; offset += 4 {
		if *(*uint32)(unsafe.Pointer(uintptr(slot.Add(offset)))) != poisonMagicValue {
			return false
		}
	}
	return true
}

// DebugValidate will call Validate on the provided object and panics if any
// errors are returned. This method no-ops unless the debug_kalloc build tag is
// present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}
