//go:build !debug_kalloc

package memutils

import "github.com/tinykern/kalloc/mem"

// DebugEnabled reports whether the package was built with the debug_kalloc
// build tag.
const DebugEnabled = false

// WritePoison fills a free slot, past its link word, with an easy-to-identify
// marker. This method no-ops unless the debug_kalloc build tag is present.
func WritePoison(slot mem.Addr, size mem.Size) {
}

// CheckPoison verifies that the marker written by WritePoison is intact.
// This method no-ops unless the debug_kalloc build tag is present.
func CheckPoison(slot mem.Addr, size mem.Size) bool {
	return true
}

// DebugValidate will call Validate on the provided object and panics if any
// errors are returned. This method no-ops unless the debug_kalloc build tag is
// present
func DebugValidate(validatable Validatable) {
}
