package mem

import "unsafe"

// Memset sets size bytes at the given address to the supplied value. Instead
// of a byte loop it makes log2(size) copy calls, which is quick for the
// page-sized spans it is mostly called with.
func Memset(addr Addr, value byte, size Size) {
	if size == 0 {
		return
	}

	target := unsafe.Slice((*byte)(addr.Pointer()), int(size))

	target[0] = value
	for index := 1; index < len(target); index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies size bytes from src to dst. The ranges may overlap.
func Memcopy(src, dst Addr, size Size) {
	if size == 0 {
		return
	}

	srcSlice := unsafe.Slice((*byte)(src.Pointer()), int(size))
	dstSlice := unsafe.Slice((*byte)(dst.Pointer()), int(size))

	copy(dstSlice, srcSlice)
}
