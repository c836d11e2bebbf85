package page

import "unsafe"

// sameBackingArray reports whether next begins exactly where free ends
// in the same backing array, i.e. whether freeing next would extend the
// free region contiguously instead of starting a new one. This stands
// in for the reference pool's raw pointer-contiguity check, which Go's
// slice model doesn't expose directly.
func sameBackingArray(free, next []byte) bool {
	if len(free) == 0 || len(next) == 0 {
		return false
	}
	freeEnd := uintptr(unsafe.Pointer(unsafe.SliceData(free))) + uintptr(len(free))
	nextStart := uintptr(unsafe.Pointer(unsafe.SliceData(next)))
	return freeEnd == nextStart
}
