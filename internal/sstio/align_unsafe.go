package sstio

import "unsafe"

// ptrOf returns the address of b's backing array, used only to compute
// alignment padding for AlignedBuffer.
func ptrOf(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}
