//go:build linux

package sstio

import "syscall"

// directIOFlag returns the platform open-flag that requests unbuffered I/O.
func directIOFlag() int {
	return syscall.O_DIRECT
}
