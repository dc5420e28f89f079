//go:build linux

package amd64

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MapExecutable copies compiled code into a fresh anonymous mapping and
// flips it read-execute, returning the entry address and a release
// function. Callers own handing the address to the runtime's method table;
// executing it from Go needs an architecture trampoline and is out of this
// package's hands.
func MapExecutable(code []byte) (uintptr, func() error, error) {
	if len(code) == 0 {
		return 0, nil, fmt.Errorf("amd64: empty code")
	}

	pageSize := unix.Getpagesize()
	allocSize := ((len(code) + pageSize - 1) / pageSize) * pageSize

	mem, err := unix.Mmap(-1, 0, allocSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, nil, fmt.Errorf("amd64: mmap code region: %w", err)
	}
	copy(mem, code)

	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return 0, nil, fmt.Errorf("amd64: mprotect code region: %w", err)
	}

	entry := uintptr(unsafe.Pointer(&mem[0]))
	release := func() error { return unix.Munmap(mem) }
	return entry, release, nil
}
