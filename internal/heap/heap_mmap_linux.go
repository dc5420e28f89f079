//go:build linux

package heap

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapMemory reserves the managed range with an anonymous private mapping,
// so untouched heap pages cost no committed memory.
func mapMemory(size int) ([]byte, func() error, error) {
	pageSize := unix.Getpagesize()
	allocSize := ((size + pageSize - 1) / pageSize) * pageSize

	mem, err := unix.Mmap(-1, 0, allocSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, fmt.Errorf("heap: mmap %d bytes: %w", allocSize, err)
	}
	return mem[:size], func() error { return unix.Munmap(mem) }, nil
}
