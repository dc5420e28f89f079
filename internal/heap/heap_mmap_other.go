//go:build !linux

package heap

// mapMemory falls back to ordinary allocation on platforms without the
// mmap path.
func mapMemory(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
