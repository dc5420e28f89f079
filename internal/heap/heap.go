package heap

import (
	"fmt"
	"log/slog"

	"github.com/MotorolaMobilityLLC/art-sub007/internal/memregion"
)

// Config sizes a heap.
type Config struct {
	// Capacity is the managed address range in bytes. Address 0 is
	// reserved as the null reference.
	Capacity uint32
	Logger   *slog.Logger
}

// Heap is the process-wide managed-memory context. All collector and
// allocator entry points take it explicitly; there is no package-level
// heap state.
type Heap struct {
	mem      memregion.Region
	release  func() error
	capacity uint32
	cursor   uint32
	spaces   []*Space
	cards    *CardTable
	logger   *slog.Logger
}

// New maps the backing memory and builds an empty heap with no spaces.
func New(cfg Config) (*Heap, error) {
	if cfg.Capacity < CardSize {
		return nil, fmt.Errorf("heap: capacity %d below one card", cfg.Capacity)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buf, release, err := mapMemory(int(cfg.Capacity))
	if err != nil {
		return nil, err
	}
	h := &Heap{
		mem:      memregion.New(buf),
		release:  release,
		capacity: cfg.Capacity,
		cursor:   ObjectAlignment, // keep address 0 unused
		cards:    newCardTable(cfg.Capacity),
		logger:   logger,
	}
	logger.Debug("heap mapped", "capacity", cfg.Capacity)
	return h, nil
}

// Close unmaps the backing memory. The heap must not be used afterwards.
func (h *Heap) Close() error {
	if h.release == nil {
		return nil
	}
	release := h.release
	h.release = nil
	return release()
}

// Region exposes the raw managed memory, primarily for tests and the
// collector's field accessors.
func (h *Heap) Region() memregion.Region { return h.mem }

// Capacity returns the managed range size in bytes.
func (h *Heap) Capacity() uint32 { return h.capacity }

// CardTable returns the heap's card table.
func (h *Heap) CardTable() *CardTable { return h.cards }

// Spaces returns the spaces in creation (ascending address) order.
func (h *Heap) Spaces() []*Space { return h.spaces }

// AddSpace carves a named space out of the unassigned address range.
func (h *Heap) AddSpace(name string, size uint32) (*Space, error) {
	size = alignUp(size)
	begin := alignUp(h.cursor)
	if size == 0 || begin+size < begin || begin+size > h.capacity {
		return nil, fmt.Errorf("heap: space %q of %d bytes does not fit (cursor %d, capacity %d)",
			name, size, h.cursor, h.capacity)
	}
	s := &Space{
		name:   name,
		begin:  begin,
		end:    begin + size,
		cursor: begin,
		live:   NewBitmap(begin, size),
		mark:   NewBitmap(begin, size),
		heap:   h,
	}
	h.cursor = s.end
	h.spaces = append(h.spaces, s)
	h.logger.Debug("space added", "name", name, "begin", begin, "end", s.end)
	return s, nil
}

// SpaceContaining returns the space covering addr, or nil.
func (h *Heap) SpaceContaining(addr uint32) *Space {
	for _, s := range h.spaces {
		if s.Contains(addr) {
			return s
		}
	}
	return nil
}

func alignUp(v uint32) uint32 {
	return (v + ObjectAlignment - 1) &^ (ObjectAlignment - 1)
}
