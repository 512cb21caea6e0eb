package slotstatus

import (
	"sync/atomic"
	"unsafe"
)

// Size is the byte footprint of one SlotStatus cell in the shared region.
const Size = 8

// Cell is a SlotStatus cell addressed directly inside a mapped shared
// memory region. Every EventDataControl slot is one Cell; skeleton and
// proxy processes mapping the same region observe the same bits.
//
// Cell requires 8-byte alignment of its backing storage, which EventData's
// layout guarantees by sizing each slot's status array at Size-byte
// strides from an 8-byte-aligned base.
type Cell struct {
	p *atomic.Uint64
}

// NewCell returns the Cell addressing the 8 bytes of buf starting at
// offset. buf must outlive the Cell (it is typically a slice of a
// [github.com/score-lola/lola-ipc/pkg/shm.Region]'s backing bytes).
func NewCell(buf []byte, offset int) Cell {
	if offset < 0 || offset+Size > len(buf) {
		panic("slotstatus: cell offset out of range")
	}

	if offset%Size != 0 {
		panic("slotstatus: cell offset must be 8-byte aligned")
	}

	//nolint:gosec // mapping a byte slice to its embedded atomic cell is the point of this type.
	return Cell{p: (*atomic.Uint64)(unsafe.Pointer(&buf[offset]))}
}

// Load reads the cell with acquire semantics.
func (c Cell) Load() Value {
	return Unpack(c.p.Load())
}

// Store writes the cell with release semantics. Used only by the single
// writer, which never races another writer for the same slot.
func (c Cell) Store(v Value) {
	c.p.Store(v.Pack())
}

// CompareAndSwap atomically replaces old with new and reports whether it
// succeeded. Used by readers (ReferenceSpecificEvent, ReferenceNextEvent,
// DereferenceEvent) which may race each other on the same slot.
func (c Cell) CompareAndSwap(old, newValue Value) bool {
	return c.p.CompareAndSwap(old.Pack(), newValue.Pack())
}
