package proxyevent

import "github.com/score-lola/lola-ipc/pkg/eventdata"

// SlotDecrementer owns exactly one acquired reference on a data slot. Its
// Close releases that reference via DereferenceEvent exactly once; Go has
// no destructors, so "drop" here means an explicit Close call rather than
// scope exit, and a moved-from guard is simply one that has already been
// closed (closing again is a safe no-op, not a second decrement).
type SlotDecrementer struct {
	control   *eventdata.Control
	slotIndex int
	logIndex  int
	armed     bool
	onClose   func()
}

// NewSlotDecrementer records ownership of slotIndex, already referenced
// under logIndex by the caller (typically a SlotCollector). onClose, if
// non-nil, runs once after the reference is released (used by the
// subscription state machine to track outstanding-sample accounting);
// pass nil when no such bookkeeping is needed.
func NewSlotDecrementer(control *eventdata.Control, slotIndex, logIndex int, onClose func()) *SlotDecrementer {
	return &SlotDecrementer{control: control, slotIndex: slotIndex, logIndex: logIndex, armed: true, onClose: onClose}
}

// Close releases the held reference if still armed. Safe to call more
// than once.
func (d *SlotDecrementer) Close() {
	if !d.armed {
		return
	}

	d.armed = false
	d.control.DereferenceEvent(d.slotIndex, d.logIndex)

	if d.onClose != nil {
		d.onClose()
	}
}

// SlotIndex returns the data slot this guard owns.
func (d *SlotDecrementer) SlotIndex() int {
	return d.slotIndex
}

// SamplePtr is the user-facing handle to one referenced sample: the
// payload bytes for its slot, plus the guard that releases the
// reference when the caller is done with it.
type SamplePtr struct {
	dec  *SlotDecrementer
	data []byte
}

// NewSamplePtr wraps dec with a view into the slot's payload bytes.
func NewSamplePtr(dec *SlotDecrementer, data []byte) *SamplePtr {
	return &SamplePtr{dec: dec, data: data}
}

// Bytes returns the sample payload. Valid only until Close.
func (s *SamplePtr) Bytes() []byte {
	return s.data
}

// SlotIndex returns the owning slot's index, for diagnostics.
func (s *SamplePtr) SlotIndex() int {
	return s.dec.SlotIndex()
}

// Close releases the underlying reference exactly once.
func (s *SamplePtr) Close() {
	s.dec.Close()
}
