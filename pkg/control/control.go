// Package control composes one service instance's shared-memory region
// layout: for each configured event, an EventDataControl's slot status
// cells and the parallel data payload array, carved out of a single
// [github.com/score-lola/lola-ipc/pkg/shm.Region]. Each event's
// EventSubscriptionControl and its TransactionLogSet are ordinary heap
// objects of the composing process; they are not placed in the region,
// so they are not shared with other processes that map it. It also supplies the
// interprocess-safe [github.com/score-lola/lola-ipc/pkg/txlog.Mutex]
// implementation TransactionLogSet needs once registration genuinely
// spans processes.
package control

import (
	"fmt"

	"github.com/score-lola/lola-ipc/pkg/eventdata"
	"github.com/score-lola/lola-ipc/pkg/fs"
	"github.com/score-lola/lola-ipc/pkg/slotstatus"
	"github.com/score-lola/lola-ipc/pkg/subctrl"
	"github.com/score-lola/lola-ipc/pkg/txlog"
)

// EventConfig holds one event's configuration inputs, named directly
// from the configuration schema: number_of_sample_slots, max_subscribers,
// enforce_max_samples, and the payload size the parallel data array
// needs per slot (out of scope for the core itself, but required to lay
// out the shared region concretely).
type EventConfig struct {
	EventID              string
	SlotCount            int
	MaxSubscribers       int
	MaxSubscribableSlots uint16
	EnforceMaxSamples    bool
	PayloadSize          int
}

// EventControl is one event's region: the EventDataControl slot array and
// the parallel payload array, addressed at fixed offsets inside the
// enclosing region, plus the EventSubscriptionControl admission cell,
// which is held in process memory rather than in the region.
type EventControl struct {
	eventID     string
	data        *eventdata.Control
	sub         *subctrl.Control
	payload     []byte
	payloadSize int
}

// NewEventControl carves an EventControl for cfg out of buf starting at
// offset, returning it alongside the offset immediately past the bytes
// it consumed (so callers can lay out one event after another in a
// single region). mu backs TransactionLogSet's registration lock; pass
// nil for a process-local deployment, or an interprocess Mutex (see
// NewInterprocessMutex) once proxies genuinely live in other processes.
func NewEventControl(buf []byte, offset int, cfg EventConfig, mu txlog.Mutex) (*EventControl, int, error) {
	if cfg.SlotCount <= 0 {
		return nil, 0, fmt.Errorf("control: event %q: slot count must be > 0", cfg.EventID)
	}

	statusBytes := cfg.SlotCount * slotstatus.Size
	payloadBytes := cfg.SlotCount * cfg.PayloadSize
	need := offset + statusBytes + payloadBytes

	if need > len(buf) {
		return nil, 0, fmt.Errorf("control: event %q: region too small: need %d bytes at offset %d, have %d",
			cfg.EventID, statusBytes+payloadBytes, offset, len(buf))
	}

	statusBuf := buf[offset : offset+statusBytes]
	offset += statusBytes

	payloadBuf := buf[offset : offset+payloadBytes]
	offset += payloadBytes

	data := eventdata.New(statusBuf, cfg.SlotCount, cfg.MaxSubscribers, mu)
	sub := subctrl.New(uint16(cfg.MaxSubscribers), cfg.MaxSubscribableSlots, cfg.EnforceMaxSamples)

	ec := &EventControl{
		eventID:     cfg.EventID,
		data:        data,
		sub:         sub,
		payload:     payloadBuf,
		payloadSize: cfg.PayloadSize,
	}

	return ec, offset, nil
}

// EventID returns the configured event identifier.
func (e *EventControl) EventID() string {
	return e.eventID
}

// Data returns the event's EventDataControl.
func (e *EventControl) Data() *eventdata.Control {
	return e.data
}

// Sub returns the event's EventSubscriptionControl.
func (e *EventControl) Sub() *subctrl.Control {
	return e.sub
}

// Payload returns the payload bytes for slotIndex in the parallel data
// array, valid for as long as the caller holds a reference to that slot.
func (e *EventControl) Payload(slotIndex int) []byte {
	start := slotIndex * e.payloadSize
	return e.payload[start : start+e.payloadSize]
}

// Size returns the number of region bytes an event configured with cfg
// occupies, for callers computing a region's total size up front (e.g.
// before calling [github.com/score-lola/lola-ipc/pkg/shm.Create]).
func Size(cfg EventConfig) int {
	return cfg.SlotCount*slotstatus.Size + cfg.SlotCount*cfg.PayloadSize
}

// interprocessMutex adapts an [fs.Locker]'s blocking, file-backed lock
// into the non-blocking-signature txlog.Mutex interface
// TransactionLogSet requires, per the rule of "do not rely on
// language-provided mutexes inside shared memory except where an
// explicitly interprocess-safe primitive is used". Lock/Unlock are only
// ever called around TransactionLogSet's low-frequency
// registration/rollback path, never the hot reference-counting path, so
// blocking here is acceptable.
type interprocessMutex struct {
	locker *fs.Locker
	path   string
	held   *fs.Lock
}

// NewInterprocessMutex returns a txlog.Mutex backed by an flock on path,
// acquired through locker. One interprocessMutex must not be shared
// across goroutines expecting independent critical sections: like flock
// itself, it protects the resource across processes, not within one.
func NewInterprocessMutex(locker *fs.Locker, path string) txlog.Mutex {
	return &interprocessMutex{locker: locker, path: path}
}

func (m *interprocessMutex) Lock() {
	lk, err := m.locker.Lock(m.path)
	if err != nil {
		panic(fmt.Sprintf("control: interprocess lock %q: %v", m.path, err))
	}

	m.held = lk
}

func (m *interprocessMutex) Unlock() {
	if m.held == nil {
		return
	}

	if err := m.held.Close(); err != nil {
		panic(fmt.Sprintf("control: interprocess unlock %q: %v", m.path, err))
	}

	m.held = nil
}
