package proxyevent

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/score-lola/lola-ipc/pkg/eventdata"
	"github.com/score-lola/lola-ipc/pkg/notify"
	"github.com/score-lola/lola-ipc/pkg/subctrl"
	"github.com/score-lola/lola-ipc/pkg/txlog"
)

// State is one of the three proxy subscription states. It is a tagged
// enum dispatched by Machine's methods via switch, not a table of
// polymorphic state objects: there is exactly one Machine struct and no
// state holds a back-reference to it.
type State int

const (
	NotSubscribed State = iota
	SubscriptionPending
	Subscribed
)

func (s State) String() string {
	switch s {
	case NotSubscribed:
		return "not-subscribed"
	case SubscriptionPending:
		return "subscription-pending"
	case Subscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// ErrMaxSampleCountNotRealizable is returned when Subscribe is called
// again with a different sample count than the one already in effect.
var ErrMaxSampleCountNotRealizable = errors.New("proxyevent: max sample count not realizable")

// ErrNotSubscribed is returned by sample-delivery calls made outside the
// Subscribed/SubscriptionPending states.
var ErrNotSubscribed = errors.New("proxyevent: not subscribed")

// Machine is the per-event proxy subscription state machine. One mutex
// protects every transition; the hot sample-delivery path
// (GetNewSamplesSlotIndices) also takes it, matching the
// single-threaded-per-event guarantee rather than trying to make this
// path itself wait-free (only EventDataControl/EventSubscriptionControl
// need to be).
type Machine struct {
	mu sync.Mutex

	asilLevel string
	eventID   string
	uid       txlog.ID

	data    *eventdata.Control
	sub     *subctrl.Control
	channel *notify.Channel
	payload func(slotIndex int) []byte

	state          State
	maxSampleCount uint16
	logIndex       int
	collector      *SlotCollector

	providerAvailable bool
	providerPid       int

	handler           notify.Handler
	handlerRegNo      notify.RegistrationNo
	handlerRegistered bool

	liveSamples atomic.Int64
}

// NewMachine constructs a Machine in NotSubscribed for one event. payload
// maps a slot index to its payload bytes in the parallel data array
// (pkg/control owns that array's layout).
func NewMachine(
	data *eventdata.Control,
	sub *subctrl.Control,
	channel *notify.Channel,
	asilLevel, eventID string,
	uid txlog.ID,
	payload func(slotIndex int) []byte,
) *Machine {
	return &Machine{
		data:      data,
		sub:       sub,
		channel:   channel,
		asilLevel: asilLevel,
		eventID:   eventID,
		uid:       uid,
		payload:   payload,
	}
}

// State returns the current subscription state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Subscribe requests delivery of up to maxSampleCount outstanding
// samples. Idempotent when already subscribed with the same count;
// returns ErrMaxSampleCountNotRealizable if a different count is
// requested while already (pending-)subscribed.
func (m *Machine) Subscribe(maxSampleCount uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case NotSubscribed:
		return m.subscribeLocked(maxSampleCount)
	case SubscriptionPending, Subscribed:
		if maxSampleCount == m.maxSampleCount {
			return nil
		}

		return ErrMaxSampleCountNotRealizable
	default:
		return nil
	}
}

func (m *Machine) subscribeLocked(maxSampleCount uint16) error {
	set := m.data.TransactionLogSet()

	idx, err := set.RegisterProxyElement(m.uid)
	if err != nil {
		return err
	}

	log := set.GetTransactionLog(idx)
	log.BeginSubscribe(maxSampleCount)

	result := m.sub.Subscribe(maxSampleCount)
	if result != subctrl.Success {
		log.AbortSubscribe()
		set.Unregister(idx)

		return subscribeError(result)
	}

	log.CommitSubscribe()

	m.logIndex = idx
	m.maxSampleCount = maxSampleCount
	m.collector = NewSlotCollector(m.data, int(maxSampleCount), idx)

	if m.providerAvailable {
		m.state = Subscribed
		m.registerHandlerLocked()
	} else {
		m.state = SubscriptionPending
	}

	return nil
}

func subscribeError(result subctrl.Result) error {
	switch result {
	case subctrl.MaxSubscribersOverflow:
		return txlog.ErrMaxSubscribersExceeded
	case subctrl.SlotOverflow:
		return ErrSlotOverflow
	case subctrl.UpdateRetryFailure:
		return ErrUpdateRetryFailure
	default:
		return nil
	}
}

// ErrSlotOverflow mirrors subctrl.SlotOverflow as a typed error at the
// state-machine boundary.
var ErrSlotOverflow = errors.New("proxyevent: slot overflow")

// ErrUpdateRetryFailure mirrors subctrl.UpdateRetryFailure as a typed
// error at the state-machine boundary.
var ErrUpdateRetryFailure = errors.New("proxyevent: subscription update retry failure")

// Unsubscribe tears down an active or pending subscription. A no-op from
// NotSubscribed. Panics (a detected fatal error, testable property 7) if
// any SamplePtr this machine produced is still open.
func (m *Machine) Unsubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == NotSubscribed {
		return
	}

	m.teardownLocked()
}

func (m *Machine) teardownLocked() {
	if m.liveSamples.Load() != 0 {
		panic("proxyevent: unsubscribe with live SamplePtr still outstanding")
	}

	m.unregisterHandlerLocked()

	set := m.data.TransactionLogSet()
	log := set.GetTransactionLog(m.logIndex)

	log.BeginUnsubscribe()
	m.sub.Unsubscribe(m.maxSampleCount)
	log.CommitUnsubscribe()

	set.Unregister(m.logIndex)

	m.collector = nil
	m.maxSampleCount = 0
	m.state = NotSubscribed
}

// StopOffer signals that the provider is no longer available. A fatal
// protocol violation in SubscriptionPending (the provider cannot
// disappear again before the pending subscription resolved).
func (m *Machine) StopOffer() {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case NotSubscribed:
		m.providerAvailable = false
	case SubscriptionPending:
		panic("proxyevent: StopOffer received while SubscriptionPending")
	case Subscribed:
		m.providerAvailable = false
		m.unregisterHandlerLocked()
		m.state = SubscriptionPending
	}
}

// ReOffer signals that the provider (re-)appeared with providerPid.
func (m *Machine) ReOffer(providerPid int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providerPid = providerPid
	m.providerAvailable = true

	switch m.state {
	case NotSubscribed:
		// nothing further to do
	case SubscriptionPending:
		m.registerHandlerLocked()
		m.state = Subscribed
	case Subscribed:
		// a ReOffer while already Subscribed is unexpected but not
		// fatal; the provider pid is still updated above.
	}
}

// SetReceiveHandler stashes h for later registration, or registers it
// immediately if already Subscribed.
func (m *Machine) SetReceiveHandler(h notify.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler = h

	if m.state == Subscribed {
		m.registerHandlerLocked()
	}
}

// UnsetReceiveHandler clears any stashed or registered handler.
func (m *Machine) UnsetReceiveHandler() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unregisterHandlerLocked()
	m.handler = nil
}

func (m *Machine) registerHandlerLocked() {
	if m.handler == nil || m.handlerRegistered {
		return
	}

	m.handlerRegNo = m.channel.RegisterEventNotification(m.asilLevel, m.eventID, m.handler, m.providerPid)
	m.handlerRegistered = true
}

func (m *Machine) unregisterHandlerLocked() {
	if !m.handlerRegistered {
		return
	}

	_ = m.channel.UnregisterEventNotification(m.asilLevel, m.eventID, m.handlerRegNo, m.providerPid)
	m.handlerRegistered = false
}

// GetNumNewSamplesAvailable delegates to the collector. Returns 0 if not
// currently (pending-)subscribed.
func (m *Machine) GetNumNewSamplesAvailable() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collector == nil {
		return 0
	}

	return m.collector.GetNumNewSamplesAvailable()
}

// GetNewSamplesSlotIndices delivers up to maxCount new samples in
// ascending timestamp order as owning SamplePtrs.
func (m *Machine) GetNewSamplesSlotIndices(maxCount int) ([]*SamplePtr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collector == nil {
		return nil, ErrNotSubscribed
	}

	indices := m.collector.GetNewSamplesSlotIndices(maxCount)
	ptrs := make([]*SamplePtr, len(indices))

	for i, idx := range indices {
		dec := NewSlotDecrementer(m.data, idx, m.logIndex, m.sampleClosed)
		m.liveSamples.Add(1)
		ptrs[i] = NewSamplePtr(dec, m.payload(idx))
	}

	return ptrs, nil
}

func (m *Machine) sampleClosed() {
	m.liveSamples.Add(-1)
}
