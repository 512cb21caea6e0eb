// Package eventdata implements EventDataControl: the per-event array of
// packed atomic slot statuses backing a ring of sample slots, plus the
// TransactionLogSet tracking in-flight reference/dereference mutations for
// every subscribed proxy (and the skeleton's own tracing path).
//
// All hot-path operations are wait-free with a bounded CAS retry budget;
// a retry-budget exhaustion signals a misconfigured slot/subscriber count
// rather than a transient fault, and is reported back to the caller
// rather than panicking (the allocate/reference paths run on every
// publish and every read, so they must never crash the process under
// contention).
package eventdata

import (
	"sync/atomic"

	"github.com/score-lola/lola-ipc/pkg/slotstatus"
	"github.com/score-lola/lola-ipc/pkg/txlog"
)

// Retry budgets for the wait-free allocate/reference loops. Exceeding
// either indicates the service is misconfigured: too few slots for the
// number of concurrent writers/readers it actually has.
const (
	maxAllocateRetries  = 100
	maxReferenceRetries = 100
)

// Control is the control-block half of one event: an array of packed
// atomic slot statuses plus the TransactionLogSet recording in-flight
// mutations for crash recovery.
type Control struct {
	slots []slotstatus.Cell
	txSet *txlog.Set

	allocMisses  atomic.Uint64
	allocRetries atomic.Uint64
	refMisses    atomic.Uint64
	refRetries   atomic.Uint64
}

// Counters is a snapshot of the diagnostic performance counters the
// original EventDataControlImpl dumped to stdout
// (DumpPerformanceCounters/ResetPerformanceCounters); here they back
// pkg/metrics's Prometheus counters instead.
type Counters struct {
	NumAllocMisses  uint64
	NumAllocRetries uint64
	NumRefMisses    uint64
	NumRefRetries   uint64
}

// PerformanceCounters returns a snapshot of the retry/miss counters
// accumulated since construction or the last ResetPerformanceCounters.
func (c *Control) PerformanceCounters() Counters {
	return Counters{
		NumAllocMisses:  c.allocMisses.Load(),
		NumAllocRetries: c.allocRetries.Load(),
		NumRefMisses:    c.refMisses.Load(),
		NumRefRetries:   c.refRetries.Load(),
	}
}

// ResetPerformanceCounters zeroes every diagnostic counter.
func (c *Control) ResetPerformanceCounters() {
	c.allocMisses.Store(0)
	c.allocRetries.Store(0)
	c.refMisses.Store(0)
	c.refRetries.Store(0)
}

// New allocates a Control over buf (a byte slice sized for slotCount
// slotstatus cells, typically a window into a shared-memory region),
// backed by a TransactionLogSet sized for maxSubscribers proxies plus one
// skeleton tracing log.
func New(buf []byte, slotCount int, maxSubscribers int, mu txlog.Mutex) *Control {
	slots := make([]slotstatus.Cell, slotCount)
	for i := range slots {
		slots[i] = slotstatus.NewCell(buf, i*slotstatus.Size)
	}

	return &Control{
		slots: slots,
		txSet: txlog.NewSet(maxSubscribers, slotCount, mu),
	}
}

// SlotCount returns the number of data slots this control manages.
func (c *Control) SlotCount() int {
	return len(c.slots)
}

// TransactionLogSet exposes the underlying transaction log set, e.g. for
// registering a new proxy subscription or running rollback.
func (c *Control) TransactionLogSet() *txlog.Set {
	return c.txSet
}

// Get returns the current status of slotIndex without taking a
// reference.
func (c *Control) Get(slotIndex int) slotstatus.Value {
	return c.slots[slotIndex].Load()
}

// AllocateNextSlot finds and claims the oldest unused (or invalid) slot
// for writing, wait-free with bounded CAS retry. ok is false if no free
// slot could be claimed within the retry budget, which means the event
// is misconfigured for its write concurrency.
func (c *Control) AllocateNextSlot() (slotIndex int, ok bool) {
	for i := range maxAllocateRetries + 1 {
		if i > 0 {
			c.allocRetries.Add(1)
		}

		candidate, found := c.findOldestUnusedSlot()
		if !found {
			continue
		}

		cell := c.slots[candidate]
		current := cell.Load()

		if current.RefCount != 0 || current.InWriting {
			continue
		}

		if cell.CompareAndSwap(current, slotstatus.InWritingValue()) {
			return candidate, true
		}
	}

	c.allocMisses.Add(1)

	return 0, false
}

func (c *Control) findOldestUnusedSlot() (slotIndex int, found bool) {
	oldest := slotstatus.TimestampMax
	selected := -1

	for i, cell := range c.slots {
		status := cell.Load()

		if status.Invalid {
			return i, true
		}

		if status.RefCount == 0 && !status.InWriting && status.Timestamp < oldest {
			oldest = status.Timestamp
			selected = i
		}
	}

	if selected < 0 {
		return 0, false
	}

	return selected, true
}

// EventReady publishes slotIndex with timestamp and a zero refcount. Only
// ever called by the single skeleton-side writer owning slotIndex, so no
// CAS is needed.
func (c *Control) EventReady(slotIndex int, timestamp uint32) {
	c.slots[slotIndex].Store(slotstatus.ReadyValue(timestamp))
}

// Discard marks slotIndex invalid if it is still InWriting (the writer
// abandoned the slot without publishing). A slot that has already been
// published is left alone: a reader may already hold a SamplePtr into it.
func (c *Control) Discard(slotIndex int) {
	cell := c.slots[slotIndex]
	if cell.Load().InWriting {
		cell.Store(slotstatus.InvalidValue())
	}
}

// ReferenceSpecificEvent increments slotIndex's refcount if it is
// readable (neither InWriting nor Invalid), recording the attempt in the
// given transaction log. Unlike ReferenceNextEvent it targets one known
// slot, e.g. one the skeleton itself just published, independent of the
// normal consumer path.
func (c *Control) ReferenceSpecificEvent(slotIndex int, logIndex int) bool {
	log := c.txSet.GetTransactionLog(logIndex)
	cell := c.slots[slotIndex]
	txSlot := log.Slot(slotIndex)

	for i := range maxReferenceRetries {
		if i > 0 {
			c.refRetries.Add(1)
		}

		current := cell.Load()

		if current.InWriting || current.Invalid {
			c.refMisses.Add(1)

			return false
		}

		if current.RefCount == slotstatus.MaxRefCount {
			c.refMisses.Add(1)

			return false
		}

		newValue := current
		newValue.RefCount++

		txSlot.BeginReference()

		if cell.CompareAndSwap(current, newValue) {
			txSlot.CommitReference()

			return true
		}

		txSlot.AbortReference()
	}

	c.refMisses.Add(1)

	return false
}

// ReferenceNextEvent scans for the slot with the newest timestamp
// strictly greater than lastSearchTime and strictly less than upperLimit,
// and increments its refcount, wait-free with bounded CAS retry. found is
// false if no such slot exists.
//
// upperLimit is exclusive so that a caller tightening it to the
// timestamp of a slot it just acquired (SlotCollector's descending scan)
// excludes that slot from the next call instead of re-selecting it.
func (c *Control) ReferenceNextEvent(lastSearchTime uint32, logIndex int, upperLimit uint32) (slotIndex int, found bool) {
	log := c.txSet.GetTransactionLog(logIndex)

	for i := range maxReferenceRetries {
		if i > 0 {
			c.refRetries.Add(1)
		}

		bestTime := lastSearchTime
		bestIndex := -1

		var bestStatus slotstatus.Value

		for slotIdx, cell := range c.slots {
			status := cell.Load()
			if status.Timestamp > bestTime && status.Timestamp < upperLimit {
				bestTime = status.Timestamp
				bestIndex = slotIdx
				bestStatus = status
			}
		}

		if bestIndex < 0 {
			c.refMisses.Add(1)

			return 0, false
		}

		if bestStatus.RefCount == slotstatus.MaxRefCount {
			c.refMisses.Add(1)

			return 0, false
		}

		newStatus := bestStatus
		newStatus.RefCount++

		txSlot := log.Slot(bestIndex)
		txSlot.BeginReference()

		if c.slots[bestIndex].CompareAndSwap(bestStatus, newStatus) {
			txSlot.CommitReference()

			return bestIndex, true
		}

		txSlot.AbortReference()
	}

	c.refMisses.Add(1)

	return 0, false
}

// GetNumNewEvents counts slots whose timestamp is strictly greater than
// referenceTime.
func (c *Control) GetNumNewEvents(referenceTime uint32) int {
	count := 0

	for _, cell := range c.slots {
		status := cell.Load()
		if status.Timestamp > referenceTime && status.Timestamp <= slotstatus.TimestampMax {
			count++
		}
	}

	return count
}

// DereferenceEvent releases a reference taken via ReferenceNextEvent or
// ReferenceSpecificEvent, recording the dereference in the given
// transaction log.
func (c *Control) DereferenceEvent(slotIndex int, logIndex int) {
	log := c.txSet.GetTransactionLog(logIndex)
	txSlot := log.Slot(slotIndex)

	txSlot.BeginDereference()
	c.DereferenceEventWithoutTransactionLogging(slotIndex)
	txSlot.CommitDereference()
}

// DereferenceEventWithoutTransactionLogging decrements slotIndex's
// refcount without recording a transaction log entry. Used by the
// rollback path, which logs the dereference itself around the callback.
func (c *Control) DereferenceEventWithoutTransactionLogging(slotIndex int) {
	cell := c.slots[slotIndex]

	for {
		current := cell.Load()
		newValue := current
		newValue.RefCount--

		if cell.CompareAndSwap(current, newValue) {
			return
		}
	}
}

// RemoveAllocationsForWriting marks every InWriting slot Invalid. Called
// only by a surviving skeleton process after detecting that a prior
// skeleton instance died mid-write; any other outcome is a fatal
// contract violation, since no other process is ever allowed to touch a
// slot being written.
func (c *Control) RemoveAllocationsForWriting() {
	for _, cell := range c.slots {
		current := cell.Load()
		if !current.InWriting {
			continue
		}

		if !cell.CompareAndSwap(current, slotstatus.InvalidValue()) {
			panic("eventdata: concurrent mutation of InWriting slot during RemoveAllocationsForWriting")
		}
	}
}
