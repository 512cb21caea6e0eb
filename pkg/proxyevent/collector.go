// Package proxyevent implements the proxy-side per-event machinery: the
// SlotCollector that batches new-sample discovery, the SlotDecrementer/
// SamplePtr guard that releases a reference exactly once, and the
// subscription state machine that sequences them.
package proxyevent

import (
	"github.com/score-lola/lola-ipc/pkg/eventdata"
	"github.com/score-lola/lola-ipc/pkg/slotstatus"
)

// SlotCollector batches ReferenceNextEvent calls into up to max_count
// slot indices per call, delivered in ascending timestamp order. Not
// thread-safe: calls on one SlotCollector must be externally serialized,
// matching the single-threaded-per-proxy-event guarantee of the AOU this
// binds to.
type SlotCollector struct {
	control  *eventdata.Control
	lastTS   uint32
	scratch  []int
	logIndex int
}

// NewSlotCollector returns a SlotCollector pre-allocating scratch space
// for maxSlots samples per call.
func NewSlotCollector(control *eventdata.Control, maxSlots int, logIndex int) *SlotCollector {
	return &SlotCollector{
		control:  control,
		scratch:  make([]int, 0, maxSlots),
		logIndex: logIndex,
	}
}

// GetNumNewSamplesAvailable reports how many samples a call to
// GetNewSamplesSlotIndices would currently deliver, absent an
// intervening max_count restriction.
func (c *SlotCollector) GetNumNewSamplesAvailable() int {
	return c.control.GetNumNewEvents(c.lastTS)
}

// GetNewSamplesSlotIndices returns up to maxCount newly available slot
// indices in ascending timestamp order, each already referenced
// (refcount incremented) under logIndex. Advances the collector's
// high-water mark so later calls never redeliver an already-seen
// sample.
func (c *SlotCollector) GetNewSamplesSlotIndices(maxCount int) []int {
	if maxCount > cap(c.scratch) {
		maxCount = cap(c.scratch)
	}

	c.scratch = c.scratch[:0]

	currentHighest := slotstatus.TimestampMax
	highestDelivered := c.lastTS

	for len(c.scratch) < maxCount {
		slot, found := c.control.ReferenceNextEvent(c.lastTS, c.logIndex, currentHighest)
		if !found {
			break
		}

		status := c.control.Get(slot)
		currentHighest = status.Timestamp
		c.scratch = append(c.scratch, slot)

		if status.Timestamp > highestDelivered {
			highestDelivered = status.Timestamp
		}
	}

	c.lastTS = highestDelivered

	// Collected in descending timestamp order (each ReferenceNextEvent
	// call picks the next-highest below the previous pick); reverse in
	// place so callers see ascending order.
	for i, j := 0, len(c.scratch)-1; i < j; i, j = i+1, j-1 {
		c.scratch[i], c.scratch[j] = c.scratch[j], c.scratch[i]
	}

	out := make([]int, len(c.scratch))
	copy(out, c.scratch)

	return out
}
