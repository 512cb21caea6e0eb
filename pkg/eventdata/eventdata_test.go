package eventdata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/score-lola/lola-ipc/pkg/eventdata"
	"github.com/score-lola/lola-ipc/pkg/slotstatus"
	"github.com/score-lola/lola-ipc/pkg/txlog"
)

func newControl(t *testing.T, slotCount, maxSubscribers int) *eventdata.Control {
	t.Helper()

	buf := make([]byte, slotCount*slotstatus.Size)

	return eventdata.New(buf, slotCount, maxSubscribers, nil)
}

func TestControl_AllocateNextSlot_WithoutContention(t *testing.T) {
	t.Parallel()

	c := newControl(t, 4, 2)

	idx, ok := c.AllocateNextSlot()
	require.True(t, ok)
	assert.True(t, c.Get(idx).InWriting)
}

func TestControl_AllocateNextSlot_AllSlotsAllocated(t *testing.T) {
	t.Parallel()

	c := newControl(t, 2, 1)

	_, ok := c.AllocateNextSlot()
	require.True(t, ok)
	_, ok = c.AllocateNextSlot()
	require.True(t, ok)

	_, ok = c.AllocateNextSlot()
	assert.False(t, ok)
}

func TestControl_Discard_InWritingSlotBecomesInvalid(t *testing.T) {
	t.Parallel()

	c := newControl(t, 1, 1)

	idx, ok := c.AllocateNextSlot()
	require.True(t, ok)

	c.Discard(idx)
	assert.True(t, c.Get(idx).Invalid)
}

func TestControl_Discard_ReadySlotIsNotTouched(t *testing.T) {
	t.Parallel()

	c := newControl(t, 1, 1)

	idx, ok := c.AllocateNextSlot()
	require.True(t, ok)

	c.EventReady(idx, 42)
	c.Discard(idx)

	status := c.Get(idx)
	assert.False(t, status.Invalid)
	assert.Equal(t, uint32(42), status.Timestamp)
}

func TestControl_AllocateNextSlot_PicksOldestAfterEventReady(t *testing.T) {
	t.Parallel()

	c := newControl(t, 3, 1)

	a, _ := c.AllocateNextSlot()
	c.EventReady(a, 10)

	b, _ := c.AllocateNextSlot()
	c.EventReady(b, 20)

	rem, _ := c.AllocateNextSlot()
	c.EventReady(rem, 30)

	// All three slots now ready; allocating again should reclaim the
	// slot with the oldest (smallest) timestamp, which is a.
	next, ok := c.AllocateNextSlot()
	require.True(t, ok)
	assert.Equal(t, a, next)
}

func TestControl_ReferenceNextEvent_FindsNewestWithinRange(t *testing.T) {
	t.Parallel()

	c := newControl(t, 3, 1)
	set := c.TransactionLogSet()

	idx, err := set.RegisterProxyElement(1)
	require.NoError(t, err)

	a, _ := c.AllocateNextSlot()
	c.EventReady(a, 10)
	b, _ := c.AllocateNextSlot()
	c.EventReady(b, 20)

	slot, found := c.ReferenceNextEvent(0, idx, slotstatus.TimestampMax)
	require.True(t, found)
	assert.Equal(t, b, slot)
	assert.Equal(t, uint16(1), c.Get(slot).RefCount)

	_, found = c.ReferenceNextEvent(20, idx, slotstatus.TimestampMax)
	assert.False(t, found)
}

func TestControl_GetNumNewEvents(t *testing.T) {
	t.Parallel()

	c := newControl(t, 3, 1)

	assert.Equal(t, 0, c.GetNumNewEvents(0))

	a, _ := c.AllocateNextSlot()
	c.EventReady(a, 5)
	b, _ := c.AllocateNextSlot()
	c.EventReady(b, 15)

	assert.Equal(t, 2, c.GetNumNewEvents(0))
	assert.Equal(t, 1, c.GetNumNewEvents(10))
}

func TestControl_ReferenceThenDereference_ReleasesRefCount(t *testing.T) {
	t.Parallel()

	c := newControl(t, 2, 1)
	set := c.TransactionLogSet()

	idx, err := set.RegisterProxyElement(1)
	require.NoError(t, err)

	a, _ := c.AllocateNextSlot()
	c.EventReady(a, 1)

	slot, found := c.ReferenceNextEvent(0, idx, slotstatus.TimestampMax)
	require.True(t, found)
	assert.Equal(t, uint16(1), c.Get(slot).RefCount)

	c.DereferenceEvent(slot, idx)
	assert.Equal(t, uint16(0), c.Get(slot).RefCount)
	assert.Equal(t, txlog.Idle, set.GetTransactionLog(idx).Slot(slot).State())
}

func TestControl_ReferenceSpecificEvent_RejectsInWritingOrInvalid(t *testing.T) {
	t.Parallel()

	c := newControl(t, 2, 1)
	set := c.TransactionLogSet()

	idx, err := set.RegisterProxyElement(1)
	require.NoError(t, err)

	inWriting, _ := c.AllocateNextSlot()
	assert.False(t, c.ReferenceSpecificEvent(inWriting, idx))

	c.Discard(inWriting)
	assert.False(t, c.ReferenceSpecificEvent(inWriting, idx))
}

func TestControl_ReferenceSpecificEvent_Succeeds(t *testing.T) {
	t.Parallel()

	c := newControl(t, 2, 1)
	set := c.TransactionLogSet()

	idx, err := set.RegisterProxyElement(1)
	require.NoError(t, err)

	a, _ := c.AllocateNextSlot()
	c.EventReady(a, 7)

	assert.True(t, c.ReferenceSpecificEvent(a, idx))
	assert.Equal(t, uint16(1), c.Get(a).RefCount)
}

func TestControl_RemoveAllocationsForWriting_InvalidatesInWritingSlots(t *testing.T) {
	t.Parallel()

	c := newControl(t, 3, 1)

	stale, _ := c.AllocateNextSlot()
	ready, _ := c.AllocateNextSlot()
	c.EventReady(ready, 1)

	c.RemoveAllocationsForWriting()

	assert.True(t, c.Get(stale).Invalid)
	assert.False(t, c.Get(ready).Invalid)
}

func TestControl_AllocatedSlotsCanBeCleanedUp(t *testing.T) {
	t.Parallel()

	c := newControl(t, 2, 1)

	idx, ok := c.AllocateNextSlot()
	require.True(t, ok)

	c.Discard(idx)

	// The invalid slot is immediately available for reallocation.
	next, ok := c.AllocateNextSlot()
	require.True(t, ok)
	assert.Equal(t, idx, next)
}
