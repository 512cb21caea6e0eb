package txlog_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/score-lola/lola-ipc/pkg/txlog"
)

func TestLog_ContainsTransactions(t *testing.T) {
	t.Parallel()

	l := txlog.NewLog(4)
	assert.False(t, l.ContainsTransactions())

	l.Slot(2).BeginReference()
	assert.True(t, l.ContainsTransactions())

	l.Slot(2).CommitReference()
	assert.True(t, l.ContainsTransactions())

	l.Slot(2).BeginDereference()
	l.Slot(2).CommitDereference()
	assert.False(t, l.ContainsTransactions())
}

// TestLog_Rollback_HeldReferencesAreDereferenced models scenario D: a
// crashed proxy held references on two slots via committed (RefHeld)
// transactions. Rollback must dereference both and clear the log.
func TestLog_Rollback_HeldReferencesAreDereferenced(t *testing.T) {
	t.Parallel()

	l := txlog.NewLog(5)
	l.Slot(0).BeginReference()
	l.Slot(0).CommitReference()
	l.Slot(1).BeginReference()
	l.Slot(1).CommitReference()

	l.BeginSubscribe(2)
	l.CommitSubscribe()

	var dereferenced []int

	var unsubscribedCount uint16

	err := l.Rollback(
		func(slot int) { dereferenced = append(dereferenced, slot) },
		func(n uint16) { unsubscribedCount = n },
	)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{0, 1}, dereferenced)
	assert.Equal(t, uint16(2), unsubscribedCount)
	assert.False(t, l.ContainsTransactions())
}

func TestLog_Rollback_MidMutationCrashIsUnrollable(t *testing.T) {
	t.Parallel()

	l := txlog.NewLog(2)
	l.Slot(0).BeginReference() // crash point A: begin logged, CAS never happened/committed

	err := l.Rollback(func(int) {}, func(uint16) {})
	require.Error(t, err)
	assert.True(t, errors.Is(err, txlog.ErrCouldNotRestartProxy))
}

func TestLog_Rollback_IsBestEffortAcrossSlots(t *testing.T) {
	t.Parallel()

	l := txlog.NewLog(3)
	l.Slot(0).BeginReference()
	l.Slot(0).CommitReference() // rollable

	l.Slot(1).BeginReference() // unrollable: crash point A

	var dereferenced []int

	err := l.Rollback(func(slot int) { dereferenced = append(dereferenced, slot) }, func(uint16) {})
	require.Error(t, err)
	assert.Equal(t, []int{0}, dereferenced)
}

func TestLog_Rollback_Idempotent(t *testing.T) {
	t.Parallel()

	l := txlog.NewLog(2)
	l.Slot(0).BeginReference()
	l.Slot(0).CommitReference()

	calls := 0
	deref := func(int) { calls++ }

	require.NoError(t, l.Rollback(deref, func(uint16) {}))
	assert.Equal(t, 1, calls)

	// A log that already rolled back cleanly is Idle everywhere; rolling
	// it back again must not invoke the callback a second time.
	require.NoError(t, l.Rollback(deref, func(uint16) {}))
	assert.Equal(t, 1, calls)
}
