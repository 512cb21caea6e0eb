package txlog_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/score-lola/lola-ipc/pkg/txlog"
)

func TestSet_RegisterProxyElement_RespectsCapacity(t *testing.T) {
	t.Parallel()

	s := txlog.NewSet(2, 4, nil)

	_, err := s.RegisterProxyElement(1)
	require.NoError(t, err)

	_, err = s.RegisterProxyElement(2)
	require.NoError(t, err)

	_, err = s.RegisterProxyElement(3)
	assert.True(t, errors.Is(err, txlog.ErrMaxSubscribersExceeded))
}

func TestSet_Unregister_FreesSlotForReuse(t *testing.T) {
	t.Parallel()

	s := txlog.NewSet(1, 4, nil)

	idx, err := s.RegisterProxyElement(1)
	require.NoError(t, err)

	s.Unregister(idx)

	idx2, err := s.RegisterProxyElement(2)
	require.NoError(t, err)
	assert.Equal(t, idx, idx2)
}

func TestSet_SkeletonRegistration_FatalOnDoubleRegister(t *testing.T) {
	t.Parallel()

	s := txlog.NewSet(1, 4, nil)
	idx := s.RegisterSkeletonTracingElement(99)
	assert.Equal(t, txlog.SkeletonIndex, idx)

	assert.Panics(t, func() { s.RegisterSkeletonTracingElement(100) })
}

// TestSet_RollbackProxyTransactions_ScenarioD models spec Scenario D: a
// crashed proxy (uid P1) held references on two slots and is subscribed
// with max=2; a survivor marks its logs and rolls them back, after which
// the subscriber slot is available again.
func TestSet_RollbackProxyTransactions_ScenarioD(t *testing.T) {
	t.Parallel()

	s := txlog.NewSet(5, 5, nil)

	const p1 txlog.ID = 1

	idx, err := s.RegisterProxyElement(p1)
	require.NoError(t, err)

	log := s.GetTransactionLog(idx)
	log.BeginSubscribe(2)
	log.CommitSubscribe()
	log.Slot(0).BeginReference()
	log.Slot(0).CommitReference()
	log.Slot(1).BeginReference()
	log.Slot(1).CommitReference()

	s.MarkTransactionLogsNeedRollback(p1)

	var dereferenced []int

	var unsubscribed uint16

	err = s.RollbackProxyTransactions(p1,
		func(slot int) { dereferenced = append(dereferenced, slot) },
		func(n uint16) { unsubscribed = n },
	)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1}, dereferenced)
	assert.Equal(t, uint16(2), unsubscribed)
	assert.Equal(t, 0, s.ActiveProxyCount())

	// Fresh subscription from a "P2" process with the same uid succeeds.
	_, err = s.RegisterProxyElement(p1)
	require.NoError(t, err)
}

func TestSet_RollbackProxyTransactions_Idempotent(t *testing.T) {
	t.Parallel()

	s := txlog.NewSet(2, 2, nil)

	const id txlog.ID = 7

	idx, err := s.RegisterProxyElement(id)
	require.NoError(t, err)

	log := s.GetTransactionLog(idx)
	log.Slot(0).BeginReference()
	log.Slot(0).CommitReference()

	s.MarkTransactionLogsNeedRollback(id)

	calls := 0
	deref := func(int) { calls++ }

	require.NoError(t, s.RollbackProxyTransactions(id, deref, func(uint16) {}))
	assert.Equal(t, 1, calls)

	// Calling Mark+Rollback again is a no-op: the node already
	// deactivated, so it is no longer a candidate.
	s.MarkTransactionLogsNeedRollback(id)
	require.NoError(t, s.RollbackProxyTransactions(id, deref, func(uint16) {}))
	assert.Equal(t, 1, calls)
}

func TestSet_ActiveProxyCount_MatchesSubscriberAccounting(t *testing.T) {
	t.Parallel()

	s := txlog.NewSet(3, 2, nil)

	_, err := s.RegisterProxyElement(1)
	require.NoError(t, err)
	_, err = s.RegisterProxyElement(2)
	require.NoError(t, err)

	assert.Equal(t, 2, s.ActiveProxyCount())
}
