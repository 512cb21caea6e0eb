package txlog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/score-lola/lola-ipc/pkg/txlog"
)

func TestSlot_LegalTransitions(t *testing.T) {
	t.Parallel()

	var s txlog.Slot
	assert.Equal(t, txlog.Idle, s.State())

	s.BeginReference()
	assert.Equal(t, txlog.RefBegin, s.State())

	s.CommitReference()
	assert.Equal(t, txlog.RefHeld, s.State())

	s.BeginDereference()
	assert.Equal(t, txlog.DerefBegin, s.State())

	s.CommitDereference()
	assert.Equal(t, txlog.Idle, s.State())
}

func TestSlot_AbortReference(t *testing.T) {
	t.Parallel()

	var s txlog.Slot

	s.BeginReference()
	assert.Equal(t, txlog.RefBegin, s.State())

	s.AbortReference()
	assert.Equal(t, txlog.Idle, s.State())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", txlog.Idle.String())
	assert.Equal(t, "ref-begin", txlog.RefBegin.String())
	assert.Equal(t, "ref-held", txlog.RefHeld.String())
	assert.Equal(t, "deref-begin", txlog.DerefBegin.String())
}
