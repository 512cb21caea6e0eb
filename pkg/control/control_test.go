package control_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/score-lola/lola-ipc/pkg/control"
)

func eventConfig(id string) control.EventConfig {
	return control.EventConfig{
		EventID:              id,
		SlotCount:            5,
		MaxSubscribers:       3,
		MaxSubscribableSlots: 10,
		EnforceMaxSamples:    true,
		PayloadSize:          16,
	}
}

func TestNewEventControl_LaysOutStatusThenPayload(t *testing.T) {
	t.Parallel()

	cfg := eventConfig("speed")
	buf := make([]byte, control.Size(cfg))

	ec, next, err := control.NewEventControl(buf, 0, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, len(buf), next)
	assert.Equal(t, "speed", ec.EventID())
	assert.Equal(t, 5, ec.Data().SlotCount())

	slot, ok := ec.Data().AllocateNextSlot()
	require.True(t, ok)
	copy(ec.Payload(slot), []byte("hello"))
	ec.Data().EventReady(slot, 1)

	assert.Equal(t, byte('h'), ec.Payload(slot)[0])
}

func TestNewEventControl_RejectsUndersizedBuffer(t *testing.T) {
	t.Parallel()

	cfg := eventConfig("speed")
	buf := make([]byte, control.Size(cfg)-1)

	_, _, err := control.NewEventControl(buf, 0, cfg, nil)
	require.Error(t, err)
}

func TestNewServiceInstance_MultipleEventsShareOneRegion(t *testing.T) {
	t.Parallel()

	cfg := control.ServiceConfig{
		InstanceID: "svc-1",
		AsilLevel:  "QM",
		Events:     []control.EventConfig{eventConfig("speed"), eventConfig("rpm")},
	}

	buf := make([]byte, control.RegionSize(cfg))

	si, err := control.NewServiceInstance(buf, cfg, nil)
	require.NoError(t, err)

	assert.NotNil(t, si.Event("speed"))
	assert.NotNil(t, si.Event("rpm"))
	assert.Nil(t, si.Event("nope"))
	assert.Len(t, si.Events(), 2)
	assert.Equal(t, []string{"rpm", "speed"}, eventIDs(si))
}

func eventIDs(si *control.ServiceInstance) []string {
	ids := make([]string, 0, len(si.Events()))
	for _, ec := range si.Events() {
		ids = append(ids, ec.EventID())
	}

	return ids
}

func TestNewServiceInstance_RejectsDuplicateEventID(t *testing.T) {
	t.Parallel()

	cfg := control.ServiceConfig{
		InstanceID: "svc-1",
		Events:     []control.EventConfig{eventConfig("speed"), eventConfig("speed")},
	}

	buf := make([]byte, control.RegionSize(cfg))

	_, err := control.NewServiceInstance(buf, cfg, nil)
	require.Error(t, err)
}
