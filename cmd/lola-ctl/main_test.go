package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/score-lola/lola-ipc/internal/config"
)

func TestToServiceConfig_DefaultsMaxSubscribableSlotsToSlotCount(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		InstanceID: "svc",
		AsilLevel:  "QM",
		Events: []config.EventConfig{
			{EventID: "speed", NumberOfSampleSlots: 8, MaxSubscribers: 2, EnforceMaxSamples: true},
			{EventID: "rpm", NumberOfSampleSlots: 4, MaxSubscribers: 1, MaxSubscribableSlots: 12},
		},
	}

	svc := toServiceConfig(cfg, 32)

	assert.Equal(t, "svc", svc.InstanceID)
	assert.Len(t, svc.Events, 2)
	assert.Equal(t, uint16(8), svc.Events[0].MaxSubscribableSlots)
	assert.Equal(t, 32, svc.Events[0].PayloadSize)
	assert.Equal(t, uint16(12), svc.Events[1].MaxSubscribableSlots)
}
