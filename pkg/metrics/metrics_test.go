package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/score-lola/lola-ipc/pkg/eventdata"
	"github.com/score-lola/lola-ipc/pkg/metrics"
)

func TestRegistry_CollectsPerEventCounters(t *testing.T) {
	t.Parallel()

	ctrl := eventdata.New(make([]byte, 5*8), 5, 2, nil)

	// Allocate and publish slots 0..4 so the control has taken the
	// allocation path before its counters are collected.
	for i := range 5 {
		_, ok := ctrl.AllocateNextSlot()
		require.True(t, ok)
		ctrl.EventReady(i, uint32(i+1))
	}

	reg := metrics.NewRegistry()
	reg.Register("my-event", ctrl)

	promReg := prometheus.NewPedanticRegistry()
	require.NoError(t, promReg.Register(reg))

	families, err := promReg.Gather()
	require.NoError(t, err)

	names := make(map[string]*dto.MetricFamily)
	for _, f := range families {
		names[f.GetName()] = f
	}

	require.Contains(t, names, "lola_event_alloc_misses_total")
	require.Len(t, names["lola_event_alloc_misses_total"].GetMetric(), 1)
	assertLabel(t, names["lola_event_alloc_misses_total"].GetMetric()[0], "event", "my-event")
}

func assertLabel(t *testing.T, m *dto.Metric, name, value string) {
	t.Helper()

	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			require.Equal(t, value, lp.GetValue())

			return
		}
	}

	t.Fatalf("label %q not found", name)
}
