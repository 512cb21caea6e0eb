// Package metrics exposes EventDataControl's wait-free retry/miss
// counters as Prometheus counters instead of the original
// DumpPerformanceCounters stdout dump, one label set per registered
// event.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/score-lola/lola-ipc/pkg/eventdata"
)

// Registry collects PerformanceCounters from every registered event on
// each Prometheus scrape. It implements prometheus.Collector directly
// rather than pre-declaring gauges per event, since the set of events a
// service instance exposes is only known at composition time.
type Registry struct {
	mu     sync.Mutex
	events map[string]*eventdata.Control

	allocMisses  *prometheus.Desc
	allocRetries *prometheus.Desc
	refMisses    *prometheus.Desc
	refRetries   *prometheus.Desc
}

// NewRegistry returns an empty Registry. Register each event's control
// block before handing the Registry to a prometheus.Registerer.
func NewRegistry() *Registry {
	return &Registry{
		events: make(map[string]*eventdata.Control),
		allocMisses: prometheus.NewDesc(
			"lola_event_alloc_misses_total",
			"Times AllocateNextSlot exhausted its retry budget without claiming a slot.",
			[]string{"event"}, nil,
		),
		allocRetries: prometheus.NewDesc(
			"lola_event_alloc_retries_total",
			"CAS retries taken by AllocateNextSlot.",
			[]string{"event"}, nil,
		),
		refMisses: prometheus.NewDesc(
			"lola_event_ref_misses_total",
			"Times ReferenceNextEvent/ReferenceSpecificEvent failed to acquire a reference.",
			[]string{"event"}, nil,
		),
		refRetries: prometheus.NewDesc(
			"lola_event_ref_retries_total",
			"CAS retries taken by ReferenceNextEvent/ReferenceSpecificEvent.",
			[]string{"event"}, nil,
		),
	}
}

// Register adds control's counters to the registry under eventID.
// Registering the same eventID twice replaces the prior control.
func (r *Registry) Register(eventID string, control *eventdata.Control) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[eventID] = control
}

// Unregister removes eventID from the registry, e.g. when a service
// instance tears an event down.
func (r *Registry) Unregister(eventID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.events, eventID)
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- r.allocMisses
	ch <- r.allocRetries
	ch <- r.refMisses
	ch <- r.refRetries
}

// Collect implements prometheus.Collector, snapshotting every
// registered event's counters.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.mu.Lock()
	snapshot := make(map[string]eventdata.Counters, len(r.events))

	for id, ctrl := range r.events {
		snapshot[id] = ctrl.PerformanceCounters()
	}
	r.mu.Unlock()

	for id, c := range snapshot {
		ch <- prometheus.MustNewConstMetric(r.allocMisses, prometheus.CounterValue, float64(c.NumAllocMisses), id)
		ch <- prometheus.MustNewConstMetric(r.allocRetries, prometheus.CounterValue, float64(c.NumAllocRetries), id)
		ch <- prometheus.MustNewConstMetric(r.refMisses, prometheus.CounterValue, float64(c.NumRefMisses), id)
		ch <- prometheus.MustNewConstMetric(r.refRetries, prometheus.CounterValue, float64(c.NumRefRetries), id)
	}
}
