package control

import (
	"fmt"
	"sort"

	"github.com/score-lola/lola-ipc/pkg/txlog"
)

// ServiceConfig describes one skeleton's service instance: its ASIL
// level and the events/fields it offers, named directly from the
// §6's configuration inputs.
type ServiceConfig struct {
	InstanceID string
	AsilLevel  string
	Events     []EventConfig
}

// ServiceInstance composes every configured event's EventControl over
// one shared-memory region, mirroring the region layout: "for
// each event/field on the service instance: an EventDataControl...a
// parallel data array...one EventSubscriptionControl". It is the
// ServiceDataControl collaborator the rollback executor
// operates over.
type ServiceInstance struct {
	instanceID string
	asilLevel  string
	events     map[string]*EventControl
}

// NewServiceInstance carves one EventControl per cfg.Events entry out of
// buf, in declaration order, each behind its own interprocess mutex
// built from mu (pass a constructor rather than a single shared Mutex,
// since each event's TransactionLogSet must serialize independently of
// its neighbors' registration traffic). mu may be nil to default every
// event to a process-local lock.
func NewServiceInstance(buf []byte, cfg ServiceConfig, mu func(eventID string) txlog.Mutex) (*ServiceInstance, error) {
	si := &ServiceInstance{
		instanceID: cfg.InstanceID,
		asilLevel:  cfg.AsilLevel,
		events:     make(map[string]*EventControl, len(cfg.Events)),
	}

	offset := 0

	for _, ec := range cfg.Events {
		if _, exists := si.events[ec.EventID]; exists {
			return nil, fmt.Errorf("control: duplicate event id %q in service %q", ec.EventID, cfg.InstanceID)
		}

		var lockMu txlog.Mutex
		if mu != nil {
			lockMu = mu(ec.EventID)
		}

		control, next, err := NewEventControl(buf, offset, ec, lockMu)
		if err != nil {
			return nil, err
		}

		si.events[ec.EventID] = control
		offset = next
	}

	return si, nil
}

// InstanceID returns the configured service instance identifier.
func (s *ServiceInstance) InstanceID() string {
	return s.instanceID
}

// AsilLevel returns the configured ASIL level.
func (s *ServiceInstance) AsilLevel() string {
	return s.asilLevel
}

// Event returns the EventControl for eventID, or nil if no such event
// was configured.
func (s *ServiceInstance) Event(eventID string) *EventControl {
	return s.events[eventID]
}

// Events returns every configured EventControl, sorted by event id for
// deterministic iteration (rollback and diagnostics both need a stable
// order).
func (s *ServiceInstance) Events() []*EventControl {
	out := make([]*EventControl, 0, len(s.events))
	for _, ec := range s.events {
		out = append(out, ec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].eventID < out[j].eventID })

	return out
}

// RegionSize returns the number of bytes a service instance configured
// with cfg needs, for sizing the backing shm.Region before mapping it.
func RegionSize(cfg ServiceConfig) int {
	total := 0
	for _, ec := range cfg.Events {
		total += Size(ec)
	}

	return total
}
