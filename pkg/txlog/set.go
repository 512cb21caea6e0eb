package txlog

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// SkeletonIndex is the reserved GetTransactionLog index of the skeleton
// tracing log (kSkeletonIndexSentinel in the original). Proxy capacity must
// always be strictly less than this, so it can never collide with a real
// proxy index.
const SkeletonIndex = math.MaxInt

// ErrMaxSubscribersExceeded is returned by RegisterProxyElement when every
// proxy slot in the set is already active.
var ErrMaxSubscribersExceeded = errors.New("txlog: max subscribers exceeded")

// ErrSkeletonAlreadyRegistered is a fatal contract violation: a service
// instance must register its skeleton tracing log at most once.
var ErrSkeletonAlreadyRegistered = errors.New("txlog: skeleton tracing log already registered")

// Mutex is the synchronization primitive guarding Set's
// registration/unregistration/rollback path. Implementations must be
// interprocess-safe when Set is placed in shared memory (e.g. a
// flock-backed lock from pkg/fs); a plain sync.Mutex is only correct when
// every user of the Set lives in this process.
type Mutex interface {
	Lock()
	Unlock()
}

// Set holds one Log per active proxy subscription plus one distinguished
// skeleton-tracing Log, sized at construction to the service's configured
// max_subscribers.
//
// Registration, unregistration, and rollback are mutex-protected; they are
// infrequent proxy-lifecycle events. GetTransactionLog is lock-free and
// safe to call concurrently with all of the above because a node's
// identity and Log pointer are stable for as long as it is Active (see
// the subscription state machine, which holds a registration guard for
// exactly that lifetime).
type Set struct {
	mu Mutex

	nodes    []Node
	skeleton Node
}

// NewSet allocates a Set with proxyCapacity proxy-log slots (the
// service's max_subscribers) plus one skeleton-tracing log, each sized to
// track slotCount data slots. If mu is nil, a process-local sync.Mutex is
// used.
func NewSet(proxyCapacity, slotCount int, mu Mutex) *Set {
	if proxyCapacity < 0 {
		panic("txlog: proxyCapacity must be >= 0")
	}

	if mu == nil {
		mu = &sync.Mutex{}
	}

	s := &Set{
		mu:    mu,
		nodes: make([]Node, proxyCapacity),
	}

	for i := range s.nodes {
		initNode(&s.nodes[i], slotCount)
	}

	initNode(&s.skeleton, slotCount)

	return s
}

// RegisterProxyElement activates the first inactive proxy node, assigns
// it to id, and returns its index for later GetTransactionLog calls.
func (s *Set) RegisterProxyElement(id ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.nodes {
		if s.nodes[i].Active() {
			continue
		}

		if s.nodes[i].Log.ContainsTransactions() {
			panic(fmt.Sprintf("txlog: node %d has residual transactions at registration", i))
		}

		s.nodes[i].activate(id)

		return i, nil
	}

	return 0, ErrMaxSubscribersExceeded
}

// RegisterSkeletonTracingElement activates the distinguished skeleton
// tracing log. It is fatal to call this twice without an intervening
// Unregister.
func (s *Set) RegisterSkeletonTracingElement(id ID) int {
	if s.skeleton.Active() {
		panic(ErrSkeletonAlreadyRegistered)
	}

	s.skeleton.activate(id)

	return SkeletonIndex
}

// Unregister clears the node at index, making it available for reuse.
// The skeleton path bypasses the set's mutex: there is exactly one
// skeleton per service instance and only its owning process ever touches
// it, so no concurrent registration churn is possible there.
func (s *Set) Unregister(index int) {
	if index == SkeletonIndex {
		s.skeleton.deactivate()

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[index].deactivate()
}

// GetTransactionLog returns the Log at index. Lock-free: safe to call
// concurrently with Register*/Unregister/Rollback* as long as index
// identifies a node the caller currently holds a registration for.
func (s *Set) GetTransactionLog(index int) *Log {
	if index == SkeletonIndex {
		return s.skeleton.Log
	}

	return s.nodes[index].Log
}

// MarkTransactionLogsNeedRollback sets the needs-rollback flag on every
// active proxy node owned by id. Safe to call repeatedly for the same id;
// RollbackProxyTransactions consumes (and clears) the flag exactly once
// per node.
func (s *Set) MarkTransactionLogsNeedRollback(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.nodes {
		if s.nodes[i].Active() && s.nodes[i].ID() == id {
			s.nodes[i].needsRollback.Store(true)
		}
	}
}

// RollbackProxyTransactions rolls back every active, needs-rollback node
// owned by id. A node that rolls back cleanly is deactivated and made
// available for reuse. The needs-rollback flag is cleared on every node
// visited regardless of outcome, so a second call with the same id is a
// no-op (rollback idempotence). If any node fails to roll back cleanly,
// the last such error is returned after all nodes have been visited.
func (s *Set) RollbackProxyTransactions(id ID, deref DereferenceCallback, unsub UnsubscribeCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error

	for i := range s.nodes {
		if !s.nodes[i].Active() || s.nodes[i].ID() != id || !s.nodes[i].NeedsRollback() {
			continue
		}

		err := s.nodes[i].Log.Rollback(deref, unsub)
		s.nodes[i].needsRollback.Store(false)

		if err != nil {
			lastErr = err

			continue
		}

		s.nodes[i].deactivate()
	}

	return lastErr
}

// RollbackSkeletonTracingTransactions rolls back the skeleton tracing
// log, if it is marked for rollback. Bypasses the set's mutex for the
// same single-owner reason as Unregister's skeleton path.
func (s *Set) RollbackSkeletonTracingTransactions(deref DereferenceCallback) error {
	if !s.skeleton.Active() || !s.skeleton.NeedsRollback() {
		return nil
	}

	err := s.skeleton.Log.Rollback(deref, func(uint16) {})
	s.skeleton.needsRollback.Store(false)

	if err != nil {
		return err
	}

	s.skeleton.deactivate()

	return nil
}

// MarkSkeletonTracingNeedsRollback sets the needs-rollback flag on the
// skeleton tracing log, mirroring MarkTransactionLogsNeedRollback for the
// single skeleton node.
func (s *Set) MarkSkeletonTracingNeedsRollback() {
	s.skeleton.needsRollback.Store(true)
}

// ProxyCapacity returns the number of proxy-log slots (the service's
// configured max_subscribers).
func (s *Set) ProxyCapacity() int {
	return len(s.nodes)
}

// ActiveProxyCount returns the number of currently-active proxy nodes,
// used to cross-check EventSubscriptionControl's subscriber_count
// (testable property 6).
func (s *Set) ActiveProxyCount() int {
	count := 0

	for i := range s.nodes {
		if s.nodes[i].Active() {
			count++
		}
	}

	return count
}
