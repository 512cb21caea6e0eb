// Package rollback ports transaction_log_rollback_executor.cpp: when a
// proxy process connects to a service instance under a transaction log
// id, it registers its pid for that id in the PidTable (notifying the
// provider if a different pid held it), and every transaction log
// registered under that id is marked for rollback and then actually
// rolled back, undoing whatever references and subscriptions a crashed
// predecessor left dangling (rollback Scenario D).
package rollback

import (
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/score-lola/lola-ipc/pkg/control"
	"github.com/score-lola/lola-ipc/pkg/notify"
	"github.com/score-lola/lola-ipc/pkg/txlog"
)

// LivenessChecker reports whether a pid still names a running process.
// Abstracted so tests can fake dead/alive pids without spawning real
// processes; NewGopsutilLivenessChecker is the production implementation.
type LivenessChecker interface {
	PidIsAlive(pid int) bool
}

// gopsutilLivenessChecker backs LivenessChecker with
// github.com/shirou/gopsutil/v3/process, the pack's standard
// cross-platform process-inspection library (see e.g.
// adred-codev-ws_poc/src/server.go's process.NewProcess(os.Getpid())
// usage).
type gopsutilLivenessChecker struct{}

// NewGopsutilLivenessChecker returns the production LivenessChecker.
func NewGopsutilLivenessChecker() LivenessChecker {
	return gopsutilLivenessChecker{}
}

func (gopsutilLivenessChecker) PidIsAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}

	return alive
}

// ExecutorSet is the process-wide synchronisation_data_set from
// GetRollbackData(): it remembers which ServiceInstance rollbacks have
// already been prepared in this process, so a second proxy instance
// attaching to the same service instance under the same uid doesn't
// redundantly mark already-marked transaction logs. It is lazily
// initialized by Global and never torn down.
type ExecutorSet struct {
	mu      sync.Mutex
	primed  map[*control.ServiceInstance]struct{}
}

var (
	globalExecutorSet     *ExecutorSet
	globalExecutorSetOnce sync.Once
)

// Global returns the process-wide ExecutorSet, constructing it on first
// use.
func Global() *ExecutorSet {
	globalExecutorSetOnce.Do(func() {
		globalExecutorSet = &ExecutorSet{primed: make(map[*control.ServiceInstance]struct{})}
	})

	return globalExecutorSet
}

// alreadyPrepared reports whether si has already had PrepareRollback run
// against it in this process, registering it for next time if not.
func (s *ExecutorSet) alreadyPrepared(si *control.ServiceInstance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.primed[si]; ok {
		return true
	}

	s.primed[si] = struct{}{}

	return false
}

// Executor rolls back every transaction log a proxy instance's
// transaction_log_id_ may have left behind, ported directly from
// TransactionLogRollbackExecutor.
type Executor struct {
	service     *control.ServiceInstance
	asilLevel   string
	providerPid int
	logID       txlog.ID

	pids     *PidTable
	channel  *notify.Channel
	executed *ExecutorSet
	live     LivenessChecker

	staleOwnerWasAlive bool
}

// NewExecutor returns an Executor for one proxy instance's connection to
// service under logID. pids is the service instance's shared uid->pid
// map; channel is used to notify the provider when a stale node id is
// discovered. executed defaults to the process-wide Global() set when
// nil, and live defaults to NewGopsutilLivenessChecker().
func NewExecutor(service *control.ServiceInstance, asilLevel string, providerPid int, logID txlog.ID, pids *PidTable, channel *notify.Channel, executed *ExecutorSet, live LivenessChecker) *Executor {
	if executed == nil {
		executed = Global()
	}

	if live == nil {
		live = NewGopsutilLivenessChecker()
	}

	return &Executor{
		service:     service,
		asilLevel:   asilLevel,
		providerPid: providerPid,
		logID:       logID,
		pids:        pids,
		channel:     channel,
		executed:    executed,
		live:        live,
	}
}

// PrepareRollback registers the caller's pid against logID in the
// PidTable, notifies the provider if another pid previously held that
// uid, and then marks every one of the service instance's transaction
// logs registered under logID as needing rollback, whether or not a
// previous pid was registered. Safe to call more than once per process: a second
// call for the same service instance is a no-op, matching
// synchronisation_data_set's "already emplaced" early return.
//
// A previous pid that gopsutil still reports alive means two live
// proxies are racing to claim the same transaction log id, which the
// wire protocol should never allow; PrepareRollback still rolls back in
// that case (safety over blame), but callers can inspect this with
// StaleOwnerWasAlive for diagnostics.
func (e *Executor) PrepareRollback(currentPid int) {
	if e.executed.alreadyPrepared(e.service) {
		return
	}

	previousPid, hadPrevious := e.pids.RegisterPid(e.logID, currentPid)
	if hadPrevious && previousPid != currentPid {
		e.staleOwnerWasAlive = e.live.PidIsAlive(previousPid)

		if e.channel != nil {
			e.channel.NotifyOutdatedNodeId(e.asilLevel, previousPid, e.providerPid)
		}
	}

	for _, ec := range e.service.Events() {
		ec.Data().TransactionLogSet().MarkTransactionLogsNeedRollback(e.logID)
	}
}

// StaleOwnerWasAlive reports whether the pid PrepareRollback displaced
// was still alive according to the LivenessChecker at the moment of
// displacement. Only meaningful after PrepareRollback has run.
func (e *Executor) StaleOwnerWasAlive() bool {
	return e.staleOwnerWasAlive
}

// RollbackTransactionLogs prepares the rollback (see PrepareRollback) and
// then replays every marked transaction log's undo actions: dereferences
// whatever slots it held a reference to, without re-logging the
// dereference, and unsubscribes whatever sample count it had
// subscribed with.
func (e *Executor) RollbackTransactionLogs(currentPid int) error {
	e.PrepareRollback(currentPid)

	for _, ec := range e.service.Events() {
		data := ec.Data()
		sub := ec.Sub()

		err := data.TransactionLogSet().RollbackProxyTransactions(
			e.logID,
			func(slotIndex int) {
				data.DereferenceEventWithoutTransactionLogging(slotIndex)
			},
			func(maxSampleCount uint16) {
				sub.Unsubscribe(maxSampleCount)
			},
		)
		if err != nil {
			return fmt.Errorf("rollback: event %q: %w", ec.EventID(), err)
		}
	}

	return nil
}
