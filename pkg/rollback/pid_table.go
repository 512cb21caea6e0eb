package rollback

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"

	"github.com/score-lola/lola-ipc/pkg/fs"
	"github.com/score-lola/lola-ipc/pkg/txlog"
)

// PidTable is the uid_pid_mapping_ collaborator from
// transaction_log_rollback_executor.cpp: it remembers, per transaction
// log id (one per connected proxy instance), the pid that most recently
// registered itself as the live owner of that uid. RegisterPid both
// installs the caller's pid and reports whatever pid it replaces, so a
// rollback executor can tell a stale, crashed node apart from its own
// prior registration.
//
// A real deployment backs this with a memory-mapped region shared by
// every proxy process; this Go port keeps the table process-local
// (a process-wide, not OS-wide, concession) and persists it to
// snapshotPath through [fs.AtomicWriter] so a restarted process recovers
// the mapping a crashed peer left behind, and a crash mid-snapshot never
// leaves a torn pid table for the next process to misread.
type PidTable struct {
	mu           sync.Mutex
	pids         map[txlog.ID]int
	snapshotPath string
	writer       *fs.AtomicWriter
}

// NewPidTable returns an empty PidTable. snapshotPath may be empty, in
// which case the table is purely in-memory: Load does nothing and
// RegisterPid writes no snapshot.
func NewPidTable(snapshotPath string) *PidTable {
	return &PidTable{
		pids:         make(map[txlog.ID]int),
		snapshotPath: snapshotPath,
		writer:       fs.NewAtomicWriter(fs.NewReal()),
	}
}

// Load replaces the table's contents with whatever was last persisted at
// snapshotPath. A missing file is not an error: it means no prior
// process ever persisted a snapshot.
func (t *PidTable) Load() error {
	if t.snapshotPath == "" {
		return nil
	}

	data, err := readFileIfExists(t.snapshotPath)
	if err != nil {
		return err
	}

	if data == nil {
		return nil
	}

	decoded := make(map[txlog.ID]int)
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	t.mu.Lock()
	t.pids = decoded
	t.mu.Unlock()

	return nil
}

// RegisterPid records pid as the current owner of id, returning whatever
// pid was previously registered for id (0 if none). Mirrors
// uid_pid_mapping_.RegisterPid's "register and report the displaced
// value" contract in one atomic step.
func (t *PidTable) RegisterPid(id txlog.ID, pid int) (previous int, hadPrevious bool) {
	t.mu.Lock()
	previous, hadPrevious = t.pids[id]
	t.pids[id] = pid
	snapshot := t.cloneLocked()
	t.mu.Unlock()

	if t.snapshotPath != "" {
		_ = t.persist(snapshot)
	}

	return previous, hadPrevious
}

// Lookup returns the pid currently registered for id, if any.
func (t *PidTable) Lookup(id txlog.ID) (pid int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pid, ok = t.pids[id]

	return pid, ok
}

func (t *PidTable) cloneLocked() map[txlog.ID]int {
	clone := make(map[txlog.ID]int, len(t.pids))
	for k, v := range t.pids {
		clone[k] = v
	}

	return clone
}

func (t *PidTable) persist(pids map[txlog.ID]int) error {
	data, err := json.Marshal(pids)
	if err != nil {
		return err
	}

	return t.writer.WriteWithDefaults(t.snapshotPath, bytes.NewReader(data))
}

func readFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	return data, nil
}
