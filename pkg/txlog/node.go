package txlog

import "sync/atomic"

// ID identifies the participating process that owns a TransactionLogNode:
// the process-UID shared by all co-resident proxy instances of one
// service, per the glossary's TransactionLogId.
type ID uint64

// Node pairs a Log with the bookkeeping TransactionLogSet needs to
// register, unregister, and roll it back: which participant owns it,
// whether it is currently backing a live subscription, and whether a
// peer crash has marked it for rollback.
type Node struct {
	Log *Log

	active        atomic.Bool
	needsRollback atomic.Bool
	id            atomic.Uint64
}

// initNode populates n in place. It never copies a Node by value: Node
// embeds atomic.Bool/atomic.Uint64, which go vet's copylocks check
// forbids copying once in use.
func initNode(n *Node, slotCount int) {
	n.Log = NewLog(slotCount)
}

// Active reports whether this node currently backs a registered
// subscription (proxy) or the skeleton tracing log.
func (n *Node) Active() bool {
	return n.active.Load()
}

// NeedsRollback reports whether a crash of this node's owning process was
// observed and not yet rolled back.
func (n *Node) NeedsRollback() bool {
	return n.needsRollback.Load()
}

// ID returns the owning participant's identity. Only meaningful while
// Active is true.
func (n *Node) ID() ID {
	return ID(n.id.Load())
}

func (n *Node) activate(id ID) {
	n.id.Store(uint64(id))
	n.needsRollback.Store(false)
	n.active.Store(true)
}

func (n *Node) deactivate() {
	n.active.Store(false)
	n.needsRollback.Store(false)
}
