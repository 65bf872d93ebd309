// Package mvcc implements the optional multi-version concurrency layer
// described in spec.md §4.8: a transaction manager handing out
// snapshot/commit timestamps, append-only version chains per entity kind,
// and a first-committer-wins conflict validator.
package mvcc

import (
	"sync"

	"github.com/bobboyms/storage-engine/pkg/model"
)

// TxManager allocates txids and logical timestamps, and tracks which
// transactions are active so readers can exclude their writes even if a
// later commit_ts would otherwise make them visible.
type TxManager struct {
	mu       sync.Mutex
	nextTxId uint64
	clock    uint64
	active   map[model.TxId]uint64 // txid -> snapshot_ts
}

// NewTxManager returns a TxManager with no active transactions.
func NewTxManager() *TxManager {
	return &TxManager{active: make(map[model.TxId]uint64)}
}

// Begin allocates a txid and a monotonic snapshot_ts, registers the
// transaction as active, and returns the set of txids that were already
// active at this instant — the reader's "active-at-begin" exclusion set.
func (m *TxManager) Begin() (txid model.TxId, snapshotTs uint64, activeAtBegin map[model.TxId]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextTxId++
	txid = model.TxId(m.nextTxId)
	m.clock++
	snapshotTs = m.clock

	activeAtBegin = make(map[model.TxId]struct{}, len(m.active))
	for id := range m.active {
		activeAtBegin[id] = struct{}{}
	}
	m.active[txid] = snapshotTs
	return txid, snapshotTs, activeAtBegin
}

// Abort removes txid from the active set without assigning a commit_ts.
func (m *TxManager) Abort(txid model.TxId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, txid)
}

// Commit atomically assigns a commit_ts greater than every timestamp
// handed out so far (snapshot_ts or commit_ts) and removes txid from the
// active set.
func (m *TxManager) Commit(txid model.TxId) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock++
	commitTs := m.clock
	delete(m.active, txid)
	return commitTs
}

// ActiveSnapshotTs returns txid's registered snapshot_ts, if still active.
func (m *TxManager) ActiveSnapshotTs(txid model.TxId) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.active[txid]
	return ts, ok
}

// ActiveCount reports how many transactions are currently active; used to
// decide whether a commit needs to append version-chain entries at all
// (spec.md §4.9 step 8: only when readers were active at commit time).
func (m *TxManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// RestoreCounters seeds the txid and clock counters after WAL replay, so
// the next Begin continues from where the previous session left off
// instead of colliding with already-committed txids/timestamps. Intended
// to be called once, immediately after NewTxManager, before any Begin.
func (m *TxManager) RestoreCounters(nextTxId, clock uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if nextTxId > m.nextTxId+1 {
		m.nextTxId = nextTxId - 1
	}
	if clock > m.clock {
		m.clock = clock
	}
}
