// Package schema implements the atomic ID allocators and bidirectional
// name/id tables described in spec.md §4.6: every label, edge type and
// property key is append-only and globally unique once bound.
package schema

import (
	"sync"
	"sync/atomic"

	"github.com/bobboyms/storage-engine/pkg/model"
)

// Allocators hands out monotonically increasing IDs for every ID kind the
// engine uses. Never reused, even across deletes, matching spec invariant
// I5 and the WAL-replay rule that ceilings only move forward.
type Allocators struct {
	nextNode   atomic.Uint64
	nextLabel  atomic.Uint32
	nextEtype  atomic.Uint32
	nextPropkey atomic.Uint32
	nextTx     atomic.Uint64
}

// NextNodeId allocates and returns the next NodeId.
func (a *Allocators) NextNodeId() model.NodeId {
	return model.NodeId(a.nextNode.Add(1))
}

// NextLabelId allocates and returns the next LabelId.
func (a *Allocators) NextLabelId() model.LabelId {
	return model.LabelId(a.nextLabel.Add(1))
}

// NextEtypeId allocates and returns the next EtypeId.
func (a *Allocators) NextEtypeId() model.EtypeId {
	return model.EtypeId(a.nextEtype.Add(1))
}

// NextPropKeyId allocates and returns the next PropKeyId.
func (a *Allocators) NextPropKeyId() model.PropKeyId {
	return model.PropKeyId(a.nextPropkey.Add(1))
}

// NextTxId allocates and returns the next TxId.
func (a *Allocators) NextTxId() model.TxId {
	return model.TxId(a.nextTx.Add(1))
}

// BumpNodeCeiling raises the node allocator so the next allocation is
// strictly greater than id; used during WAL replay to restore allocator
// state ("updating allocator ceilings to max(existing, id+1)").
func (a *Allocators) BumpNodeCeiling(id model.NodeId) {
	bumpUint64(&a.nextNode, uint64(id))
}

func (a *Allocators) BumpLabelCeiling(id model.LabelId)     { bumpUint32(&a.nextLabel, uint32(id)) }
func (a *Allocators) BumpEtypeCeiling(id model.EtypeId)     { bumpUint32(&a.nextEtype, uint32(id)) }
func (a *Allocators) BumpPropKeyCeiling(id model.PropKeyId) { bumpUint32(&a.nextPropkey, uint32(id)) }
func (a *Allocators) BumpTxCeiling(id model.TxId)           { bumpUint64(&a.nextTx, uint64(id)) }

func bumpUint64(counter *atomic.Uint64, floor uint64) {
	for {
		cur := counter.Load()
		if cur >= floor {
			return
		}
		if counter.CompareAndSwap(cur, floor) {
			return
		}
	}
}

func bumpUint32(counter *atomic.Uint32, floor uint32) {
	for {
		cur := counter.Load()
		if cur >= floor {
			return
		}
		if counter.CompareAndSwap(cur, floor) {
			return
		}
	}
}

// MaxNodeId returns the highest NodeId allocated so far (for header
// persistence).
func (a *Allocators) MaxNodeId() model.NodeId { return model.NodeId(a.nextNode.Load()) }

// NextTxCeiling returns the next TxId that would be handed out (for header
// persistence of next_tx_id).
func (a *Allocators) NextTxCeiling() model.TxId { return model.TxId(a.nextTx.Load() + 1) }

// NameTable is a bidirectional name<->id map for one schema kind (labels,
// edge types, or property keys), guarded by a read/write lock with the
// double-checked-lock pattern spec.md §4.6 requires for GetOrCreate.
type NameTable[ID comparable] struct {
	mu      sync.RWMutex
	byName  map[string]ID
	byId    map[ID]string
}

// NewNameTable returns an empty table.
func NewNameTable[ID comparable]() *NameTable[ID] {
	return &NameTable[ID]{
		byName: make(map[string]ID),
		byId:   make(map[ID]string),
	}
}

// Lookup returns the id bound to name, if any.
func (t *NameTable[ID]) Lookup(name string) (ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byName[name]
	return id, ok
}

// Name returns the name bound to id, if any.
func (t *NameTable[ID]) Name(id ID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.byId[id]
	return name, ok
}

// GetOrCreate resolves name to an existing id, or calls alloc to mint one
// and binds it. Race-safe: a second double-check after acquiring the write
// lock means a concurrent winner's ID is returned rather than burning a
// fresh one that would never be used.
func (t *NameTable[ID]) GetOrCreate(name string, alloc func() ID) (id ID, created bool) {
	t.mu.RLock()
	if id, ok := t.byName[name]; ok {
		t.mu.RUnlock()
		return id, false
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byName[name]; ok {
		return id, false
	}
	newId := alloc()
	t.byName[name] = newId
	t.byId[newId] = name
	return newId, true
}

// Bind registers an already-allocated (id, name) pair, used when restoring
// schema from a snapshot or replaying a Define* WAL record. An id once
// bound cannot be rebound (I5): a second Bind for the same id with a
// different name is a caller bug and panics rather than silently
// corrupting the table. Binding an already-bound name to a different id
// is not checked; the name then resolves to the new id.
func (t *NameTable[ID]) Bind(id ID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.byId[id]; ok && existing != name {
		panic("schema: attempted to rebind id " + name + " != " + existing)
	}
	t.byId[id] = name
	t.byName[name] = id
}

// Len returns the number of bound entries.
func (t *NameTable[ID]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byId)
}

// All returns a copy of every (id, name) binding, used by the checkpoint
// writer to serialize the table into a snapshot's name section.
func (t *NameTable[ID]) All() map[ID]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[ID]string, len(t.byId))
	for id, name := range t.byId {
		out[id] = name
	}
	return out
}

// Schema bundles the three NameTables the engine needs.
type Schema struct {
	Labels   *NameTable[model.LabelId]
	Etypes   *NameTable[model.EtypeId]
	Propkeys *NameTable[model.PropKeyId]
}

// New returns an empty Schema.
func New() *Schema {
	return &Schema{
		Labels:   NewNameTable[model.LabelId](),
		Etypes:   NewNameTable[model.EtypeId](),
		Propkeys: NewNameTable[model.PropKeyId](),
	}
}
