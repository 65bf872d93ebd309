package raydb

import (
	"github.com/bobboyms/storage-engine/pkg/delta"
	"github.com/bobboyms/storage-engine/pkg/model"
	"github.com/bobboyms/storage-engine/pkg/mvcc"
	"github.com/bobboyms/storage-engine/pkg/rerrors"
	"github.com/bobboyms/storage-engine/pkg/vectorstore"
	"github.com/bobboyms/storage-engine/pkg/walbuf"
)

// Tx is one transaction, read-only or read-write. Write transactions hold
// the database's single current_tx slot (spec.md §5) for their lifetime.
type Tx struct {
	db            *DB
	txid          model.TxId
	readOnly      bool
	snapshotTs    uint64
	activeAtBegin map[model.TxId]struct{}
	gen           uint32

	preDelta *delta.Overlay
	writeSet *mvcc.WriteSet
	closed   bool
}

// Begin starts a transaction. A write transaction (readOnly=false) fails
// with *rerrors.TransactionInProgressError if another write transaction is
// already open, and with *rerrors.ReadOnlyError if the database itself was
// opened read-only.
func (db *DB) Begin(readOnly bool) (*Tx, error) {
	if !readOnly && db.opts.ReadOnly {
		return nil, &rerrors.ReadOnlyError{}
	}

	if !readOnly {
		db.txMu.Lock()
		if db.currentTx != nil {
			db.txMu.Unlock()
			return nil, &rerrors.TransactionInProgressError{}
		}
	}

	txid, snapshotTs, active := db.txManager.Begin()
	db.headerMu.Lock()
	gen := db.header.ActiveSnapshotGen
	if db.pendingGen != 0 {
		gen = db.pendingGen
	}
	db.headerMu.Unlock()
	tx := &Tx{
		db:            db,
		txid:          txid,
		readOnly:      readOnly,
		snapshotTs:    snapshotTs,
		activeAtBegin: active,
		gen:           gen,
	}

	if !readOnly {
		db.deltaMu.RLock()
		tx.preDelta = db.delta.Clone()
		db.deltaMu.RUnlock()
		tx.writeSet = mvcc.NewWriteSet()
		db.currentTx = tx
		db.txMu.Unlock()

		if err := tx.appendWal(walbuf.Begin, nil); err != nil {
			db.txMu.Lock()
			db.currentTx = nil
			db.txMu.Unlock()
			db.txManager.Abort(txid)
			return nil, err
		}
	}

	return tx, nil
}

func (tx *Tx) appendWal(t walbuf.RecordType, payload []byte) error {
	return tx.db.wal.WriteRecord(walbuf.Record{Type: t, TxId: uint64(tx.txid), Gen: tx.gen, Payload: payload})
}

func (tx *Tx) requireWritable() error {
	if tx.closed {
		return &rerrors.NoTransactionError{}
	}
	if tx.readOnly {
		return &rerrors.ReadOnlyError{}
	}
	return nil
}

// CreateNode allocates a NodeId, stages it in the delta and logs it to
// the WAL.
func (tx *Tx) CreateNode(key *string) (model.NodeId, error) {
	if err := tx.requireWritable(); err != nil {
		return 0, err
	}
	id := tx.db.allocators.NextNodeId()

	tx.db.deltaMu.Lock()
	tx.db.delta.CreateNode(id, key)
	tx.db.deltaMu.Unlock()

	if err := tx.appendWal(walbuf.CreateNode, encodeCreateNode(id, key)); err != nil {
		return 0, err
	}
	tx.writeSet.TouchNode(id, true)
	return id, nil
}

// DeleteNode stages n's deletion.
func (tx *Tx) DeleteNode(n model.NodeId) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	tx.db.deltaMu.Lock()
	tx.db.delta.DeleteNode(n)
	tx.db.deltaMu.Unlock()

	if err := tx.appendWal(walbuf.DeleteNode, encodeNodeId(n)); err != nil {
		return err
	}
	tx.writeSet.TouchNode(n, false)
	return nil
}

// SetNodeProp stages k=v on node n.
func (tx *Tx) SetNodeProp(n model.NodeId, k model.PropKeyId, v model.PropValue) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	tx.db.deltaMu.Lock()
	tx.db.delta.SetNodeProp(n, k, v)
	tx.db.deltaMu.Unlock()

	payload, err := encodeNodeProp(n, k, v)
	if err != nil {
		return err
	}
	if err := tx.appendWal(walbuf.SetNodeProp, payload); err != nil {
		return err
	}
	vv := v
	tx.writeSet.TouchNodeProp(mvcc.NodePropKey{Node: n, Key: k}, &vv)
	return nil
}

// DeleteNodeProp stages a tombstone for k on node n.
func (tx *Tx) DeleteNodeProp(n model.NodeId, k model.PropKeyId) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	tx.db.deltaMu.Lock()
	tx.db.delta.DeleteNodeProp(n, k)
	tx.db.deltaMu.Unlock()

	if err := tx.appendWal(walbuf.DelNodeProp, encodeNodePropKey(n, k)); err != nil {
		return err
	}
	tx.writeSet.TouchNodeProp(mvcc.NodePropKey{Node: n, Key: k}, nil)
	return nil
}

// AddLabel stages l as attached to node n.
func (tx *Tx) AddLabel(n model.NodeId, l model.LabelId) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	tx.db.deltaMu.Lock()
	tx.db.delta.AddNodeLabel(n, l)
	tx.db.deltaMu.Unlock()

	return tx.appendWal(walbuf.AddNodeLabel, encodeNodeLabel(n, l))
}

// RemoveLabel stages l as removed from node n.
func (tx *Tx) RemoveLabel(n model.NodeId, l model.LabelId) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	tx.db.deltaMu.Lock()
	tx.db.delta.DeleteNodeLabel(n, l)
	tx.db.deltaMu.Unlock()

	return tx.appendWal(walbuf.DelNodeLabel, encodeNodeLabel(n, l))
}

// AddEdge stages a directed edge (s,e,d).
func (tx *Tx) AddEdge(s model.NodeId, e model.EtypeId, d model.NodeId) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	tx.db.deltaMu.Lock()
	tx.db.delta.AddEdge(s, e, d)
	tx.db.deltaMu.Unlock()

	if err := tx.appendWal(walbuf.AddEdge, encodeEdge(s, e, d)); err != nil {
		return err
	}
	tx.writeSet.TouchEdge(mvcc.EdgeKey{Src: s, Etype: e, Dst: d}, true)
	return nil
}

// DeleteEdge stages the removal of (s,e,d).
func (tx *Tx) DeleteEdge(s model.NodeId, e model.EtypeId, d model.NodeId) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	tx.db.deltaMu.Lock()
	tx.db.delta.DeleteEdge(s, e, d)
	tx.db.deltaMu.Unlock()

	if err := tx.appendWal(walbuf.DeleteEdge, encodeEdge(s, e, d)); err != nil {
		return err
	}
	tx.writeSet.TouchEdge(mvcc.EdgeKey{Src: s, Etype: e, Dst: d}, false)
	return nil
}

// SetEdgeProp stages k=v on edge (s,e,d).
func (tx *Tx) SetEdgeProp(s model.NodeId, e model.EtypeId, d model.NodeId, k model.PropKeyId, v model.PropValue) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	tx.db.deltaMu.Lock()
	tx.db.delta.SetEdgeProp(s, e, d, k, v)
	tx.db.deltaMu.Unlock()

	payload, err := encodeEdgeProp(s, e, d, k, v)
	if err != nil {
		return err
	}
	if err := tx.appendWal(walbuf.SetEdgeProp, payload); err != nil {
		return err
	}
	vv := v
	tx.writeSet.TouchEdgeProp(mvcc.EdgePropKey{Src: s, Etype: e, Dst: d, Key: k}, &vv)
	return nil
}

// DeleteEdgeProp stages a tombstone for k on edge (s,e,d).
func (tx *Tx) DeleteEdgeProp(s model.NodeId, e model.EtypeId, d model.NodeId, k model.PropKeyId) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	tx.db.deltaMu.Lock()
	tx.db.delta.DeleteEdgeProp(s, e, d, k)
	tx.db.deltaMu.Unlock()

	if err := tx.appendWal(walbuf.DelEdgeProp, encodeEdgePropKey(s, e, d, k)); err != nil {
		return err
	}
	tx.writeSet.TouchEdgeProp(mvcc.EdgePropKey{Src: s, Etype: e, Dst: d, Key: k}, nil)
	return nil
}

// DefineLabel resolves name to a LabelId, minting one if this is the
// first use.
func (tx *Tx) DefineLabel(name string) (model.LabelId, error) {
	if err := tx.requireWritable(); err != nil {
		return 0, err
	}
	id, created := tx.db.schema.Labels.GetOrCreate(name, tx.db.allocators.NextLabelId)
	if created {
		tx.db.deltaMu.Lock()
		tx.db.delta.DefineLabel(id, name)
		tx.db.deltaMu.Unlock()
		if err := tx.appendWal(walbuf.DefineLabel, encodeDefine(uint32(id), name)); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// DefineEtype mirrors DefineLabel for edge types.
func (tx *Tx) DefineEtype(name string) (model.EtypeId, error) {
	if err := tx.requireWritable(); err != nil {
		return 0, err
	}
	id, created := tx.db.schema.Etypes.GetOrCreate(name, tx.db.allocators.NextEtypeId)
	if created {
		tx.db.deltaMu.Lock()
		tx.db.delta.DefineEtype(id, name)
		tx.db.deltaMu.Unlock()
		if err := tx.appendWal(walbuf.DefineEtype, encodeDefine(uint32(id), name)); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// DefinePropkey mirrors DefineLabel for property keys.
func (tx *Tx) DefinePropkey(name string) (model.PropKeyId, error) {
	if err := tx.requireWritable(); err != nil {
		return 0, err
	}
	id, created := tx.db.schema.Propkeys.GetOrCreate(name, tx.db.allocators.NextPropKeyId)
	if created {
		tx.db.deltaMu.Lock()
		tx.db.delta.DefinePropkey(id, name)
		tx.db.deltaMu.Unlock()
		if err := tx.appendWal(walbuf.DefinePropkey, encodeDefine(uint32(id), name)); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// SetNodeVector stages a fixed-dimension vector for (n,k), validating it
// against spec.md §4.7's all-zero/NaN/dimension rules first.
func (tx *Tx) SetNodeVector(n model.NodeId, k model.PropKeyId, v []float32) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	pendingDim := tx.db.pendingVectorDimension(k)
	if err := tx.db.vectorStores.Validate(k, v, pendingDim); err != nil {
		return err
	}

	tx.db.deltaMu.Lock()
	tx.db.delta.SetNodeVector(n, k, v)
	tx.db.deltaMu.Unlock()

	return tx.appendWal(walbuf.SetNodeVector, encodeNodeVector(n, k, v))
}

// DeleteNodeVector stages a tombstone for (n,k).
func (tx *Tx) DeleteNodeVector(n model.NodeId, k model.PropKeyId) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	tx.db.deltaMu.Lock()
	tx.db.delta.DeleteNodeVector(n, k)
	tx.db.deltaMu.Unlock()

	return tx.appendWal(walbuf.DelNodeVector, encodeNodePropKey(n, k))
}

// pendingVectorDimension returns the dimension of any vector already
// staged in the delta for propkey k, 0 if none, used to keep multiple
// inserts within one uncommitted transaction mutually consistent.
func (db *DB) pendingVectorDimension(k model.PropKeyId) int {
	db.deltaMu.RLock()
	defer db.deltaMu.RUnlock()
	for key, v := range db.delta.PendingVectors() {
		if key.Key == k && v != nil {
			return len(*v)
		}
	}
	return 0
}

// txBaseline implements mvcc.Baseline over a transaction's pre-mutation
// delta clone plus the (immutable, mmap'd) snapshot, the pre-commit state
// Apply needs the first time a key's version chain is seeded.
type txBaseline struct {
	tx *Tx
}

func (b txBaseline) NodePresent(id model.NodeId) bool {
	db := b.tx.db
	if b.tx.preDelta.IsNodeCreated(id) {
		return true
	}
	if b.tx.preDelta.IsNodeDeleted(id) {
		return false
	}
	db.snapshotMu.RLock()
	defer db.snapshotMu.RUnlock()
	return db.snapReader != nil && db.snapReader.HasNode(id)
}

func (b txBaseline) NodeProp(key mvcc.NodePropKey) *model.PropValue {
	db := b.tx.db
	if v, present, tomb := b.tx.preDelta.GetNodeProp(key.Node, key.Key); present {
		if tomb {
			return nil
		}
		return &v
	}
	db.snapshotMu.RLock()
	defer db.snapshotMu.RUnlock()
	if db.snapReader == nil {
		return nil
	}
	phys, ok := db.snapReader.GetPhysNode(key.Node)
	if !ok {
		return nil
	}
	v, ok, err := db.snapReader.GetNodeProp(phys, key.Key)
	if err != nil || !ok {
		return nil
	}
	return &v
}

func (b txBaseline) EdgePresent(key mvcc.EdgeKey) bool {
	db := b.tx.db
	if b.tx.preDelta.IsEdgeAdded(key.Src, key.Etype, key.Dst) {
		return true
	}
	if b.tx.preDelta.IsEdgeDeleted(key.Src, key.Etype, key.Dst) {
		return false
	}
	db.snapshotMu.RLock()
	defer db.snapshotMu.RUnlock()
	if db.snapReader == nil {
		return false
	}
	srcPhys, ok := db.snapReader.GetPhysNode(key.Src)
	if !ok {
		return false
	}
	dstPhys, ok := db.snapReader.GetPhysNode(key.Dst)
	if !ok {
		return false
	}
	return db.snapReader.HasEdge(srcPhys, key.Etype, dstPhys)
}

func (b txBaseline) EdgeProp(key mvcc.EdgePropKey) *model.PropValue {
	db := b.tx.db
	pk := mvcc.EdgePropKey{Src: key.Src, Etype: key.Etype, Dst: key.Dst, Key: key.Key}
	if v, present, tomb := b.tx.preDelta.GetEdgeProp(pk.Src, pk.Etype, pk.Dst, pk.Key); present {
		if tomb {
			return nil
		}
		return &v
	}
	db.snapshotMu.RLock()
	defer db.snapshotMu.RUnlock()
	if db.snapReader == nil {
		return nil
	}
	srcPhys, ok := db.snapReader.GetPhysNode(key.Src)
	if !ok {
		return nil
	}
	dstPhys, ok := db.snapReader.GetPhysNode(key.Dst)
	if !ok {
		return nil
	}
	edgeIdx, ok := db.snapReader.FindEdgeIndex(srcPhys, key.Etype, dstPhys)
	if !ok {
		return nil
	}
	props, err := db.snapReader.GetEdgeProps(edgeIdx)
	if err != nil {
		return nil
	}
	if v, ok := props[key.Key]; ok {
		return &v
	}
	return nil
}

// Commit validates the write set for first-committer-wins conflicts,
// appends the Commit record to the WAL (fsyncing it only under
// SyncAlways), and makes every staged mutation visible to new readers. A
// conflict leaves the transaction rolled back.
func (tx *Tx) Commit() error {
	if tx.closed {
		return &rerrors.NoTransactionError{}
	}
	db := tx.db

	if tx.readOnly {
		db.txManager.Abort(tx.txid)
		tx.closed = true
		return nil
	}

	if conflict := db.versions.Validate(tx.txid, tx.snapshotTs, tx.writeSet); conflict != nil {
		tx.rollbackLocked()
		return conflict
	}

	if err := tx.appendWal(walbuf.Commit, nil); err != nil {
		tx.rollbackLocked()
		return err
	}
	if db.opts.SyncMode == SyncAlways {
		if err := db.wal.Flush(); err != nil {
			tx.rollbackLocked()
			return err
		}
	}

	commitTs := db.txManager.Commit(tx.txid)
	db.versions.Apply(tx.txid, commitTs, tx.writeSet, txBaseline{tx: tx})

	if err := db.vectorStores.Drain(pendingDrainEntries(db)); err != nil {
		db.logger.Warn().Err(err).Msg("vector store drain failed after commit")
	}

	db.headerMu.Lock()
	db.header.LastCommitTs = commitTs
	db.header.NextTxId = uint64(tx.txid) + 1
	db.header.MaxNodeId = uint64(db.allocators.MaxNodeId())
	db.header.ChangeCounter++
	db.header.WalHead = db.wal.Head()
	db.header.WalPrimaryHead = db.wal.PrimaryHead()
	db.header.WalSecondaryHead = db.wal.SecondaryHead()
	db.header.ActiveWalRegion = Region(db.wal.ActiveRegion())
	err := db.persistHeaderLocked()
	db.headerMu.Unlock()
	if err != nil {
		db.logger.Warn().Err(err).Msg("header persist failed after commit")
	}

	db.txMu.Lock()
	db.currentTx = nil
	db.txMu.Unlock()
	tx.closed = true

	db.maybeAutoCheckpoint()
	return nil
}

func pendingDrainEntries(db *DB) []vectorstore.DrainEntry {
	db.deltaMu.RLock()
	defer db.deltaMu.RUnlock()
	entries := make([]vectorstore.DrainEntry, 0, len(db.delta.PendingVectors()))
	for key, v := range db.delta.PendingVectors() {
		if v == nil {
			entries = append(entries, vectorstore.DrainEntry{Node: key.Node, Key: key.Key, Deleted: true})
			continue
		}
		entries = append(entries, vectorstore.DrainEntry{Node: key.Node, Key: key.Key, Vector: *v})
	}
	return entries
}

// Rollback discards every staged mutation and restores the pre-transaction
// delta.
func (tx *Tx) Rollback() error {
	if tx.closed {
		return &rerrors.NoTransactionError{}
	}
	tx.rollbackLocked()
	return nil
}

func (tx *Tx) rollbackLocked() {
	db := tx.db
	if !tx.readOnly {
		tx.appendWal(walbuf.Rollback, nil)
		db.wal.DiscardPending()
		db.deltaMu.Lock()
		db.delta.ReplaceWith(tx.preDelta)
		db.deltaMu.Unlock()
	}
	db.txManager.Abort(tx.txid)
	db.txMu.Lock()
	if db.currentTx == tx {
		db.currentTx = nil
	}
	db.txMu.Unlock()
	tx.closed = true
}
