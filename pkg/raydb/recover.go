package raydb

import (
	"github.com/bobboyms/storage-engine/pkg/model"
	"github.com/bobboyms/storage-engine/pkg/vectorstore"
	"github.com/bobboyms/storage-engine/pkg/walbuf"
)

// recoverFromWal replays every committed transaction found in the WAL's
// active byte range into a fresh Delta, per spec.md §4.9's "scan the WAL
// from tail to head, grouping records by txid; discard any group lacking
// a terminating Commit record" recovery procedure.
func (db *DB) recoverFromWal() error {
	primary, err := db.wal.ReadAll(0)
	if err != nil {
		db.logger.Warn().Err(err).Msg("wal primary region parse terminated early during replay")
	}
	secondary, err := db.wal.ReadAll(1)
	if err != nil {
		db.logger.Warn().Err(err).Msg("wal secondary region parse terminated early during replay")
	}
	records := append(append([]walbuf.Record(nil), primary...), secondary...)

	committed := make(map[uint64]bool)
	var order []uint64
	groups := make(map[uint64][]walbuf.Record)
	var maxTxId uint64

	for _, rec := range records {
		if rec.TxId > maxTxId {
			maxTxId = rec.TxId
		}
		switch rec.Type {
		case walbuf.Commit:
			committed[rec.TxId] = true
		case walbuf.Rollback:
			committed[rec.TxId] = false
		default:
			if _, seen := groups[rec.TxId]; !seen {
				order = append(order, rec.TxId)
			}
			groups[rec.TxId] = append(groups[rec.TxId], rec)
		}
	}

	for _, txid := range order {
		if !committed[txid] {
			continue
		}
		if txid == 0 {
			continue
		}
		for _, rec := range groups[txid] {
			if rec.Gen != 0 && rec.Gen < db.header.ActiveSnapshotGen {
				continue
			}
			if err := db.applyWalRecord(rec); err != nil {
				db.logger.Warn().Err(err).Msg("wal record replay failed, skipping")
			}
		}
	}

	if maxTxId > 0 {
		db.allocators.BumpTxCeiling(model.TxId(maxTxId))
	}
	nextTx := maxTxId + 1
	if nextTx < db.header.NextTxId {
		nextTx = db.header.NextTxId
	}
	db.txManager.RestoreCounters(nextTx, db.header.LastCommitTs)
	db.header.MaxNodeId = uint64(db.allocators.MaxNodeId())
	return nil
}

func (db *DB) applyWalRecord(rec walbuf.Record) error {
	switch rec.Type {
	case walbuf.CreateNode:
		id, key := decodeCreateNode(rec.Payload)
		db.delta.CreateNode(id, key)
		db.allocators.BumpNodeCeiling(id)
	case walbuf.DeleteNode:
		db.delta.DeleteNode(decodeNodeId(rec.Payload))
	case walbuf.AddEdge:
		s, e, d := decodeEdge(rec.Payload)
		db.delta.AddEdge(s, e, d)
	case walbuf.DeleteEdge:
		s, e, d := decodeEdge(rec.Payload)
		db.delta.DeleteEdge(s, e, d)
	case walbuf.SetNodeProp:
		n, k, v, err := decodeNodeProp(rec.Payload)
		if err != nil {
			return err
		}
		db.delta.SetNodeProp(n, k, v)
	case walbuf.DelNodeProp:
		n, k := decodeNodePropKey(rec.Payload)
		db.delta.DeleteNodeProp(n, k)
	case walbuf.SetEdgeProp:
		s, e, d, k, v, err := decodeEdgeProp(rec.Payload)
		if err != nil {
			return err
		}
		db.delta.SetEdgeProp(s, e, d, k, v)
	case walbuf.DelEdgeProp:
		s, e, d, k := decodeEdgePropKey(rec.Payload)
		db.delta.DeleteEdgeProp(s, e, d, k)
	case walbuf.AddNodeLabel:
		n, l := decodeNodeLabel(rec.Payload)
		db.delta.AddNodeLabel(n, l)
	case walbuf.DelNodeLabel:
		n, l := decodeNodeLabel(rec.Payload)
		db.delta.DeleteNodeLabel(n, l)
	case walbuf.DefineLabel:
		id, name := decodeDefine(rec.Payload)
		db.schema.Labels.Bind(model.LabelId(id), name)
		db.allocators.BumpLabelCeiling(model.LabelId(id))
	case walbuf.DefineEtype:
		id, name := decodeDefine(rec.Payload)
		db.schema.Etypes.Bind(model.EtypeId(id), name)
		db.allocators.BumpEtypeCeiling(model.EtypeId(id))
	case walbuf.DefinePropkey:
		id, name := decodeDefine(rec.Payload)
		db.schema.Propkeys.Bind(model.PropKeyId(id), name)
		db.allocators.BumpPropKeyCeiling(model.PropKeyId(id))
	case walbuf.SetNodeVector:
		n, k, vec := decodeNodeVector(rec.Payload)
		return db.vectorStores.Drain([]vectorstore.DrainEntry{{Node: n, Key: k, Vector: vec}})
	case walbuf.DelNodeVector:
		n, k := decodeNodePropKey(rec.Payload)
		return db.vectorStores.Drain([]vectorstore.DrainEntry{{Node: n, Key: k, Deleted: true}})
	}
	return nil
}
