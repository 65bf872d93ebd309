package raydb

import (
	"sort"

	"github.com/bobboyms/storage-engine/pkg/model"
	"github.com/bobboyms/storage-engine/pkg/mvcc"
)

// EdgeView is one edge as returned by OutEdges/InEdges: the node at the
// other end plus its type, already resolved to logical NodeIds.
type EdgeView struct {
	Etype model.EtypeId
	Other model.NodeId
}

// edgeCandidate is the (etype, other-end) shape the out/in edge merges
// build their candidate sets from, before resolving into an EdgeKey.
type edgeCandidate struct {
	Etype model.EtypeId
	Other model.NodeId
}

// NodeExists reports whether n is visible to tx: the MVCC version chain
// wins if n has ever been touched by a committed write, otherwise the
// current delta/snapshot merge is the answer every reader agrees on.
func (tx *Tx) NodeExists(n model.NodeId) bool {
	db := tx.db
	if present, found := db.versions.NodeVisible(n, tx.snapshotTs, tx.activeAtBegin); found {
		return present
	}
	return db.nodeExistsCurrent(n)
}

func (db *DB) nodeExistsCurrent(n model.NodeId) bool {
	db.deltaMu.RLock()
	defer db.deltaMu.RUnlock()
	if db.delta.IsNodeCreated(n) {
		return true
	}
	if db.delta.IsNodeDeleted(n) {
		return false
	}
	db.snapshotMu.RLock()
	defer db.snapshotMu.RUnlock()
	return db.snapReader != nil && db.snapReader.HasNode(n)
}

// NodeKey returns n's key, if it has one and n exists.
func (tx *Tx) NodeKey(n model.NodeId) (string, bool) {
	db := tx.db
	if !tx.NodeExists(n) {
		return "", false
	}
	db.deltaMu.RLock()
	if nd := db.delta.GetNodeDelta(n); nd != nil && nd.Key != nil {
		key := *nd.Key
		db.deltaMu.RUnlock()
		return key, true
	}
	db.deltaMu.RUnlock()

	db.snapshotMu.RLock()
	defer db.snapshotMu.RUnlock()
	if db.snapReader == nil {
		return "", false
	}
	phys, ok := db.snapReader.GetPhysNode(n)
	if !ok {
		return "", false
	}
	return db.snapReader.GetNodeKey(phys)
}

// LookupByKey resolves a node key, checking the delta's key index (which
// honors tombstones) before falling back to the snapshot's.
func (tx *Tx) LookupByKey(key string) (model.NodeId, bool) {
	db := tx.db
	db.deltaMu.RLock()
	if id, ok := db.delta.GetNodeByKey(key); ok {
		db.deltaMu.RUnlock()
		return id, tx.NodeExists(id)
	}
	db.deltaMu.RUnlock()

	db.snapshotMu.RLock()
	defer db.snapshotMu.RUnlock()
	if db.snapReader == nil {
		return 0, false
	}
	id, ok := db.snapReader.LookupByKey(key)
	if !ok {
		return 0, false
	}
	return id, tx.NodeExists(id)
}

// NodeLabels returns the label ids attached to n: snapshot labels plus any
// staged additions, minus staged removals.
func (tx *Tx) NodeLabels(n model.NodeId) []model.LabelId {
	db := tx.db
	set := make(map[model.LabelId]struct{})

	db.snapshotMu.RLock()
	if db.snapReader != nil {
		if phys, ok := db.snapReader.GetPhysNode(n); ok {
			for _, l := range db.snapReader.GetNodeLabels(phys) {
				set[l] = struct{}{}
			}
		}
	}
	db.snapshotMu.RUnlock()

	db.deltaMu.RLock()
	if nd := db.delta.GetNodeDelta(n); nd != nil {
		for _, l := range nd.Labels {
			set[l] = struct{}{}
		}
		for _, l := range nd.LabelsDeleted {
			delete(set, l)
		}
	}
	db.deltaMu.RUnlock()

	out := make([]model.LabelId, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	return out
}

// NodeProp resolves one property of n, checking the MVCC chain first.
func (tx *Tx) NodeProp(n model.NodeId, k model.PropKeyId) (model.PropValue, bool) {
	db := tx.db
	key := mvcc.NodePropKey{Node: n, Key: k}
	if v, found := db.versions.NodePropVisible(key, tx.snapshotTs, tx.activeAtBegin); found {
		if v == nil {
			return model.PropValue{}, false
		}
		return *v, true
	}
	return db.nodePropCurrent(n, k)
}

func (db *DB) nodePropCurrent(n model.NodeId, k model.PropKeyId) (model.PropValue, bool) {
	db.deltaMu.RLock()
	if v, present, tomb := db.delta.GetNodeProp(n, k); present {
		db.deltaMu.RUnlock()
		if tomb {
			return model.PropValue{}, false
		}
		return v, true
	}
	db.deltaMu.RUnlock()

	db.snapshotMu.RLock()
	defer db.snapshotMu.RUnlock()
	if db.snapReader == nil {
		return model.PropValue{}, false
	}
	phys, ok := db.snapReader.GetPhysNode(n)
	if !ok {
		return model.PropValue{}, false
	}
	v, ok, err := db.snapReader.GetNodeProp(phys, k)
	if err != nil || !ok {
		return model.PropValue{}, false
	}
	return v, true
}

// NodeProps returns the full merged property map for n.
func (tx *Tx) NodeProps(n model.NodeId) map[model.PropKeyId]model.PropValue {
	db := tx.db
	out := make(map[model.PropKeyId]model.PropValue)

	db.snapshotMu.RLock()
	if db.snapReader != nil {
		if phys, ok := db.snapReader.GetPhysNode(n); ok {
			if props, err := db.snapReader.GetNodeProps(phys); err == nil {
				for k, v := range props {
					out[k] = v
				}
			}
		}
	}
	db.snapshotMu.RUnlock()

	db.deltaMu.RLock()
	var deltaKeys []model.PropKeyId
	if nd := db.delta.GetNodeDelta(n); nd != nil {
		for k := range nd.Props {
			deltaKeys = append(deltaKeys, k)
		}
	}
	db.deltaMu.RUnlock()
	for k := range out {
		deltaKeys = append(deltaKeys, k)
	}

	seen := make(map[model.PropKeyId]struct{}, len(deltaKeys))
	for _, k := range deltaKeys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		if v, ok := tx.NodeProp(n, k); ok {
			out[k] = v
		} else {
			delete(out, k)
		}
	}
	return out
}

// OutEdges returns every outgoing edge of n currently visible to tx,
// sorted by (etype, dst).
func (tx *Tx) OutEdges(n model.NodeId) []EdgeView {
	db := tx.db
	candidates := make(map[edgeCandidate]struct{})

	db.snapshotMu.RLock()
	if db.snapReader != nil {
		if phys, ok := db.snapReader.GetPhysNode(n); ok {
			if views, err := db.snapReader.IterOutEdges(phys); err == nil {
				for _, v := range views {
					if dstId, ok := db.snapReader.GetNodeId(v.DstPhys); ok {
						candidates[edgeCandidate{Etype: v.Etype, Other: dstId}] = struct{}{}
					}
				}
			}
		}
	}
	db.snapshotMu.RUnlock()

	db.deltaMu.RLock()
	for _, p := range db.delta.OutEdgesAdded(n) {
		candidates[edgeCandidate{Etype: p.Etype, Other: p.Other}] = struct{}{}
	}
	for _, p := range db.delta.OutEdgesDeleted(n) {
		delete(candidates, edgeCandidate{Etype: p.Etype, Other: p.Other})
	}
	db.deltaMu.RUnlock()

	out := make([]EdgeView, 0, len(candidates))
	for c := range candidates {
		key := mvcc.EdgeKey{Src: n, Etype: c.Etype, Dst: c.Other}
		if present, found := db.versions.EdgeVisible(key, tx.snapshotTs, tx.activeAtBegin); found && !present {
			continue
		}
		if !tx.NodeExists(c.Other) {
			continue
		}
		out = append(out, EdgeView{Etype: c.Etype, Other: c.Other})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Etype != out[j].Etype {
			return out[i].Etype < out[j].Etype
		}
		return out[i].Other < out[j].Other
	})
	return out
}

// InEdges mirrors OutEdges for incoming edges, sorted by (etype, src).
func (tx *Tx) InEdges(n model.NodeId) []EdgeView {
	db := tx.db
	candidates := make(map[edgeCandidate]struct{})

	db.snapshotMu.RLock()
	if db.snapReader != nil {
		if phys, ok := db.snapReader.GetPhysNode(n); ok {
			if views, err := db.snapReader.IterInEdges(phys); err == nil {
				for _, v := range views {
					if srcId, ok := db.snapReader.GetNodeId(v.SrcPhys); ok {
						candidates[edgeCandidate{Etype: v.Etype, Other: srcId}] = struct{}{}
					}
				}
			}
		}
	}
	db.snapshotMu.RUnlock()

	db.deltaMu.RLock()
	for _, p := range db.delta.InEdgesAdded(n) {
		candidates[edgeCandidate{Etype: p.Etype, Other: p.Other}] = struct{}{}
	}
	for _, p := range db.delta.InEdgesDeleted(n) {
		delete(candidates, edgeCandidate{Etype: p.Etype, Other: p.Other})
	}
	db.deltaMu.RUnlock()

	out := make([]EdgeView, 0, len(candidates))
	for c := range candidates {
		key := mvcc.EdgeKey{Src: c.Other, Etype: c.Etype, Dst: n}
		if present, found := db.versions.EdgeVisible(key, tx.snapshotTs, tx.activeAtBegin); found && !present {
			continue
		}
		if !tx.NodeExists(c.Other) {
			continue
		}
		out = append(out, EdgeView{Etype: c.Etype, Other: c.Other})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Etype != out[j].Etype {
			return out[i].Etype < out[j].Etype
		}
		return out[i].Other < out[j].Other
	})
	return out
}

// HasEdge reports whether (s,e,d) is visible to tx.
func (tx *Tx) HasEdge(s model.NodeId, e model.EtypeId, d model.NodeId) bool {
	db := tx.db
	key := mvcc.EdgeKey{Src: s, Etype: e, Dst: d}
	if present, found := db.versions.EdgeVisible(key, tx.snapshotTs, tx.activeAtBegin); found {
		return present
	}
	return db.edgeExistsCurrent(s, e, d)
}

func (db *DB) edgeExistsCurrent(s model.NodeId, e model.EtypeId, d model.NodeId) bool {
	db.deltaMu.RLock()
	if db.delta.IsEdgeAdded(s, e, d) {
		db.deltaMu.RUnlock()
		return true
	}
	if db.delta.IsEdgeDeleted(s, e, d) {
		db.deltaMu.RUnlock()
		return false
	}
	db.deltaMu.RUnlock()

	db.snapshotMu.RLock()
	defer db.snapshotMu.RUnlock()
	if db.snapReader == nil {
		return false
	}
	srcPhys, ok := db.snapReader.GetPhysNode(s)
	if !ok {
		return false
	}
	dstPhys, ok := db.snapReader.GetPhysNode(d)
	if !ok {
		return false
	}
	return db.snapReader.HasEdge(srcPhys, e, dstPhys)
}

// EdgeProp resolves one property of edge (s,e,d).
func (tx *Tx) EdgeProp(s model.NodeId, e model.EtypeId, d model.NodeId, k model.PropKeyId) (model.PropValue, bool) {
	db := tx.db
	key := mvcc.EdgePropKey{Src: s, Etype: e, Dst: d, Key: k}
	if v, found := db.versions.EdgePropVisible(key, tx.snapshotTs, tx.activeAtBegin); found {
		if v == nil {
			return model.PropValue{}, false
		}
		return *v, true
	}

	db.deltaMu.RLock()
	if v, present, tomb := db.delta.GetEdgeProp(s, e, d, k); present {
		db.deltaMu.RUnlock()
		if tomb {
			return model.PropValue{}, false
		}
		return v, true
	}
	db.deltaMu.RUnlock()

	db.snapshotMu.RLock()
	defer db.snapshotMu.RUnlock()
	if db.snapReader == nil {
		return model.PropValue{}, false
	}
	srcPhys, ok := db.snapReader.GetPhysNode(s)
	if !ok {
		return model.PropValue{}, false
	}
	dstPhys, ok := db.snapReader.GetPhysNode(d)
	if !ok {
		return model.PropValue{}, false
	}
	edgeIdx, ok := db.snapReader.FindEdgeIndex(srcPhys, e, dstPhys)
	if !ok {
		return model.PropValue{}, false
	}
	props, err := db.snapReader.GetEdgeProps(edgeIdx)
	if err != nil {
		return model.PropValue{}, false
	}
	v, ok := props[k]
	return v, ok
}

// NodeVector resolves a committed or staged vector for (n,k).
func (tx *Tx) NodeVector(n model.NodeId, k model.PropKeyId) ([]float32, bool) {
	db := tx.db
	db.deltaMu.RLock()
	if v, tomb, present := db.delta.PendingVector(n, k); present {
		db.deltaMu.RUnlock()
		if tomb {
			return nil, false
		}
		return v, true
	}
	db.deltaMu.RUnlock()
	return db.vectorStores.Get(n, k)
}
