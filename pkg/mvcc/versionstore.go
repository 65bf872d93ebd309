package mvcc

import (
	"strconv"

	"github.com/bobboyms/storage-engine/pkg/model"
	"github.com/bobboyms/storage-engine/pkg/rerrors"
)

// VersionStore bundles the four entity-kind version chains spec.md §4.8
// names: node existence, node properties, edge existence and edge
// properties.
type VersionStore struct {
	nodes     *chain[model.NodeId, bool]
	nodeProps *chain[NodePropKey, *model.PropValue]
	edges     *chain[EdgeKey, bool]
	edgeProps *chain[EdgePropKey, *model.PropValue]
}

// NewVersionStore returns an empty VersionStore.
func NewVersionStore() *VersionStore {
	return &VersionStore{
		nodes:     newChain[model.NodeId, bool](),
		nodeProps: newChain[NodePropKey, *model.PropValue](),
		edges:     newChain[EdgeKey, bool](),
		edgeProps: newChain[EdgePropKey, *model.PropValue](),
	}
}

// NodeVisible reports whether id is present from the reader's point of
// view; found is false when no version applies and the caller should
// fall back to the snapshot.
func (vs *VersionStore) NodeVisible(id model.NodeId, snapshotTs uint64, activeAtBegin map[model.TxId]struct{}) (present bool, found bool) {
	return vs.nodes.latest(id, snapshotTs, activeAtBegin)
}

// NodePropVisible returns the visible property value, or (nil, true) if
// the version chain records it as deleted, or (nil, false) if no version
// applies.
func (vs *VersionStore) NodePropVisible(key NodePropKey, snapshotTs uint64, activeAtBegin map[model.TxId]struct{}) (*model.PropValue, bool) {
	return vs.nodeProps.latest(key, snapshotTs, activeAtBegin)
}

// EdgeVisible mirrors NodeVisible for edges.
func (vs *VersionStore) EdgeVisible(key EdgeKey, snapshotTs uint64, activeAtBegin map[model.TxId]struct{}) (present bool, found bool) {
	return vs.edges.latest(key, snapshotTs, activeAtBegin)
}

// EdgePropVisible mirrors NodePropVisible for edge properties.
func (vs *VersionStore) EdgePropVisible(key EdgePropKey, snapshotTs uint64, activeAtBegin map[model.TxId]struct{}) (*model.PropValue, bool) {
	return vs.edgeProps.latest(key, snapshotTs, activeAtBegin)
}

// WriteSet records the keys a transaction has touched, accumulated as
// its mutations are staged. Apply feeds the set into the version store
// at commit time.
type WriteSet struct {
	Nodes     map[model.NodeId]bool // id -> present after commit
	NodeProps map[NodePropKey]*model.PropValue
	Edges     map[EdgeKey]bool
	EdgeProps map[EdgePropKey]*model.PropValue
}

// NewWriteSet returns an empty WriteSet.
func NewWriteSet() *WriteSet {
	return &WriteSet{
		Nodes:     make(map[model.NodeId]bool),
		NodeProps: make(map[NodePropKey]*model.PropValue),
		Edges:     make(map[EdgeKey]bool),
		EdgeProps: make(map[EdgePropKey]*model.PropValue),
	}
}

// TouchNode records the post-commit existence of id.
func (w *WriteSet) TouchNode(id model.NodeId, present bool) { w.Nodes[id] = present }

// TouchNodeProp records the post-commit value of a node property; value
// nil means deleted.
func (w *WriteSet) TouchNodeProp(key NodePropKey, value *model.PropValue) { w.NodeProps[key] = value }

// TouchEdge records the post-commit existence of an edge.
func (w *WriteSet) TouchEdge(key EdgeKey, present bool) { w.Edges[key] = present }

// TouchEdgeProp records the post-commit value of an edge property; value
// nil means deleted.
func (w *WriteSet) TouchEdgeProp(key EdgePropKey, value *model.PropValue) { w.EdgeProps[key] = value }

// Empty reports whether the write set touched nothing, letting the
// caller skip validation/append entirely for read-only transactions.
func (w *WriteSet) Empty() bool {
	return len(w.Nodes) == 0 && len(w.NodeProps) == 0 && len(w.Edges) == 0 && len(w.EdgeProps) == 0
}

// Validate implements the first-committer-wins conflict check from
// spec.md §4.8: reject if any touched key already has a committed
// version with commit_ts greater than the committing transaction's
// snapshot_ts.
func (vs *VersionStore) Validate(txid model.TxId, snapshotTs uint64, ws *WriteSet) *rerrors.ConflictError {
	var conflicts []string
	for id := range ws.Nodes {
		if vs.nodes.lastCommitTs(id) > snapshotTs {
			conflicts = append(conflicts, nodeConflictKey(id))
		}
	}
	for key := range ws.NodeProps {
		if vs.nodeProps.lastCommitTs(key) > snapshotTs {
			conflicts = append(conflicts, nodePropConflictKey(key))
		}
	}
	for key := range ws.Edges {
		if vs.edges.lastCommitTs(key) > snapshotTs {
			conflicts = append(conflicts, edgeConflictKey(key))
		}
	}
	for key := range ws.EdgeProps {
		if vs.edgeProps.lastCommitTs(key) > snapshotTs {
			conflicts = append(conflicts, edgePropConflictKey(key))
		}
	}
	if len(conflicts) == 0 {
		return nil
	}
	return &rerrors.ConflictError{TxId: uint64(txid), ConflictingKeys: conflicts}
}

// Apply appends a committed version for every key in ws, lazily
// synthesizing a (0,0) baseline entry first whenever a key had no prior
// version — so readers whose snapshot predates this commit still resolve
// to the pre-mutation state instead of finding no matching version at
// all.
//
// baseline supplies the pre-commit value for each touched key, read from
// the delta's pre-tx clone plus the snapshot, used only to seed a baseline
// the first time a key is written.
func (vs *VersionStore) Apply(txid model.TxId, commitTs uint64, ws *WriteSet, baseline Baseline) {
	for id, present := range ws.Nodes {
		vs.nodes.ensureBaseline(id, baseline.NodePresent(id))
		vs.nodes.append(id, txid, commitTs, present)
	}
	for key, value := range ws.NodeProps {
		vs.nodeProps.ensureBaseline(key, baseline.NodeProp(key))
		vs.nodeProps.append(key, txid, commitTs, value)
	}
	for key, present := range ws.Edges {
		vs.edges.ensureBaseline(key, baseline.EdgePresent(key))
		vs.edges.append(key, txid, commitTs, present)
	}
	for key, value := range ws.EdgeProps {
		vs.edgeProps.ensureBaseline(key, baseline.EdgeProp(key))
		vs.edgeProps.append(key, txid, commitTs, value)
	}
}

// Baseline supplies the pre-transaction value of a key the first time
// Apply needs to synthesize a (0,0) baseline entry for it. A database
// controller implements this over its pre-tx delta snapshot ⊕ snapshot
// merge.
type Baseline interface {
	NodePresent(id model.NodeId) bool
	NodeProp(key NodePropKey) *model.PropValue
	EdgePresent(key EdgeKey) bool
	EdgeProp(key EdgePropKey) *model.PropValue
}

func itoa(v uint64) string { return strconv.FormatUint(v, 10) }

func nodeConflictKey(id model.NodeId) string { return "node:" + itoa(uint64(id)) }
func nodePropConflictKey(k NodePropKey) string {
	return "node_prop:" + itoa(uint64(k.Node)) + ":" + itoa(uint64(k.Key))
}
func edgeConflictKey(k EdgeKey) string {
	return "edge:" + itoa(uint64(k.Src)) + ":" + itoa(uint64(k.Etype)) + ":" + itoa(uint64(k.Dst))
}
func edgePropConflictKey(k EdgePropKey) string {
	return "edge_prop:" + itoa(uint64(k.Src)) + ":" + itoa(uint64(k.Etype)) + ":" + itoa(uint64(k.Dst)) + ":" + itoa(uint64(k.Key))
}
