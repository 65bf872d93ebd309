// Package delta implements the in-memory overlay of uncommitted and
// post-snapshot mutations: every write lands here first, is logged to the
// WAL, and is only folded into the on-disk snapshot at the next checkpoint.
package delta

import (
	"github.com/bobboyms/storage-engine/pkg/model"
)

// NodeDelta is the staged mutation state for one node: key/labels changes
// plus a property patch map (nil value = tombstone).
type NodeDelta struct {
	Key           *string
	Labels        []model.LabelId
	LabelsDeleted []model.LabelId
	Props         map[model.PropKeyId]*model.PropValue
}

func newNodeDelta() *NodeDelta {
	return &NodeDelta{Props: make(map[model.PropKeyId]*model.PropValue)}
}

// EdgePatch identifies one directed edge by its type and the node at the
// other end, relative to whichever side (out or in) the set it lives in.
type EdgePatch struct {
	Etype model.EtypeId
	Other model.NodeId
}

// edgeKey identifies a full triple for edge_props.
type edgeKey struct {
	Src   model.NodeId
	Etype model.EtypeId
	Dst   model.NodeId
}

// Overlay is the Delta described in spec.md §3/§4.3. All methods assume the
// caller already holds whatever lock order discipline the database
// controller enforces; Overlay itself does no locking.
type Overlay struct {
	createdNodes map[model.NodeId]*NodeDelta
	modifiedNodes map[model.NodeId]*NodeDelta
	deletedNodes map[model.NodeId]struct{}

	outAdd map[model.NodeId]map[EdgePatch]struct{}
	outDel map[model.NodeId]map[EdgePatch]struct{}
	inAdd  map[model.NodeId]map[EdgePatch]struct{}
	inDel  map[model.NodeId]map[EdgePatch]struct{}

	incomingEdgeSources map[model.NodeId]map[model.NodeId]struct{}

	edgeProps map[edgeKey]map[model.PropKeyId]*model.PropValue

	newLabels   map[model.LabelId]string
	newEtypes   map[model.EtypeId]string
	newPropkeys map[model.PropKeyId]string

	keyIndex        map[string]model.NodeId
	keyIndexDeleted map[string]struct{}

	pendingVectors map[VectorKey]*[]float32
}

type VectorKey struct {
	Node model.NodeId
	Key  model.PropKeyId
}

// New returns an empty Overlay.
func New() *Overlay {
	o := &Overlay{}
	o.clearLocked()
	return o
}

func (o *Overlay) clearLocked() {
	o.createdNodes = make(map[model.NodeId]*NodeDelta)
	o.modifiedNodes = make(map[model.NodeId]*NodeDelta)
	o.deletedNodes = make(map[model.NodeId]struct{})
	o.outAdd = make(map[model.NodeId]map[EdgePatch]struct{})
	o.outDel = make(map[model.NodeId]map[EdgePatch]struct{})
	o.inAdd = make(map[model.NodeId]map[EdgePatch]struct{})
	o.inDel = make(map[model.NodeId]map[EdgePatch]struct{})
	o.incomingEdgeSources = make(map[model.NodeId]map[model.NodeId]struct{})
	o.edgeProps = make(map[edgeKey]map[model.PropKeyId]*model.PropValue)
	o.newLabels = make(map[model.LabelId]string)
	o.newEtypes = make(map[model.EtypeId]string)
	o.newPropkeys = make(map[model.PropKeyId]string)
	o.keyIndex = make(map[string]model.NodeId)
	o.keyIndexDeleted = make(map[string]struct{})
	o.pendingVectors = make(map[VectorKey]*[]float32)
}

// Clear zeroes every map; used when a checkpoint folds delta into snapshot.
func (o *Overlay) Clear() { o.clearLocked() }

// Clone returns a deep-enough copy for rollback: every map is copied, and
// the value types held (NodeDelta, edge prop maps) are copied too so that
// mutating the clone (or the original) after the fact cannot alias.
func (o *Overlay) Clone() *Overlay {
	c := &Overlay{
		createdNodes:        make(map[model.NodeId]*NodeDelta, len(o.createdNodes)),
		modifiedNodes:       make(map[model.NodeId]*NodeDelta, len(o.modifiedNodes)),
		deletedNodes:        make(map[model.NodeId]struct{}, len(o.deletedNodes)),
		outAdd:              cloneEdgeSetMap(o.outAdd),
		outDel:              cloneEdgeSetMap(o.outDel),
		inAdd:               cloneEdgeSetMap(o.inAdd),
		inDel:               cloneEdgeSetMap(o.inDel),
		incomingEdgeSources: make(map[model.NodeId]map[model.NodeId]struct{}, len(o.incomingEdgeSources)),
		edgeProps:           make(map[edgeKey]map[model.PropKeyId]*model.PropValue, len(o.edgeProps)),
		newLabels:           make(map[model.LabelId]string, len(o.newLabels)),
		newEtypes:           make(map[model.EtypeId]string, len(o.newEtypes)),
		newPropkeys:         make(map[model.PropKeyId]string, len(o.newPropkeys)),
		keyIndex:            make(map[string]model.NodeId, len(o.keyIndex)),
		keyIndexDeleted:     make(map[string]struct{}, len(o.keyIndexDeleted)),
		pendingVectors:      make(map[VectorKey]*[]float32, len(o.pendingVectors)),
	}
	for k, v := range o.createdNodes {
		c.createdNodes[k] = cloneNodeDelta(v)
	}
	for k, v := range o.modifiedNodes {
		c.modifiedNodes[k] = cloneNodeDelta(v)
	}
	for k := range o.deletedNodes {
		c.deletedNodes[k] = struct{}{}
	}
	for k, v := range o.incomingEdgeSources {
		m := make(map[model.NodeId]struct{}, len(v))
		for s := range v {
			m[s] = struct{}{}
		}
		c.incomingEdgeSources[k] = m
	}
	for k, v := range o.edgeProps {
		m := make(map[model.PropKeyId]*model.PropValue, len(v))
		for pk, pv := range v {
			m[pk] = clonePropPtr(pv)
		}
		c.edgeProps[k] = m
	}
	for k, v := range o.newLabels {
		c.newLabels[k] = v
	}
	for k, v := range o.newEtypes {
		c.newEtypes[k] = v
	}
	for k, v := range o.newPropkeys {
		c.newPropkeys[k] = v
	}
	for k, v := range o.keyIndex {
		c.keyIndex[k] = v
	}
	for k := range o.keyIndexDeleted {
		c.keyIndexDeleted[k] = struct{}{}
	}
	for k, v := range o.pendingVectors {
		if v == nil {
			c.pendingVectors[k] = nil
			continue
		}
		vec := append([]float32(nil), *v...)
		c.pendingVectors[k] = &vec
	}
	return c
}

func cloneEdgeSetMap(m map[model.NodeId]map[EdgePatch]struct{}) map[model.NodeId]map[EdgePatch]struct{} {
	out := make(map[model.NodeId]map[EdgePatch]struct{}, len(m))
	for k, set := range m {
		s := make(map[EdgePatch]struct{}, len(set))
		for p := range set {
			s[p] = struct{}{}
		}
		out[k] = s
	}
	return out
}

func cloneNodeDelta(d *NodeDelta) *NodeDelta {
	if d == nil {
		return nil
	}
	nd := &NodeDelta{Props: make(map[model.PropKeyId]*model.PropValue, len(d.Props))}
	if d.Key != nil {
		k := *d.Key
		nd.Key = &k
	}
	nd.Labels = append([]model.LabelId(nil), d.Labels...)
	nd.LabelsDeleted = append([]model.LabelId(nil), d.LabelsDeleted...)
	for k, v := range d.Props {
		nd.Props[k] = clonePropPtr(v)
	}
	return nd
}

func clonePropPtr(v *model.PropValue) *model.PropValue {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

// ReplaceWith overwrites o's contents with other's, used to restore a
// pre-transaction snapshot on rollback or conflict.
func (o *Overlay) ReplaceWith(other *Overlay) {
	*o = *other
}

// --- node mutations ---

// CreateNode adds a NodeDelta to created_nodes; if key is non-nil it also
// updates the key index.
func (o *Overlay) CreateNode(n model.NodeId, key *string) {
	nd := newNodeDelta()
	if key != nil {
		k := *key
		nd.Key = &k
		o.keyIndex[k] = n
		delete(o.keyIndexDeleted, k)
	}
	o.createdNodes[n] = nd
}

// DeleteNode implements spec.md §4.3's delete_node: full erasure for a node
// created in this delta, a tombstone plus cleanup otherwise.
func (o *Overlay) DeleteNode(n model.NodeId) {
	if nd, ok := o.createdNodes[n]; ok {
		if nd.Key != nil {
			delete(o.keyIndex, *nd.Key)
		}
		delete(o.createdNodes, n)
		delete(o.outAdd, n)

		for src := range o.incomingEdgeSources[n] {
			o.cullOutAddTo(src, n)
		}
		delete(o.incomingEdgeSources, n)
		delete(o.inAdd, n)
		for _, set := range o.inAdd {
			for p := range set {
				if p.Other == n {
					delete(set, p)
				}
			}
		}
		for k := range o.edgeProps {
			if k.Src == n || k.Dst == n {
				delete(o.edgeProps, k)
			}
		}
		for k := range o.pendingVectors {
			if k.Node == n {
				delete(o.pendingVectors, k)
			}
		}
		return
	}

	o.deletedNodes[n] = struct{}{}
	delete(o.modifiedNodes, n)
	for k := range o.pendingVectors {
		if k.Node == n {
			delete(o.pendingVectors, k)
		}
	}
}

func (o *Overlay) cullOutAddTo(src, other model.NodeId) {
	set, ok := o.outAdd[src]
	if !ok {
		return
	}
	for p := range set {
		if p.Other == other {
			delete(set, p)
		}
	}
}

func (o *Overlay) nodeDeltaForWrite(n model.NodeId) *NodeDelta {
	if nd, ok := o.createdNodes[n]; ok {
		return nd
	}
	if nd, ok := o.modifiedNodes[n]; ok {
		return nd
	}
	nd := newNodeDelta()
	o.modifiedNodes[n] = nd
	return nd
}

// SetNodeProp stages k=v for n.
func (o *Overlay) SetNodeProp(n model.NodeId, k model.PropKeyId, v model.PropValue) {
	nd := o.nodeDeltaForWrite(n)
	vv := v
	nd.Props[k] = &vv
}

// DeleteNodeProp stages a tombstone for k on n.
func (o *Overlay) DeleteNodeProp(n model.NodeId, k model.PropKeyId) {
	nd := o.nodeDeltaForWrite(n)
	nd.Props[k] = nil
}

// AddNodeLabel stages l as attached to n, cancelling a pending removal of
// the same label if one is staged.
func (o *Overlay) AddNodeLabel(n model.NodeId, l model.LabelId) {
	nd := o.nodeDeltaForWrite(n)
	nd.LabelsDeleted = removeLabel(nd.LabelsDeleted, l)
	if !hasLabel(nd.Labels, l) {
		nd.Labels = append(nd.Labels, l)
	}
}

// DeleteNodeLabel stages l as removed from n, cancelling a pending add of
// the same label if one is staged.
func (o *Overlay) DeleteNodeLabel(n model.NodeId, l model.LabelId) {
	nd := o.nodeDeltaForWrite(n)
	nd.Labels = removeLabel(nd.Labels, l)
	if !hasLabel(nd.LabelsDeleted, l) {
		nd.LabelsDeleted = append(nd.LabelsDeleted, l)
	}
}

func hasLabel(labels []model.LabelId, l model.LabelId) bool {
	for _, x := range labels {
		if x == l {
			return true
		}
	}
	return false
}

func removeLabel(labels []model.LabelId, l model.LabelId) []model.LabelId {
	for i, x := range labels {
		if x == l {
			return append(labels[:i], labels[i+1:]...)
		}
	}
	return labels
}

// --- edge mutations ---

// AddEdge implements cancellation rule I2/I1: an add on a pending delete
// cancels the delete; otherwise it's a fresh add, mirrored on both sides.
func (o *Overlay) AddEdge(s model.NodeId, e model.EtypeId, d model.NodeId) {
	outPatch := EdgePatch{Etype: e, Other: d}
	inPatch := EdgePatch{Etype: e, Other: s}

	if set, ok := o.outDel[s]; ok {
		if _, present := set[outPatch]; present {
			delete(set, outPatch)
			if inSet, ok := o.inDel[d]; ok {
				delete(inSet, inPatch)
			}
			o.recordIncomingSource(d, s)
			return
		}
	}

	o.addToSet(o.outAdd, s, outPatch)
	o.addToSet(o.inAdd, d, inPatch)
	o.recordIncomingSource(d, s)
}

// DeleteEdge mirrors AddEdge's cancellation for the delete direction.
func (o *Overlay) DeleteEdge(s model.NodeId, e model.EtypeId, d model.NodeId) {
	outPatch := EdgePatch{Etype: e, Other: d}
	inPatch := EdgePatch{Etype: e, Other: s}

	if set, ok := o.outAdd[s]; ok {
		if _, present := set[outPatch]; present {
			delete(set, outPatch)
			if inSet, ok := o.inAdd[d]; ok {
				delete(inSet, inPatch)
			}
			return
		}
	}

	o.addToSet(o.outDel, s, outPatch)
	o.addToSet(o.inDel, d, inPatch)
}

func (o *Overlay) addToSet(m map[model.NodeId]map[EdgePatch]struct{}, n model.NodeId, p EdgePatch) {
	set, ok := m[n]
	if !ok {
		set = make(map[EdgePatch]struct{})
		m[n] = set
	}
	set[p] = struct{}{}
}

func (o *Overlay) recordIncomingSource(dst, src model.NodeId) {
	set, ok := o.incomingEdgeSources[dst]
	if !ok {
		set = make(map[model.NodeId]struct{})
		o.incomingEdgeSources[dst] = set
	}
	set[src] = struct{}{}
}

// SetEdgeProp stages k=v on the edge (s,e,d).
func (o *Overlay) SetEdgeProp(s model.NodeId, e model.EtypeId, d model.NodeId, k model.PropKeyId, v model.PropValue) {
	key := edgeKey{Src: s, Etype: e, Dst: d}
	m, ok := o.edgeProps[key]
	if !ok {
		m = make(map[model.PropKeyId]*model.PropValue)
		o.edgeProps[key] = m
	}
	vv := v
	m[k] = &vv
}

// DeleteEdgeProp stages a tombstone for k on edge (s,e,d).
func (o *Overlay) DeleteEdgeProp(s model.NodeId, e model.EtypeId, d model.NodeId, k model.PropKeyId) {
	key := edgeKey{Src: s, Etype: e, Dst: d}
	m, ok := o.edgeProps[key]
	if !ok {
		m = make(map[model.PropKeyId]*model.PropValue)
		o.edgeProps[key] = m
	}
	m[k] = nil
}

// --- schema ---

func (o *Overlay) DefineLabel(id model.LabelId, name string)     { o.newLabels[id] = name }
func (o *Overlay) DefineEtype(id model.EtypeId, name string)     { o.newEtypes[id] = name }
func (o *Overlay) DefinePropkey(id model.PropKeyId, name string) { o.newPropkeys[id] = name }

// --- vectors ---

// SetNodeVector stages v for (n,k); a nil slice is never passed here (use
// DeleteNodeVector for tombstones).
func (o *Overlay) SetNodeVector(n model.NodeId, k model.PropKeyId, v []float32) {
	vec := append([]float32(nil), v...)
	o.pendingVectors[VectorKey{Node: n, Key: k}] = &vec
}

// DeleteNodeVector stages a tombstone for (n,k).
func (o *Overlay) DeleteNodeVector(n model.NodeId, k model.PropKeyId) {
	o.pendingVectors[VectorKey{Node: n, Key: k}] = nil
}

// PendingVector returns (vector, tombstone, present) for (n,k).
func (o *Overlay) PendingVector(n model.NodeId, k model.PropKeyId) (v []float32, tombstone bool, present bool) {
	p, ok := o.pendingVectors[VectorKey{Node: n, Key: k}]
	if !ok {
		return nil, false, false
	}
	if p == nil {
		return nil, true, true
	}
	return *p, false, true
}

// PendingVectors exposes the full staged-vector map for drain-on-commit.
func (o *Overlay) PendingVectors() map[VectorKey]*[]float32 {
	return o.pendingVectors
}
