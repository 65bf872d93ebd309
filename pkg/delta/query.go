package delta

import "github.com/bobboyms/storage-engine/pkg/model"

// IsEdgeAdded reports whether (s,e,d) is staged as an add.
func (o *Overlay) IsEdgeAdded(s model.NodeId, e model.EtypeId, d model.NodeId) bool {
	set, ok := o.outAdd[s]
	if !ok {
		return false
	}
	_, present := set[EdgePatch{Etype: e, Other: d}]
	return present
}

// IsEdgeDeleted reports whether (s,e,d) is staged as a delete.
func (o *Overlay) IsEdgeDeleted(s model.NodeId, e model.EtypeId, d model.NodeId) bool {
	set, ok := o.outDel[s]
	if !ok {
		return false
	}
	_, present := set[EdgePatch{Etype: e, Other: d}]
	return present
}

// IsNodeCreated reports whether n was created in this delta.
func (o *Overlay) IsNodeCreated(n model.NodeId) bool {
	_, ok := o.createdNodes[n]
	return ok
}

// IsNodeDeleted reports whether n (a pre-existing snapshot node) is staged
// for deletion.
func (o *Overlay) IsNodeDeleted(n model.NodeId) bool {
	_, ok := o.deletedNodes[n]
	return ok
}

// GetNodeDelta returns the staged NodeDelta for n, checking created then
// modified, or nil if n has no staged changes.
func (o *Overlay) GetNodeDelta(n model.NodeId) *NodeDelta {
	if nd, ok := o.createdNodes[n]; ok {
		return nd
	}
	if nd, ok := o.modifiedNodes[n]; ok {
		return nd
	}
	return nil
}

// GetNodeProp implements the three-way result spec.md §4.3 requires:
// (value, true, false) for a set property, (zero, true, true) for a
// tombstone, (zero, false, false) for "not present in delta at all".
func (o *Overlay) GetNodeProp(n model.NodeId, k model.PropKeyId) (v model.PropValue, present bool, tombstone bool) {
	nd := o.GetNodeDelta(n)
	if nd == nil {
		return model.PropValue{}, false, false
	}
	p, ok := nd.Props[k]
	if !ok {
		return model.PropValue{}, false, false
	}
	if p == nil {
		return model.PropValue{}, true, true
	}
	return *p, true, false
}

// GetEdgeProp mirrors GetNodeProp for edge properties.
func (o *Overlay) GetEdgeProp(s model.NodeId, e model.EtypeId, d model.NodeId, k model.PropKeyId) (v model.PropValue, present bool, tombstone bool) {
	m, ok := o.edgeProps[edgeKey{Src: s, Etype: e, Dst: d}]
	if !ok {
		return model.PropValue{}, false, false
	}
	p, ok := m[k]
	if !ok {
		return model.PropValue{}, false, false
	}
	if p == nil {
		return model.PropValue{}, true, true
	}
	return *p, true, false
}

// GetNodeByKey resolves a key through the delta's key index, honoring
// tombstones (a key explicitly deleted in this delta returns not-found
// even if it would otherwise still resolve to something stale).
func (o *Overlay) GetNodeByKey(key string) (model.NodeId, bool) {
	if _, deleted := o.keyIndexDeleted[key]; deleted {
		return 0, false
	}
	id, ok := o.keyIndex[key]
	return id, ok
}

// OutEdgesAdded returns the set of staged out-edge adds for n.
func (o *Overlay) OutEdgesAdded(n model.NodeId) []EdgePatch {
	return setToSlice(o.outAdd[n])
}

// OutEdgesDeleted returns the set of staged out-edge deletes for n.
func (o *Overlay) OutEdgesDeleted(n model.NodeId) []EdgePatch {
	return setToSlice(o.outDel[n])
}

// InEdgesAdded returns the set of staged in-edge adds for n.
func (o *Overlay) InEdgesAdded(n model.NodeId) []EdgePatch {
	return setToSlice(o.inAdd[n])
}

// InEdgesDeleted returns the set of staged in-edge deletes for n.
func (o *Overlay) InEdgesDeleted(n model.NodeId) []EdgePatch {
	return setToSlice(o.inDel[n])
}

func setToSlice(set map[EdgePatch]struct{}) []EdgePatch {
	if len(set) == 0 {
		return nil
	}
	out := make([]EdgePatch, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

// NewLabels, NewEtypes, NewPropkeys expose schema names staged this delta,
// read by the checkpoint path when folding schema into the snapshot.
func (o *Overlay) NewLabels() map[model.LabelId]string     { return o.newLabels }
func (o *Overlay) NewEtypes() map[model.EtypeId]string     { return o.newEtypes }
func (o *Overlay) NewPropkeys() map[model.PropKeyId]string { return o.newPropkeys }

// CreatedNodes, ModifiedNodes, DeletedNodes expose the raw maps for the
// checkpoint's collect-graph-data pass.
func (o *Overlay) CreatedNodes() map[model.NodeId]*NodeDelta  { return o.createdNodes }
func (o *Overlay) ModifiedNodes() map[model.NodeId]*NodeDelta { return o.modifiedNodes }
func (o *Overlay) DeletedNodes() map[model.NodeId]struct{}    { return o.deletedNodes }
func (o *Overlay) EdgePropsAll() map[edgeKeyExported]map[model.PropKeyId]*model.PropValue {
	out := make(map[edgeKeyExported]map[model.PropKeyId]*model.PropValue, len(o.edgeProps))
	for k, v := range o.edgeProps {
		out[edgeKeyExported(k)] = v
	}
	return out
}

// edgeKeyExported mirrors edgeKey as the key type of EdgePropsAll. The type
// itself is unexported, but its fields are exported, so callers outside
// this package (the checkpoint path in pkg/raydb) can range over the map
// and read Src/Etype/Dst from each key.
type edgeKeyExported struct {
	Src   model.NodeId
	Etype model.EtypeId
	Dst   model.NodeId
}

// Counters returns simple size counters used by tests and diagnostics.
type Counters struct {
	CreatedNodes  int
	ModifiedNodes int
	DeletedNodes  int
	OutAdds       int
	OutDels       int
}

func (o *Overlay) Counters() Counters {
	c := Counters{
		CreatedNodes:  len(o.createdNodes),
		ModifiedNodes: len(o.modifiedNodes),
		DeletedNodes:  len(o.deletedNodes),
	}
	for _, set := range o.outAdd {
		c.OutAdds += len(set)
	}
	for _, set := range o.outDel {
		c.OutDels += len(set)
	}
	return c
}
