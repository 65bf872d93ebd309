package snapshot

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/bobboyms/storage-engine/pkg/model"
	"github.com/bobboyms/storage-engine/pkg/rerrors"
)

// OutEdgeView is one out-edge as seen from iter_out_edges.
type OutEdgeView struct {
	DstPhys uint32
	Etype   model.EtypeId
	EdgeIdx uint32
}

// InEdgeView is one in-edge as seen from iter_in_edges.
type InEdgeView struct {
	SrcPhys uint32
	Etype   model.EtypeId
	OutIdx  uint32
}

// Reader parses a memory-mapped (or plain, for tests) byte range holding a
// snapshot built by Writer.Build. All lookups are by physical index;
// phys -> NodeId is a dense array ordered by NodeId and NodeId -> phys is
// a hash map, both O(1).
type Reader struct {
	raw        []byte
	Header     Header
	compressor Compressor

	sections map[SectionID][]byte

	nodeIds []model.NodeId // phys -> NodeId, ascending
	idToPhys map[model.NodeId]uint32

	labels   map[model.LabelId]string
	etypes   map[model.EtypeId]string
	propkeys map[model.PropKeyId]string

	keyIndexKeys []string
	keyIndexIds  []model.NodeId
}

// Open parses data as a snapshot. If compressor is non-nil, every
// section's bytes are passed through Decompress before use.
func Open(data []byte, compressor Compressor) (*Reader, error) {
	header, dir, err := decodeHeader(data)
	if err != nil {
		return nil, &rerrors.InvalidSnapshotError{Reason: err.Error()}
	}

	r := &Reader{raw: data, Header: header, compressor: compressor, sections: make(map[SectionID][]byte, len(dir))}
	for _, d := range dir {
		if d.Offset+d.Length > uint64(len(data)) {
			return nil, &rerrors.InvalidSnapshotError{Reason: "section out of bounds"}
		}
		section := data[d.Offset : d.Offset+d.Length]
		if compressor != nil && len(section) > 0 {
			section, err = compressor.Decompress(section)
			if err != nil {
				return nil, &rerrors.InvalidSnapshotError{Reason: "section decompress failed: " + err.Error()}
			}
		}
		r.sections[d.ID] = section
	}

	if err := r.parseNodeTable(); err != nil {
		return nil, err
	}
	r.labels, err = decodeNameTable(r.sections[SectionLabels], func(u uint32) model.LabelId { return model.LabelId(u) })
	if err != nil {
		return nil, &rerrors.InvalidSnapshotError{Reason: "labels: " + err.Error()}
	}
	r.etypes, err = decodeNameTable(r.sections[SectionEtypes], func(u uint32) model.EtypeId { return model.EtypeId(u) })
	if err != nil {
		return nil, &rerrors.InvalidSnapshotError{Reason: "etypes: " + err.Error()}
	}
	r.propkeys, err = decodeNameTable(r.sections[SectionPropkeys], func(u uint32) model.PropKeyId { return model.PropKeyId(u) })
	if err != nil {
		return nil, &rerrors.InvalidSnapshotError{Reason: "propkeys: " + err.Error()}
	}
	if err := r.parseKeyIndex(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) parseNodeTable() error {
	buf := r.sections[SectionNodeTable]
	n := int(r.Header.NumNodes)
	need := n * nodeRecordLen
	if len(buf) < need {
		return &rerrors.InvalidSnapshotError{Reason: "node table truncated"}
	}
	r.nodeIds = make([]model.NodeId, n)
	r.idToPhys = make(map[model.NodeId]uint32, n)
	for phys := 0; phys < n; phys++ {
		rec := buf[phys*nodeRecordLen : (phys+1)*nodeRecordLen]
		id := model.NodeId(binary.LittleEndian.Uint64(rec[0:8]))
		r.nodeIds[phys] = id
		r.idToPhys[id] = uint32(phys)
	}
	return nil
}

func (r *Reader) nodeRecord(phys uint32) ([]byte, bool) {
	buf := r.sections[SectionNodeTable]
	start := int(phys) * nodeRecordLen
	end := start + nodeRecordLen
	if start < 0 || end > len(buf) || int(phys) >= len(r.nodeIds) {
		return nil, false
	}
	return buf[start:end], true
}

// GetNodeId resolves phys to its logical NodeId.
func (r *Reader) GetNodeId(phys uint32) (model.NodeId, bool) {
	if int(phys) >= len(r.nodeIds) {
		return 0, false
	}
	return r.nodeIds[phys], true
}

// GetPhysNode resolves a NodeId to its physical index.
func (r *Reader) GetPhysNode(id model.NodeId) (uint32, bool) {
	p, ok := r.idToPhys[id]
	return p, ok
}

// HasNode reports whether id exists in the snapshot.
func (r *Reader) HasNode(id model.NodeId) bool {
	_, ok := r.idToPhys[id]
	return ok
}

// GetNodeKey returns the node's key, if it has one.
func (r *Reader) GetNodeKey(phys uint32) (string, bool) {
	rec, ok := r.nodeRecord(phys)
	if !ok {
		return "", false
	}
	keyOff := binary.LittleEndian.Uint64(rec[8:16])
	keyLen := binary.LittleEndian.Uint32(rec[16:20])
	if keyOff == noKeySentinel {
		return "", false
	}
	keys := r.sections[SectionNodeKeys]
	if keyOff+uint64(keyLen) > uint64(len(keys)) {
		return "", false
	}
	return string(keys[keyOff : keyOff+uint64(keyLen)]), true
}

// GetNodeLabels returns the label ids carried by phys.
func (r *Reader) GetNodeLabels(phys uint32) []model.LabelId {
	rec, ok := r.nodeRecord(phys)
	if !ok {
		return nil
	}
	labelsOff := binary.LittleEndian.Uint32(rec[20:24])
	labelsCount := binary.LittleEndian.Uint32(rec[24:28])
	blob := r.sections[SectionNodeTable][r.labelBlobStart():]
	out := make([]model.LabelId, 0, labelsCount)
	for i := uint32(0); i < labelsCount; i++ {
		off := (labelsOff + i) * 4
		if int(off+4) > len(blob) {
			break
		}
		out = append(out, model.LabelId(binary.LittleEndian.Uint32(blob[off:off+4])))
	}
	return out
}

func (r *Reader) labelBlobStart() int {
	return int(r.Header.NumNodes) * nodeRecordLen
}

// GetNodeProps returns the full decoded property map for phys.
func (r *Reader) GetNodeProps(phys uint32) (map[model.PropKeyId]model.PropValue, error) {
	rec, ok := r.nodeRecord(phys)
	if !ok {
		return nil, &rerrors.InvalidQueryError{Reason: "phys out of range"}
	}
	off := binary.LittleEndian.Uint64(rec[28:36])
	l := binary.LittleEndian.Uint32(rec[36:40])
	blob := r.sections[SectionNodeProps]
	if off+uint64(l) > uint64(len(blob)) {
		return nil, &rerrors.InvalidSnapshotError{Reason: "node props out of bounds"}
	}
	return unmarshalProps(blob[off : off+uint64(l)])
}

// GetNodeProp returns one property, if set.
func (r *Reader) GetNodeProp(phys uint32, key model.PropKeyId) (model.PropValue, bool, error) {
	props, err := r.GetNodeProps(phys)
	if err != nil {
		return model.PropValue{}, false, err
	}
	v, ok := props[key]
	return v, ok, nil
}

// IterOutEdges returns every out-edge of phys, sorted by (etype, dst) at
// write time.
func (r *Reader) IterOutEdges(phys uint32) ([]OutEdgeView, error) {
	rec, ok := r.nodeRecord(phys)
	if !ok {
		return nil, &rerrors.InvalidQueryError{Reason: "phys out of range"}
	}
	start := binary.LittleEndian.Uint32(rec[40:44])
	count := binary.LittleEndian.Uint32(rec[44:48])
	buf := r.sections[SectionOutEdges]
	out := make([]OutEdgeView, 0, count)
	for i := uint32(0); i < count; i++ {
		idx := start + i
		off := int(idx) * outEdgeRecordLen
		if off+outEdgeRecordLen > len(buf) {
			return nil, &rerrors.InvalidSnapshotError{Reason: "out edges truncated"}
		}
		e := buf[off : off+outEdgeRecordLen]
		out = append(out, OutEdgeView{
			Etype:   model.EtypeId(binary.LittleEndian.Uint32(e[0:4])),
			DstPhys: binary.LittleEndian.Uint32(e[4:8]),
			EdgeIdx: idx,
		})
	}
	return out, nil
}

// IterInEdges returns every in-edge of phys.
func (r *Reader) IterInEdges(phys uint32) ([]InEdgeView, error) {
	rec, ok := r.nodeRecord(phys)
	if !ok {
		return nil, &rerrors.InvalidQueryError{Reason: "phys out of range"}
	}
	start := binary.LittleEndian.Uint32(rec[48:52])
	count := binary.LittleEndian.Uint32(rec[52:56])
	buf := r.sections[SectionInEdges]
	out := make([]InEdgeView, 0, count)
	for i := uint32(0); i < count; i++ {
		off := int(start+i) * inEdgeRecordLen
		if off+inEdgeRecordLen > len(buf) {
			return nil, &rerrors.InvalidSnapshotError{Reason: "in edges truncated"}
		}
		e := buf[off : off+inEdgeRecordLen]
		out = append(out, InEdgeView{
			SrcPhys: binary.LittleEndian.Uint32(e[0:4]),
			Etype:   model.EtypeId(binary.LittleEndian.Uint32(e[4:8])),
			OutIdx:  binary.LittleEndian.Uint32(e[8:12]),
		})
	}
	return out, nil
}

// FindEdgeIndex returns the global out-edge index of (srcPhys, etype,
// dstPhys), if present.
func (r *Reader) FindEdgeIndex(srcPhys uint32, etype model.EtypeId, dstPhys uint32) (uint32, bool) {
	edges, err := r.IterOutEdges(srcPhys)
	if err != nil {
		return 0, false
	}
	for _, e := range edges {
		if e.Etype == etype && e.DstPhys == dstPhys {
			return e.EdgeIdx, true
		}
	}
	return 0, false
}

// HasEdge reports whether (srcPhys, etype, dstPhys) exists.
func (r *Reader) HasEdge(srcPhys uint32, etype model.EtypeId, dstPhys uint32) bool {
	_, ok := r.FindEdgeIndex(srcPhys, etype, dstPhys)
	return ok
}

// GetEdgeProps returns the decoded property map for the out-edge at
// edgeIdx (the global index IterOutEdges/IterInEdges hand back).
func (r *Reader) GetEdgeProps(edgeIdx uint32) (map[model.PropKeyId]model.PropValue, error) {
	buf := r.sections[SectionOutEdges]
	off := int(edgeIdx) * outEdgeRecordLen
	if off+outEdgeRecordLen > len(buf) {
		return nil, &rerrors.InvalidQueryError{Reason: "edge index out of range"}
	}
	e := buf[off : off+outEdgeRecordLen]
	propsOff := binary.LittleEndian.Uint64(e[8:16])
	propsLen := binary.LittleEndian.Uint32(e[16:20])
	blob := r.sections[SectionEdgeProps]
	if propsOff+uint64(propsLen) > uint64(len(blob)) {
		return nil, &rerrors.InvalidSnapshotError{Reason: "edge props out of bounds"}
	}
	return unmarshalProps(blob[propsOff : propsOff+uint64(propsLen)])
}

func (r *Reader) parseKeyIndex() error {
	buf := r.sections[SectionKeyIndex]
	if len(buf)%keyIndexRecordLen != 0 {
		return &rerrors.InvalidSnapshotError{Reason: "key index length not a multiple of record size"}
	}
	n := len(buf) / keyIndexRecordLen
	r.keyIndexKeys = make([]string, n)
	r.keyIndexIds = make([]model.NodeId, n)
	keys := r.sections[SectionNodeKeys]
	for i := 0; i < n; i++ {
		rec := buf[i*keyIndexRecordLen : (i+1)*keyIndexRecordLen]
		off := binary.LittleEndian.Uint64(rec[0:8])
		l := binary.LittleEndian.Uint32(rec[8:12])
		id := model.NodeId(binary.LittleEndian.Uint64(rec[12:20]))
		if off+uint64(l) > uint64(len(keys)) {
			return &rerrors.InvalidSnapshotError{Reason: "key index entry out of bounds"}
		}
		r.keyIndexKeys[i] = string(keys[off : off+uint64(l)])
		r.keyIndexIds[i] = id
	}
	return nil
}

// LookupByKey resolves a node key via binary search over the sorted key
// index section.
func (r *Reader) LookupByKey(key string) (model.NodeId, bool) {
	i := sort.SearchStrings(r.keyIndexKeys, key)
	if i < len(r.keyIndexKeys) && r.keyIndexKeys[i] == key {
		return r.keyIndexIds[i], true
	}
	return 0, false
}

// SectionBytes returns the raw (post-decompression) bytes of a section.
func (r *Reader) SectionBytes(id SectionID) []byte { return r.sections[id] }

func (r *Reader) GetLabelName(id model.LabelId) (string, bool) {
	name, ok := r.labels[id]
	return name, ok
}
func (r *Reader) GetEtypeName(id model.EtypeId) (string, bool) {
	name, ok := r.etypes[id]
	return name, ok
}
func (r *Reader) GetPropkeyName(id model.PropKeyId) (string, bool) {
	name, ok := r.propkeys[id]
	return name, ok
}

// Labels, Etypes and Propkeys return copies of the full name tables, used
// by the database controller to rebuild pkg/schema at open.
func (r *Reader) Labels() map[model.LabelId]string {
	out := make(map[model.LabelId]string, len(r.labels))
	for k, v := range r.labels {
		out[k] = v
	}
	return out
}
func (r *Reader) Etypes() map[model.EtypeId]string {
	out := make(map[model.EtypeId]string, len(r.etypes))
	for k, v := range r.etypes {
		out[k] = v
	}
	return out
}
func (r *Reader) Propkeys() map[model.PropKeyId]string {
	out := make(map[model.PropKeyId]string, len(r.propkeys))
	for k, v := range r.propkeys {
		out[k] = v
	}
	return out
}

// NumNodes returns the node count, for callers iterating phys indices
// 0..NumNodes-1.
func (r *Reader) NumNodes() int { return int(r.Header.NumNodes) }

// VectorStoreEntry is one parsed VectorStoreIndex directory row.
type VectorStoreEntry struct {
	PropKey   model.PropKeyId
	Dimension int
	Vectors   map[model.NodeId][]float32
}

// VectorStores parses the VectorStoreIndex/Data sections, if present.
func (r *Reader) VectorStores() ([]VectorStoreEntry, error) {
	if r.Header.Flags&HasVectorStores == 0 {
		return nil, nil
	}
	idx := r.sections[SectionVectorStoreIndex]
	data := r.sections[SectionVectorStoreData]
	if len(idx) < 4 {
		return nil, &rerrors.InvalidSnapshotError{Reason: "vector store index truncated"}
	}
	count := binary.LittleEndian.Uint32(idx[0:4])
	out := make([]VectorStoreEntry, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+28 > len(idx) {
			return nil, &rerrors.InvalidSnapshotError{Reason: "vector store index entry truncated"}
		}
		propKey := model.PropKeyId(binary.LittleEndian.Uint32(idx[off : off+4]))
		dimension := int(binary.LittleEndian.Uint32(idx[off+4 : off+8]))
		dataOff := binary.LittleEndian.Uint64(idx[off+8 : off+16])
		dataLen := binary.LittleEndian.Uint64(idx[off+16 : off+24])
		entryCount := binary.LittleEndian.Uint32(idx[off+24 : off+28])
		off += 28

		if dataOff+dataLen > uint64(len(data)) {
			return nil, &rerrors.InvalidSnapshotError{Reason: "vector store data out of bounds"}
		}
		section := data[dataOff : dataOff+dataLen]
		vectors := make(map[model.NodeId][]float32, entryCount)
		pos := 0
		entrySize := 8 + dimension*4
		for j := uint32(0); j < entryCount; j++ {
			if pos+entrySize > len(section) {
				return nil, &rerrors.InvalidSnapshotError{Reason: "vector store entry truncated"}
			}
			id := model.NodeId(binary.LittleEndian.Uint64(section[pos : pos+8]))
			vec := make([]float32, dimension)
			for k := 0; k < dimension; k++ {
				base := pos + 8 + k*4
				vec[k] = math.Float32frombits(binary.LittleEndian.Uint32(section[base : base+4]))
			}
			vectors[id] = vec
			pos += entrySize
		}
		out = append(out, VectorStoreEntry{PropKey: propKey, Dimension: dimension, Vectors: vectors})
	}
	return out, nil
}

// LegacyVectorProps scans GetNodeProps for KindVectorF32 entries, the
// fallback path for snapshots written before vector stores existed.
func (r *Reader) LegacyVectorProps(phys uint32) (map[model.PropKeyId][]float32, error) {
	props, err := r.GetNodeProps(phys)
	if err != nil {
		return nil, err
	}
	out := make(map[model.PropKeyId][]float32)
	for k, v := range props {
		if v.Kind == model.KindVectorF32 {
			out[k] = v.Vector
		}
	}
	return out, nil
}
