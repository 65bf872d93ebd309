package snapshot

import (
	"encoding/binary"
	"math"
	"sort"
	"strconv"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/bobboyms/storage-engine/pkg/model"
)

// Compressor is the pluggable hook spec.md §4.5 calls "optional
// compression" — the snapshot writer/reader call through it, but never
// implement a codec themselves (compression internals are a Non-goal).
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// VectorStoreInput is one PropKeyId's committed vectors, fed in by the
// checkpoint path (pkg/vectorstore Store.All()/Dimension()).
type VectorStoreInput struct {
	PropKey   model.PropKeyId
	Dimension int
	Vectors   map[model.NodeId][]float32
}

// BuildInput bundles everything Writer.Build needs, mirroring the
// parameter list spec.md §4.5 gives the snapshot writer.
type BuildInput struct {
	Generation   uint64
	Nodes        []model.NodeData
	Edges        []model.EdgeData
	Labels       map[model.LabelId]string
	Etypes       map[model.EtypeId]string
	Propkeys     map[model.PropKeyId]string
	VectorStores []VectorStoreInput
	Compressor   Compressor // nil = no compression
}

// Writer builds a contiguous snapshot buffer from merged graph state.
type Writer struct{}

// NewWriter returns a Writer. Stateless; exists for symmetry with Reader
// and to leave room for writer-side options later.
func NewWriter() *Writer { return &Writer{} }

// Build assembles the full snapshot byte buffer per spec.md §4.5: assign
// phys indices preserving NodeId order, build CSR edge arrays, append node
// keys to the NodeKeys pool, emit the key index (which appends its own
// copy of each key to that pool), set HasVectors if any node property is
// a vector, and (if any vector stores were given) the
// VectorStoreIndex/Data sections.
func (w *Writer) Build(in BuildInput) ([]byte, error) {
	nodes := append([]model.NodeData(nil), in.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Id < nodes[j].Id })

	physOf := make(map[model.NodeId]uint32, len(nodes))
	for i, n := range nodes {
		physOf[n.Id] = uint32(i)
	}

	outByNode := make(map[model.NodeId][]model.EdgeData)
	inByNode := make(map[model.NodeId][]model.EdgeData)
	for _, e := range in.Edges {
		if _, ok := physOf[e.Src]; !ok {
			continue
		}
		if _, ok := physOf[e.Dst]; !ok {
			continue
		}
		outByNode[e.Src] = append(outByNode[e.Src], e)
		inByNode[e.Dst] = append(inByNode[e.Dst], e)
	}
	for _, list := range outByNode {
		sort.Slice(list, func(i, j int) bool {
			if list[i].Etype != list[j].Etype {
				return list[i].Etype < list[j].Etype
			}
			return list[i].Dst < list[j].Dst
		})
	}

	var nodeKeys, nodeProps, edgeProps, outEdgesBuf, inEdgesBuf, labelIdsBlob []byte
	nodeTable := make([]byte, 0, len(nodes)*nodeRecordLen)
	keyIndexEntries := make([]keyIndexEntry, 0)

	type edgeIdentity struct {
		Src   model.NodeId
		Etype model.EtypeId
		Dst   model.NodeId
	}
	outGlobalIdx := make(map[edgeIdentity]uint32, len(in.Edges))
	outStarts := make([]uint32, len(nodes))
	inStarts := make([]uint32, len(nodes))
	nodeRecs := make([][]byte, len(nodes))

	// Pass 1: node fixed fields, props and labels, plus the full
	// out-edges array (global record indices only stabilize once every
	// node's out-edges have been appended in node order).
	for phys, n := range nodes {
		rec := make([]byte, nodeRecordLen)
		binary.LittleEndian.PutUint64(rec[0:8], uint64(n.Id))

		keyOff, keyLen := noKeySentinel, uint32(0)
		if n.Key != "" {
			keyOff = uint64(len(nodeKeys))
			keyLen = uint32(len(n.Key))
			nodeKeys = append(nodeKeys, n.Key...)
			keyIndexEntries = append(keyIndexEntries, keyIndexEntry{key: n.Key, nodeId: n.Id})
		}
		binary.LittleEndian.PutUint64(rec[8:16], keyOff)
		binary.LittleEndian.PutUint32(rec[16:20], keyLen)

		labelsOff := uint32(len(labelIdsBlob) / 4)
		for _, l := range n.Labels {
			lb := make([]byte, 4)
			binary.LittleEndian.PutUint32(lb, uint32(l))
			labelIdsBlob = append(labelIdsBlob, lb...)
		}
		binary.LittleEndian.PutUint32(rec[20:24], labelsOff)
		binary.LittleEndian.PutUint32(rec[24:28], uint32(len(n.Labels)))

		propBytes, err := marshalProps(n.Props)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint64(rec[28:36], uint64(len(nodeProps)))
		binary.LittleEndian.PutUint32(rec[36:40], uint32(len(propBytes)))
		nodeProps = append(nodeProps, propBytes...)

		outList := outByNode[n.Id]
		outStarts[phys] = uint32(len(outEdgesBuf) / outEdgeRecordLen)
		for _, e := range outList {
			epBytes, err := marshalProps(e.Props)
			if err != nil {
				return nil, err
			}
			erec := make([]byte, outEdgeRecordLen)
			binary.LittleEndian.PutUint32(erec[0:4], uint32(e.Etype))
			binary.LittleEndian.PutUint32(erec[4:8], physOf[e.Dst])
			binary.LittleEndian.PutUint64(erec[8:16], uint64(len(edgeProps)))
			binary.LittleEndian.PutUint32(erec[16:20], uint32(len(epBytes)))
			edgeProps = append(edgeProps, epBytes...)
			globalIdx := uint32(len(outEdgesBuf) / outEdgeRecordLen)
			outGlobalIdx[edgeIdentity{Src: e.Src, Etype: e.Etype, Dst: e.Dst}] = globalIdx
			outEdgesBuf = append(outEdgesBuf, erec...)
		}
		binary.LittleEndian.PutUint32(rec2(rec, 40), outStarts[phys])
		binary.LittleEndian.PutUint32(rec2(rec, 44), uint32(len(outList)))

		nodeRecs[phys] = rec
	}

	// Pass 2: in-edges, now that every edge's global out-array index is
	// known regardless of whether its source node sorts before or after
	// its destination.
	for phys, n := range nodes {
		rec := nodeRecs[phys]
		inList := inByNode[n.Id]
		inStarts[phys] = uint32(len(inEdgesBuf) / inEdgeRecordLen)
		for _, e := range inList {
			erec := make([]byte, inEdgeRecordLen)
			binary.LittleEndian.PutUint32(erec[0:4], physOf[e.Src])
			binary.LittleEndian.PutUint32(erec[4:8], uint32(e.Etype))
			binary.LittleEndian.PutUint32(erec[8:12], outGlobalIdx[edgeIdentity{Src: e.Src, Etype: e.Etype, Dst: e.Dst}])
			inEdgesBuf = append(inEdgesBuf, erec...)
		}
		binary.LittleEndian.PutUint32(rec2(rec, 48), inStarts[phys])
		binary.LittleEndian.PutUint32(rec2(rec, 52), uint32(len(inList)))
		nodeTable = append(nodeTable, rec...)
	}

	sort.Slice(keyIndexEntries, func(i, j int) bool { return keyIndexEntries[i].key < keyIndexEntries[j].key })
	keyIndexBuf := make([]byte, 0, len(keyIndexEntries)*keyIndexRecordLen)
	for _, e := range keyIndexEntries {
		off := uint64(len(nodeKeys))
		l := uint32(len(e.key))
		nodeKeys = append(nodeKeys, e.key...)
		rec := make([]byte, keyIndexRecordLen)
		binary.LittleEndian.PutUint64(rec[0:8], off)
		binary.LittleEndian.PutUint32(rec[8:12], l)
		binary.LittleEndian.PutUint64(rec[12:20], uint64(e.nodeId))
		keyIndexBuf = append(keyIndexBuf, rec...)
	}

	labelsBuf := encodeNameTable(in.Labels, func(id model.LabelId) uint32 { return uint32(id) })
	etypesBuf := encodeNameTable(in.Etypes, func(id model.EtypeId) uint32 { return uint32(id) })
	propkeysBuf := encodeNameTable(in.Propkeys, func(id model.PropKeyId) uint32 { return uint32(id) })

	var flags uint32
	for _, n := range nodes {
		for _, v := range n.Props {
			if v.Kind == model.KindVectorF32 {
				flags |= HasVectors
			}
		}
	}
	var vsIndexBuf, vsDataBuf []byte
	if len(in.VectorStores) > 0 {
		flags |= HasVectorStores
		vsIndexBuf, vsDataBuf = encodeVectorStores(in.VectorStores)
	}

	sections := []struct {
		id   SectionID
		data []byte
	}{
		{SectionNodeTable, appendBlob(nodeTable, labelIdsBlob)},
		{SectionNodeKeys, nodeKeys},
		{SectionLabels, labelsBuf},
		{SectionEtypes, etypesBuf},
		{SectionPropkeys, propkeysBuf},
		{SectionNodeProps, nodeProps},
		{SectionOutEdges, outEdgesBuf},
		{SectionInEdges, inEdgesBuf},
		{SectionEdgeProps, edgeProps},
		{SectionKeyIndex, keyIndexBuf},
	}
	if len(in.VectorStores) > 0 {
		sections = append(sections,
			struct {
				id   SectionID
				data []byte
			}{SectionVectorStoreIndex, vsIndexBuf},
			struct {
				id   SectionID
				data []byte
			}{SectionVectorStoreData, vsDataBuf},
		)
	}

	dirEntries := make([]dirEntry, len(sections))
	bodyOffset := uint64(headerLen + len(sections)*dirEntryLen)
	body := make([]byte, 0)
	for i, s := range sections {
		data := s.data
		if in.Compressor != nil && len(data) > 0 {
			compressed, err := in.Compressor.Compress(data)
			if err != nil {
				return nil, err
			}
			data = compressed
		}
		dirEntries[i] = dirEntry{ID: s.id, Offset: bodyOffset, Length: uint64(len(data))}
		bodyOffset += uint64(len(data))
		body = append(body, data...)
	}

	header := Header{
		Generation:  in.Generation,
		NumNodes:    uint64(len(nodes)),
		NumEdges:    uint64(len(in.Edges)),
		NumLabels:   uint32(len(in.Labels)),
		NumEtypes:   uint32(len(in.Etypes)),
		NumPropkeys: uint32(len(in.Propkeys)),
		MaxNodeId:   maxNodeId(nodes),
		Flags:       flags,
	}
	out := encodeHeader(header, dirEntries)
	out = append(out, body...)
	return out, nil
}

const (
	noKeySentinel uint64 = ^uint64(0)

	nodeRecordLen     = 56
	outEdgeRecordLen  = 20
	inEdgeRecordLen   = 12
	keyIndexRecordLen = 20
)

type keyIndexEntry struct {
	key    string
	nodeId model.NodeId
}

// rec2 is a small helper so the node-record field writes above read as
// positional slices without repeating the bounds arithmetic inline.
func rec2(rec []byte, off int) []byte { return rec[off : off+4] }

func appendBlob(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

func maxNodeId(nodes []model.NodeData) uint64 {
	var max uint64
	for _, n := range nodes {
		if uint64(n.Id) > max {
			max = uint64(n.Id)
		}
	}
	return max
}

func marshalProps(props map[model.PropKeyId]model.PropValue) ([]byte, error) {
	if len(props) == 0 {
		return nil, nil
	}
	doc := bson.D{}
	for k, v := range props {
		doc = append(doc, bson.E{Key: strconv.Itoa(int(k)), Value: v})
	}
	return bson.Marshal(doc)
}

func unmarshalProps(data []byte) (map[model.PropKeyId]model.PropValue, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := make(map[model.PropKeyId]model.PropValue, len(doc))
	for _, e := range doc {
		id, err := strconv.Atoi(e.Key)
		if err != nil {
			continue
		}
		raw, err := bson.Marshal(bson.D{{Key: "v", Value: e.Value}})
		if err != nil {
			return nil, err
		}
		var wrapper struct {
			V model.PropValue `bson:"v"`
		}
		if err := bson.Unmarshal(raw, &wrapper); err != nil {
			return nil, err
		}
		out[model.PropKeyId(id)] = wrapper.V
	}
	return out, nil
}

func encodeNameTable[ID ~uint32](names map[ID]string, toU32 func(ID) uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(names)))
	for id, name := range names {
		entry := make([]byte, 4+2+len(name))
		binary.LittleEndian.PutUint32(entry[0:4], toU32(id))
		binary.LittleEndian.PutUint16(entry[4:6], uint16(len(name)))
		copy(entry[6:], name)
		buf = append(buf, entry...)
	}
	return buf
}

func decodeNameTable[ID ~uint32](buf []byte, fromU32 func(uint32) ID) (map[ID]string, error) {
	if len(buf) < 4 {
		return nil, errInvalid("name table truncated")
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	out := make(map[ID]string, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+6 > len(buf) {
			return nil, errInvalid("name table entry truncated")
		}
		id := binary.LittleEndian.Uint32(buf[off : off+4])
		nameLen := int(binary.LittleEndian.Uint16(buf[off+4 : off+6]))
		off += 6
		if off+nameLen > len(buf) {
			return nil, errInvalid("name table name truncated")
		}
		out[fromU32(id)] = string(buf[off : off+nameLen])
		off += nameLen
	}
	return out, nil
}

func encodeVectorStores(stores []VectorStoreInput) (indexBuf, dataBuf []byte) {
	indexBuf = make([]byte, 4)
	binary.LittleEndian.PutUint32(indexBuf, uint32(len(stores)))

	for _, s := range stores {
		entryOffset := uint64(len(dataBuf))
		ids := make([]model.NodeId, 0, len(s.Vectors))
		for id := range s.Vectors {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			vec := s.Vectors[id]
			entry := make([]byte, 8+len(vec)*4)
			binary.LittleEndian.PutUint64(entry[0:8], uint64(id))
			for i, f := range vec {
				binary.LittleEndian.PutUint32(entry[8+i*4:12+i*4], math.Float32bits(f))
			}
			dataBuf = append(dataBuf, entry...)
		}
		entryLen := uint64(len(dataBuf)) - entryOffset

		idx := make([]byte, 4+4+8+8+4)
		binary.LittleEndian.PutUint32(idx[0:4], uint32(s.PropKey))
		binary.LittleEndian.PutUint32(idx[4:8], uint32(s.Dimension))
		binary.LittleEndian.PutUint64(idx[8:16], entryOffset)
		binary.LittleEndian.PutUint64(idx[16:24], entryLen)
		binary.LittleEndian.PutUint32(idx[24:28], uint32(len(ids)))
		indexBuf = append(indexBuf, idx...)
	}
	return indexBuf, dataBuf
}
