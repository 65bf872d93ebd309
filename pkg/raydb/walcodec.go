package raydb

import (
	"encoding/binary"
	"math"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/bobboyms/storage-engine/pkg/model"
)

// encodePropValue/decodePropValue give WAL payloads the same BSON
// PropValue<->bytes round trip pkg/snapshot's marshalProps uses, via a
// single-field bson.D document rather than a whole property map.
func encodePropValue(v model.PropValue) ([]byte, error) {
	return bson.Marshal(bson.D{{Key: "v", Value: v}})
}

func decodePropValue(data []byte) (model.PropValue, error) {
	var wrapper struct {
		V model.PropValue `bson:"v"`
	}
	if err := bson.Unmarshal(data, &wrapper); err != nil {
		return model.PropValue{}, err
	}
	return wrapper.V, nil
}

func putString(buf []byte, off int, s string) int {
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(s)))
	copy(buf[off+2:], s)
	return off + 2 + len(s)
}

func getString(buf []byte, off int) (string, int) {
	l := int(binary.LittleEndian.Uint16(buf[off : off+2]))
	return string(buf[off+2 : off+2+l]), off + 2 + l
}

func encodeCreateNode(id model.NodeId, key *string) []byte {
	k := ""
	if key != nil {
		k = *key
	}
	buf := make([]byte, 1+8+2+len(k))
	if key != nil {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint64(buf[1:9], uint64(id))
	putString(buf, 9, k)
	return buf
}

func decodeCreateNode(p []byte) (model.NodeId, *string) {
	hasKey := p[0] == 1
	id := model.NodeId(binary.LittleEndian.Uint64(p[1:9]))
	k, _ := getString(p, 9)
	if !hasKey {
		return id, nil
	}
	return id, &k
}

func encodeNodeId(id model.NodeId) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(id))
	return buf
}

func decodeNodeId(p []byte) model.NodeId { return model.NodeId(binary.LittleEndian.Uint64(p)) }

func encodeEdge(s model.NodeId, e model.EtypeId, d model.NodeId) []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(s))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(e))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(d))
	return buf
}

func decodeEdge(p []byte) (model.NodeId, model.EtypeId, model.NodeId) {
	s := model.NodeId(binary.LittleEndian.Uint64(p[0:8]))
	e := model.EtypeId(binary.LittleEndian.Uint32(p[8:12]))
	d := model.NodeId(binary.LittleEndian.Uint64(p[12:20]))
	return s, e, d
}

func encodeNodeProp(n model.NodeId, k model.PropKeyId, v model.PropValue) ([]byte, error) {
	vb, err := encodePropValue(v)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8+4+len(vb))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(n))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(k))
	copy(buf[12:], vb)
	return buf, nil
}

func decodeNodeProp(p []byte) (model.NodeId, model.PropKeyId, model.PropValue, error) {
	n := model.NodeId(binary.LittleEndian.Uint64(p[0:8]))
	k := model.PropKeyId(binary.LittleEndian.Uint32(p[8:12]))
	v, err := decodePropValue(p[12:])
	return n, k, v, err
}

func encodeNodePropKey(n model.NodeId, k model.PropKeyId) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(n))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(k))
	return buf
}

func decodeNodePropKey(p []byte) (model.NodeId, model.PropKeyId) {
	return model.NodeId(binary.LittleEndian.Uint64(p[0:8])), model.PropKeyId(binary.LittleEndian.Uint32(p[8:12]))
}

func encodeNodeLabel(n model.NodeId, l model.LabelId) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(n))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(l))
	return buf
}

func decodeNodeLabel(p []byte) (model.NodeId, model.LabelId) {
	return model.NodeId(binary.LittleEndian.Uint64(p[0:8])), model.LabelId(binary.LittleEndian.Uint32(p[8:12]))
}

func encodeEdgeProp(s model.NodeId, e model.EtypeId, d model.NodeId, k model.PropKeyId, v model.PropValue) ([]byte, error) {
	vb, err := encodePropValue(v)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 20+4+len(vb))
	copy(buf[0:20], encodeEdge(s, e, d))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(k))
	copy(buf[24:], vb)
	return buf, nil
}

func decodeEdgeProp(p []byte) (model.NodeId, model.EtypeId, model.NodeId, model.PropKeyId, model.PropValue, error) {
	s, e, d := decodeEdge(p[0:20])
	k := model.PropKeyId(binary.LittleEndian.Uint32(p[20:24]))
	v, err := decodePropValue(p[24:])
	return s, e, d, k, v, err
}

func encodeEdgePropKey(s model.NodeId, e model.EtypeId, d model.NodeId, k model.PropKeyId) []byte {
	buf := make([]byte, 24)
	copy(buf[0:20], encodeEdge(s, e, d))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(k))
	return buf
}

func decodeEdgePropKey(p []byte) (model.NodeId, model.EtypeId, model.NodeId, model.PropKeyId) {
	s, e, d := decodeEdge(p[0:20])
	k := model.PropKeyId(binary.LittleEndian.Uint32(p[20:24]))
	return s, e, d, k
}

func encodeDefine(id uint32, name string) []byte {
	buf := make([]byte, 4+2+len(name))
	binary.LittleEndian.PutUint32(buf[0:4], id)
	putString(buf, 4, name)
	return buf
}

func decodeDefine(p []byte) (uint32, string) {
	id := binary.LittleEndian.Uint32(p[0:4])
	name, _ := getString(p, 4)
	return id, name
}

func encodeNodeVector(n model.NodeId, k model.PropKeyId, v []float32) []byte {
	buf := make([]byte, 8+4+4+len(v)*4)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(n))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(k))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(v)))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[16+i*4:20+i*4], math.Float32bits(f))
	}
	return buf
}

func decodeNodeVector(p []byte) (model.NodeId, model.PropKeyId, []float32) {
	n := model.NodeId(binary.LittleEndian.Uint64(p[0:8]))
	k := model.PropKeyId(binary.LittleEndian.Uint32(p[8:12]))
	dim := int(binary.LittleEndian.Uint32(p[12:16]))
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[16+i*4 : 20+i*4]))
	}
	return n, k, vec
}
