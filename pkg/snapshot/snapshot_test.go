package snapshot_test

import (
	"testing"

	"github.com/bobboyms/storage-engine/pkg/model"
	"github.com/bobboyms/storage-engine/pkg/snapshot"
)

func sampleInput() snapshot.BuildInput {
	return snapshot.BuildInput{
		Generation: 7,
		Nodes: []model.NodeData{
			{Id: 3, Key: "bob", Labels: []model.LabelId{1}, Props: map[model.PropKeyId]model.PropValue{1: model.StringValue("Bob")}},
			{Id: 1, Labels: []model.LabelId{1, 2}, Props: map[model.PropKeyId]model.PropValue{2: model.I64Value(42)}},
			{Id: 2, Key: "carol"},
		},
		Edges: []model.EdgeData{
			{Src: 1, Dst: 3, Etype: 10, Props: map[model.PropKeyId]model.PropValue{3: model.F64Value(0.5)}},
			{Src: 1, Dst: 2, Etype: 10},
			{Src: 2, Dst: 1, Etype: 11},
		},
		Labels:   map[model.LabelId]string{1: "Person", 2: "Admin"},
		Etypes:   map[model.EtypeId]string{10: "KNOWS", 11: "FOLLOWS"},
		Propkeys: map[model.PropKeyId]string{1: "name", 2: "age", 3: "weight"},
	}
}

func TestBuildThenOpenRoundTrip(t *testing.T) {
	buf, err := snapshot.NewWriter().Build(sampleInput())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	r, err := snapshot.Open(buf, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if r.Header.NumNodes != 3 || r.Header.NumEdges != 3 {
		t.Fatalf("header counts = %+v", r.Header)
	}

	phys, ok := r.GetPhysNode(1)
	if !ok {
		t.Fatal("node 1 not found")
	}
	if phys != 0 {
		t.Errorf("phys(1) = %d, want 0 (lowest NodeId sorts first)", phys)
	}

	id, ok := r.GetNodeId(phys)
	if !ok || id != 1 {
		t.Errorf("GetNodeId(%d) = %v, %v", phys, id, ok)
	}

	if !r.HasNode(3) || r.HasNode(99) {
		t.Error("HasNode disagrees with membership")
	}

	key, ok := r.GetNodeKey(phys)
	if ok {
		t.Errorf("node 1 should have no key, got %q", key)
	}

	bobPhys, _ := r.GetPhysNode(3)
	key, ok = r.GetNodeKey(bobPhys)
	if !ok || key != "bob" {
		t.Errorf("GetNodeKey(bob) = %q, %v", key, ok)
	}

	found, ok := r.LookupByKey("bob")
	if !ok || found != 3 {
		t.Errorf("LookupByKey(bob) = %v, %v", found, ok)
	}
	if _, ok := r.LookupByKey("nobody"); ok {
		t.Error("LookupByKey should miss unknown keys")
	}

	labels := r.GetNodeLabels(phys)
	if len(labels) != 2 {
		t.Fatalf("node 1 labels = %v, want 2 entries", labels)
	}

	age, ok, err := r.GetNodeProp(phys, 2)
	if err != nil || !ok || age.I64 != 42 {
		t.Errorf("GetNodeProp(1, age) = %+v, %v, %v", age, ok, err)
	}

	outs, err := r.IterOutEdges(phys)
	if err != nil {
		t.Fatalf("IterOutEdges: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("node 1 out-edges = %d, want 2", len(outs))
	}
	if outs[0].Etype != 10 {
		t.Errorf("out edge etype = %d, want 10", outs[0].Etype)
	}

	carolPhys, _ := r.GetPhysNode(2)
	ins, err := r.IterInEdges(carolPhys)
	if err != nil {
		t.Fatalf("IterInEdges: %v", err)
	}
	if len(ins) != 1 || ins[0].SrcPhys != phys {
		t.Fatalf("carol in-edges = %+v", ins)
	}

	props, err := r.GetEdgeProps(ins[0].OutIdx)
	if err != nil {
		t.Fatalf("GetEdgeProps: %v", err)
	}
	if len(props) != 0 {
		t.Errorf("1->2 edge should carry no props, got %v", props)
	}

	idx, ok := r.FindEdgeIndex(phys, 10, bobPhys)
	if !ok {
		t.Fatal("FindEdgeIndex(1,KNOWS,3) missed")
	}
	weightProps, err := r.GetEdgeProps(idx)
	if err != nil {
		t.Fatalf("GetEdgeProps(1->3): %v", err)
	}
	if w, ok := weightProps[3]; !ok || w.F64 != 0.5 {
		t.Errorf("1->3 weight = %+v, ok=%v", w, ok)
	}

	if !r.HasEdge(phys, 10, bobPhys) {
		t.Error("HasEdge(1,KNOWS,3) should be true")
	}
	if r.HasEdge(phys, 99, bobPhys) {
		t.Error("HasEdge should be false for unknown etype")
	}

	name, ok := r.GetLabelName(1)
	if !ok || name != "Person" {
		t.Errorf("GetLabelName(1) = %q, %v", name, ok)
	}
	etype, ok := r.GetEtypeName(10)
	if !ok || etype != "KNOWS" {
		t.Errorf("GetEtypeName(10) = %q, %v", etype, ok)
	}
	pk, ok := r.GetPropkeyName(1)
	if !ok || pk != "name" {
		t.Errorf("GetPropkeyName(1) = %q, %v", pk, ok)
	}
}

func TestBuildWithVectorStores(t *testing.T) {
	in := sampleInput()
	in.VectorStores = []snapshot.VectorStoreInput{
		{PropKey: 5, Dimension: 3, Vectors: map[model.NodeId][]float32{1: {1, 2, 3}, 2: {4, 5, 6}}},
	}

	buf, err := snapshot.NewWriter().Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	r, err := snapshot.Open(buf, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.Header.Flags&snapshot.HasVectorStores == 0 {
		t.Fatal("HasVectorStores flag not set")
	}

	stores, err := r.VectorStores()
	if err != nil {
		t.Fatalf("VectorStores: %v", err)
	}
	if len(stores) != 1 {
		t.Fatalf("got %d stores, want 1", len(stores))
	}
	s := stores[0]
	if s.PropKey != 5 || s.Dimension != 3 {
		t.Errorf("store = %+v", s)
	}
	v, ok := s.Vectors[1]
	if !ok || len(v) != 3 || v[0] != 1 || v[2] != 3 {
		t.Errorf("vectors[1] = %v, %v", v, ok)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	if _, err := snapshot.Open([]byte("not a snapshot"), nil); err == nil {
		t.Fatal("expected error for malformed buffer")
	}
}

type xorCompressor struct{}

func (xorCompressor) Compress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ 0xFF
	}
	return out, nil
}

func (xorCompressor) Decompress(data []byte) ([]byte, error) {
	return xorCompressor{}.Compress(data)
}

func TestBuildThenOpenWithCompressor(t *testing.T) {
	in := sampleInput()
	in.Compressor = xorCompressor{}

	buf, err := snapshot.NewWriter().Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	r, err := snapshot.Open(buf, xorCompressor{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	phys, ok := r.GetPhysNode(1)
	if !ok || phys != 0 {
		t.Fatalf("GetPhysNode(1) = %d, %v", phys, ok)
	}
}
