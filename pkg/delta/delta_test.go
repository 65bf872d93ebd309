package delta_test

import (
	"testing"

	"github.com/bobboyms/storage-engine/pkg/delta"
	"github.com/bobboyms/storage-engine/pkg/model"
)

func TestAddEdgeCancelsPendingDelete(t *testing.T) {
	o := delta.New()
	var s, d model.NodeId = 1, 2
	var e model.EtypeId = 1

	o.DeleteEdge(s, e, d)
	if !o.IsEdgeDeleted(s, e, d) {
		t.Fatal("expected edge staged as deleted")
	}

	o.AddEdge(s, e, d)
	if o.IsEdgeDeleted(s, e, d) {
		t.Error("AddEdge did not cancel the pending delete")
	}
	if o.IsEdgeAdded(s, e, d) {
		t.Error("cancellation should not also leave an add behind")
	}
}

func TestDeleteEdgeCancelsPendingAdd(t *testing.T) {
	o := delta.New()
	var s, d model.NodeId = 1, 2
	var e model.EtypeId = 1

	o.AddEdge(s, e, d)
	if !o.IsEdgeAdded(s, e, d) {
		t.Fatal("expected edge staged as added")
	}

	o.DeleteEdge(s, e, d)
	if o.IsEdgeAdded(s, e, d) {
		t.Error("DeleteEdge did not cancel the pending add")
	}
	if o.IsEdgeDeleted(s, e, d) {
		t.Error("cancellation should not also leave a delete behind")
	}
}

func TestEdgeNeverBothAddedAndDeleted(t *testing.T) {
	o := delta.New()
	var s, d model.NodeId = 1, 2
	var e model.EtypeId = 1

	o.AddEdge(s, e, d)
	o.AddEdge(s, e, d)
	if o.IsEdgeAdded(s, e, d) && o.IsEdgeDeleted(s, e, d) {
		t.Fatal("P1 violated: edge both added and deleted")
	}

	o.DeleteEdge(s, e, d)
	o.DeleteEdge(s, e, d)
	if o.IsEdgeAdded(s, e, d) && o.IsEdgeDeleted(s, e, d) {
		t.Fatal("P1 violated: edge both added and deleted")
	}
}

func TestCreateThenDeleteNodeIsNoOp(t *testing.T) {
	o := delta.New()
	key := "c"
	var n model.NodeId = 5

	o.CreateNode(n, &key)
	o.AddEdge(n, 1, 99)
	o.DeleteNode(n)

	if o.IsNodeCreated(n) {
		t.Error("P2 violated: node still present in created_nodes")
	}
	if _, ok := o.GetNodeByKey(key); ok {
		t.Error("P2 violated: key index still resolves deleted node")
	}
	if len(o.OutEdgesAdded(n)) != 0 {
		t.Error("P2 violated: residual out-edge patches for deleted node")
	}
}

func TestDeleteNodeCullsIncomingPatches(t *testing.T) {
	o := delta.New()
	var src, dst model.NodeId = 1, 2
	key := "dst"

	o.CreateNode(dst, &key)
	o.AddEdge(src, 7, dst)
	if len(o.OutEdgesAdded(src)) != 1 {
		t.Fatal("expected one staged out-edge before delete")
	}

	o.DeleteNode(dst)

	if len(o.OutEdgesAdded(src)) != 0 {
		t.Error("P3 violated: out-edge patch to deleted node survived")
	}
	if len(o.InEdgesAdded(dst)) != 0 {
		t.Error("P3 violated: in-edge patch on deleted node survived")
	}
}

func TestDeleteNodeCullsPendingVectorAndEdgeProps(t *testing.T) {
	o := delta.New()
	var n, other model.NodeId = 5, 9
	var k model.PropKeyId = 1
	var e model.EtypeId = 1

	o.CreateNode(n, nil)
	o.SetNodeVector(n, k, []float32{1, 2, 3})
	o.AddEdge(n, e, other)
	o.SetEdgeProp(n, e, other, k, model.I64Value(1))

	o.DeleteNode(n)

	if _, _, present := o.PendingVector(n, k); present {
		t.Error("P2 violated: pending vector survived create-then-delete")
	}
	if len(o.PendingVectors()) != 0 {
		t.Error("P2 violated: pendingVectors still holds an entry for the deleted node")
	}
	if len(o.EdgePropsAll()) != 0 {
		t.Error("P2 violated: edgeProps still holds an entry for the deleted node")
	}

	// Same check across two transactions: a vector committed earlier,
	// the node tombstoned later.
	o2 := delta.New()
	o2.SetNodeVector(other, k, []float32{1, 2, 3})
	o2.DeleteNode(other)
	if _, _, present := o2.PendingVector(other, k); present {
		t.Error("P2 violated: pending vector survived a cross-transaction delete")
	}
}

func TestSetNodePropThreeWayResult(t *testing.T) {
	o := delta.New()
	var n model.NodeId = 1
	var k model.PropKeyId = 1

	if _, present, _ := o.GetNodeProp(n, k); present {
		t.Fatal("expected not-present before any write")
	}

	o.SetNodeProp(n, k, model.PropValue{Kind: model.KindString, Str: "hello"})
	v, present, tomb := o.GetNodeProp(n, k)
	if !present || tomb || v.Str != "hello" {
		t.Errorf("got (%+v, %v, %v), want set value", v, present, tomb)
	}

	o.DeleteNodeProp(n, k)
	_, present, tomb = o.GetNodeProp(n, k)
	if !present || !tomb {
		t.Errorf("expected tombstone after delete, got present=%v tomb=%v", present, tomb)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	o := delta.New()
	key := "a"
	o.CreateNode(1, &key)

	clone := o.Clone()
	o.SetNodeProp(1, 1, model.PropValue{Kind: model.KindI64, I64: 42})

	if _, present, _ := clone.GetNodeProp(1, 1); present {
		t.Error("mutating original leaked into clone")
	}
}

func TestClearResetsEverything(t *testing.T) {
	o := delta.New()
	key := "a"
	o.CreateNode(1, &key)
	o.AddEdge(1, 1, 2)

	o.Clear()

	if o.IsNodeCreated(1) {
		t.Error("Clear left a created node behind")
	}
	if _, ok := o.GetNodeByKey(key); ok {
		t.Error("Clear left the key index behind")
	}
	if o.IsEdgeAdded(1, 1, 2) {
		t.Error("Clear left an edge add behind")
	}
}
