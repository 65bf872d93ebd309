package raydb_test

import (
	"testing"

	"github.com/bobboyms/storage-engine/pkg/model"
	"github.com/bobboyms/storage-engine/pkg/raydb"
)

func mustCommit(t *testing.T, tx *raydb.Tx) {
	t.Helper()
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestCreateNodeCommitAndReadBack(t *testing.T) {
	db, _ := openTestDB(t, smallOptions())

	tx, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	key := "alice"
	id, err := tx.CreateNode(&key)
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	nameKey, err := tx.DefinePropkey("name")
	if err != nil {
		t.Fatalf("DefinePropkey failed: %v", err)
	}
	if err := tx.SetNodeProp(id, nameKey, model.StringValue("Alice")); err != nil {
		t.Fatalf("SetNodeProp failed: %v", err)
	}
	mustCommit(t, tx)

	reader, err := db.Begin(true)
	if err != nil {
		t.Fatalf("Begin(read) failed: %v", err)
	}
	defer reader.Rollback()

	if !reader.NodeExists(id) {
		t.Fatal("expected created node to exist after commit")
	}
	gotKey, ok := reader.NodeKey(id)
	if !ok || gotKey != "alice" {
		t.Fatalf("NodeKey = (%q, %v), want (\"alice\", true)", gotKey, ok)
	}
	resolved, ok := reader.LookupByKey("alice")
	if !ok || resolved != id {
		t.Fatalf("LookupByKey = (%v, %v), want (%v, true)", resolved, ok, id)
	}
	v, ok := reader.NodeProp(id, nameKey)
	if !ok || !v.Equal(model.StringValue("Alice")) {
		t.Fatalf("NodeProp = (%+v, %v), want (\"Alice\", true)", v, ok)
	}
}

func TestAddEdgeVisibleFromBothEnds(t *testing.T) {
	db, _ := openTestDB(t, smallOptions())

	tx, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	a, err := tx.CreateNode(nil)
	if err != nil {
		t.Fatalf("CreateNode(a) failed: %v", err)
	}
	b, err := tx.CreateNode(nil)
	if err != nil {
		t.Fatalf("CreateNode(b) failed: %v", err)
	}
	knows, err := tx.DefineEtype("knows")
	if err != nil {
		t.Fatalf("DefineEtype failed: %v", err)
	}
	if err := tx.AddEdge(a, knows, b); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}
	mustCommit(t, tx)

	reader, err := db.Begin(true)
	if err != nil {
		t.Fatalf("Begin(read) failed: %v", err)
	}
	defer reader.Rollback()

	if !reader.HasEdge(a, knows, b) {
		t.Fatal("expected edge (a,knows,b) to exist")
	}
	out := reader.OutEdges(a)
	if len(out) != 1 || out[0].Other != b || out[0].Etype != knows {
		t.Fatalf("OutEdges(a) = %+v, want one edge to b", out)
	}
	in := reader.InEdges(b)
	if len(in) != 1 || in[0].Other != a || in[0].Etype != knows {
		t.Fatalf("InEdges(b) = %+v, want one edge from a", in)
	}
}

func TestAddAndRemoveLabel(t *testing.T) {
	db, _ := openTestDB(t, smallOptions())

	tx, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	person, err := tx.DefineLabel("Person")
	if err != nil {
		t.Fatalf("DefineLabel failed: %v", err)
	}
	admin, err := tx.DefineLabel("Admin")
	if err != nil {
		t.Fatalf("DefineLabel failed: %v", err)
	}
	id, err := tx.CreateNode(nil)
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	if err := tx.AddLabel(id, person); err != nil {
		t.Fatalf("AddLabel failed: %v", err)
	}
	if err := tx.AddLabel(id, admin); err != nil {
		t.Fatalf("AddLabel failed: %v", err)
	}
	mustCommit(t, tx)

	tx2, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := tx2.RemoveLabel(id, admin); err != nil {
		t.Fatalf("RemoveLabel failed: %v", err)
	}
	mustCommit(t, tx2)

	reader, err := db.Begin(true)
	if err != nil {
		t.Fatalf("Begin(read) failed: %v", err)
	}
	defer reader.Rollback()

	labels := reader.NodeLabels(id)
	if len(labels) != 1 || labels[0] != person {
		t.Fatalf("NodeLabels = %v, want [%v]", labels, person)
	}
}

func TestRollbackRestoresPreTransactionState(t *testing.T) {
	db, _ := openTestDB(t, smallOptions())

	seedTx, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	id, err := seedTx.CreateNode(nil)
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	mustCommit(t, seedTx)

	tx, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := tx.CreateNode(nil); err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	if err := tx.DeleteNode(id); err != nil {
		t.Fatalf("DeleteNode failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	reader, err := db.Begin(true)
	if err != nil {
		t.Fatalf("Begin(read) failed: %v", err)
	}
	defer reader.Rollback()

	if !reader.NodeExists(id) {
		t.Fatal("expected the seeded node to still exist after rollback")
	}

	after, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin(write) after rollback failed: %v", err)
	}
	defer after.Rollback()
}

func TestReaderSnapshotExcludesLaterCommits(t *testing.T) {
	db, _ := openTestDB(t, smallOptions())

	tx1, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin(1) failed: %v", err)
	}
	a, err := tx1.CreateNode(nil)
	if err != nil {
		t.Fatalf("CreateNode(a) failed: %v", err)
	}
	mustCommit(t, tx1)

	oldReader, err := db.Begin(true)
	if err != nil {
		t.Fatalf("Begin(oldReader) failed: %v", err)
	}
	defer oldReader.Rollback()

	tx2, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin(2) failed: %v", err)
	}
	b, err := tx2.CreateNode(nil)
	if err != nil {
		t.Fatalf("CreateNode(b) failed: %v", err)
	}
	mustCommit(t, tx2)

	if !oldReader.NodeExists(a) {
		t.Fatal("expected the old reader to see the node committed before its snapshot")
	}
	if oldReader.NodeExists(b) {
		t.Fatal("expected the old reader not to see a node committed after its snapshot")
	}

	newReader, err := db.Begin(true)
	if err != nil {
		t.Fatalf("Begin(newReader) failed: %v", err)
	}
	defer newReader.Rollback()
	if !newReader.NodeExists(b) {
		t.Fatal("expected a fresh reader to see the node committed before it began")
	}
}

func TestSetNodeVectorRejectsDimensionMismatch(t *testing.T) {
	db, _ := openTestDB(t, smallOptions())

	tx, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	id, err := tx.CreateNode(nil)
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	embKey, err := tx.DefinePropkey("embedding")
	if err != nil {
		t.Fatalf("DefinePropkey failed: %v", err)
	}
	if err := tx.SetNodeVector(id, embKey, []float32{1, 0, 0}); err != nil {
		t.Fatalf("SetNodeVector failed: %v", err)
	}
	mustCommit(t, tx)

	tx2, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer tx2.Rollback()
	id2, err := tx2.CreateNode(nil)
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	if err := tx2.SetNodeVector(id2, embKey, []float32{1, 0}); err == nil {
		t.Fatal("expected a dimension mismatch error")
	}
}

func TestNodeVectorReadsCommittedAndStagedValues(t *testing.T) {
	db, _ := openTestDB(t, smallOptions())

	tx, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	id, err := tx.CreateNode(nil)
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	embKey, err := tx.DefinePropkey("embedding")
	if err != nil {
		t.Fatalf("DefinePropkey failed: %v", err)
	}
	vec := []float32{0.5, 0.25, 0.125}
	if err := tx.SetNodeVector(id, embKey, vec); err != nil {
		t.Fatalf("SetNodeVector failed: %v", err)
	}

	got, ok := tx.NodeVector(id, embKey)
	if !ok || len(got) != len(vec) {
		t.Fatalf("NodeVector (uncommitted) = (%v, %v), want staged vector", got, ok)
	}
	mustCommit(t, tx)

	reader, err := db.Begin(true)
	if err != nil {
		t.Fatalf("Begin(read) failed: %v", err)
	}
	defer reader.Rollback()
	got, ok = reader.NodeVector(id, embKey)
	if !ok || len(got) != len(vec) {
		t.Fatalf("NodeVector (committed) = (%v, %v), want %v", got, ok, vec)
	}
}
