package raydb_test

import (
	"path/filepath"
	"testing"

	"github.com/bobboyms/storage-engine/pkg/model"
	"github.com/bobboyms/storage-engine/pkg/raydb"
)

func TestCheckpointRoundTripsThroughSnapshot(t *testing.T) {
	opts := smallOptions()
	path := filepath.Join(t.TempDir(), "graph.raydb")

	db, err := raydb.Open(path, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

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
	nameKey, err := tx.DefinePropkey("name")
	if err != nil {
		t.Fatalf("DefinePropkey failed: %v", err)
	}
	person, err := tx.DefineLabel("Person")
	if err != nil {
		t.Fatalf("DefineLabel failed: %v", err)
	}
	if err := tx.AddEdge(a, knows, b); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}
	if err := tx.SetNodeProp(a, nameKey, model.StringValue("Alice")); err != nil {
		t.Fatalf("SetNodeProp failed: %v", err)
	}
	if err := tx.AddLabel(a, person); err != nil {
		t.Fatalf("AddLabel failed: %v", err)
	}
	mustCommit(t, tx)

	if err := db.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	reader, err := db.Begin(true)
	if err != nil {
		t.Fatalf("Begin(read) after checkpoint failed: %v", err)
	}
	if !reader.NodeExists(a) || !reader.NodeExists(b) {
		t.Fatal("expected both nodes to survive the checkpoint")
	}
	if !reader.HasEdge(a, knows, b) {
		t.Fatal("expected the edge to survive the checkpoint")
	}
	v, ok := reader.NodeProp(a, nameKey)
	if !ok || !v.Equal(model.StringValue("Alice")) {
		t.Fatalf("NodeProp after checkpoint = (%+v, %v), want (\"Alice\", true)", v, ok)
	}
	labels := reader.NodeLabels(a)
	if len(labels) != 1 || labels[0] != person {
		t.Fatalf("NodeLabels after checkpoint = %v, want [%v]", labels, person)
	}
	reader.Rollback()

	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := raydb.Open(path, opts)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	reopenedReader, err := reopened.Begin(true)
	if err != nil {
		t.Fatalf("Begin(read) after reopen failed: %v", err)
	}
	defer reopenedReader.Rollback()

	if !reopenedReader.NodeExists(a) || !reopenedReader.NodeExists(b) {
		t.Fatal("expected the checkpointed snapshot to persist across reopen")
	}
	if !reopenedReader.HasEdge(a, knows, b) {
		t.Fatal("expected the checkpointed edge to persist across reopen")
	}
	v, ok = reopenedReader.NodeProp(a, nameKey)
	if !ok || !v.Equal(model.StringValue("Alice")) {
		t.Fatalf("NodeProp after reopen = (%+v, %v), want (\"Alice\", true)", v, ok)
	}
	labels = reopenedReader.NodeLabels(a)
	if len(labels) != 1 || labels[0] != person {
		t.Fatalf("NodeLabels after reopen = %v, want [%v]", labels, person)
	}
}

func TestCheckpointRejectsWhileWriteTxOpen(t *testing.T) {
	db, _ := openTestDB(t, smallOptions())

	tx, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer tx.Rollback()

	if err := db.Checkpoint(); err == nil {
		t.Fatal("expected Checkpoint to reject while a write transaction is open")
	}
}

func TestReopenReplaysUncheckpointedWal(t *testing.T) {
	opts := smallOptions()
	path := filepath.Join(t.TempDir(), "graph.raydb")

	db, err := raydb.Open(path, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	tx, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	key := "bob"
	id, err := tx.CreateNode(&key)
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	mustCommit(t, tx)

	// No checkpoint: the committed node only exists as a WAL record plus
	// an in-memory delta entry at this point.
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := raydb.Open(path, opts)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	reader, err := reopened.Begin(true)
	if err != nil {
		t.Fatalf("Begin(read) after reopen failed: %v", err)
	}
	defer reader.Rollback()

	if !reader.NodeExists(id) {
		t.Fatal("expected WAL replay to restore the committed node")
	}
	gotKey, ok := reader.NodeKey(id)
	if !ok || gotKey != "bob" {
		t.Fatalf("NodeKey after replay = (%q, %v), want (\"bob\", true)", gotKey, ok)
	}
}

func TestRolledBackTransactionDoesNotSurviveReopen(t *testing.T) {
	opts := smallOptions()
	path := filepath.Join(t.TempDir(), "graph.raydb")

	db, err := raydb.Open(path, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	tx, err := db.Begin(false)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	id, err := tx.CreateNode(nil)
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := raydb.Open(path, opts)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	reader, err := reopened.Begin(true)
	if err != nil {
		t.Fatalf("Begin(read) after reopen failed: %v", err)
	}
	defer reader.Rollback()

	if reader.NodeExists(id) {
		t.Fatal("expected a rolled-back node not to survive replay")
	}
}
