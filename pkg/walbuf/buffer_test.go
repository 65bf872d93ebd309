package walbuf_test

import (
	"path/filepath"
	"testing"

	"github.com/bobboyms/storage-engine/pkg/pager"
	"github.com/bobboyms/storage-engine/pkg/walbuf"
)

func newTestBuffer(t *testing.T, pages uint64) (*pager.Pager, *walbuf.Buffer) {
	t.Helper()
	p, err := pager.Open(filepath.Join(t.TempDir(), "wal.raydb"), 4096, true)
	if err != nil {
		t.Fatalf("pager.Open failed: %v", err)
	}
	if _, err := p.AllocatePages(pages); err != nil {
		t.Fatalf("AllocatePages failed: %v", err)
	}
	return p, walbuf.Open(p, 0, pages)
}

func TestWriteRecordReadAll(t *testing.T) {
	_, buf := newTestBuffer(t, 4)

	recs := []walbuf.Record{
		{Type: walbuf.Begin, TxId: 1, Payload: nil},
		{Type: walbuf.CreateNode, TxId: 1, Payload: []byte("node-1")},
		{Type: walbuf.Commit, TxId: 1, Payload: nil},
	}
	for _, r := range recs {
		if err := buf.WriteRecord(r); err != nil {
			t.Fatalf("WriteRecord failed: %v", err)
		}
	}

	got, err := buf.ReadAll(0)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != len(recs) {
		t.Fatalf("ReadAll returned %d records, want %d", len(got), len(recs))
	}
	for i, r := range got {
		if r.Type != recs[i].Type || r.TxId != recs[i].TxId || string(r.Payload) != string(recs[i].Payload) {
			t.Errorf("record %d = %+v, want %+v", i, r, recs[i])
		}
	}
}

func TestResetClearsCursors(t *testing.T) {
	_, buf := newTestBuffer(t, 4)

	if err := buf.WriteRecord(walbuf.Record{Type: walbuf.Begin, TxId: 1}); err != nil {
		t.Fatalf("WriteRecord failed: %v", err)
	}
	if buf.Head() == 0 {
		t.Fatal("expected head to advance after write")
	}

	buf.Reset()
	if buf.Head() != 0 || buf.Tail() != 0 {
		t.Errorf("Reset did not clear cursors: head=%d tail=%d", buf.Head(), buf.Tail())
	}
}

func TestSwitchAndMergeSecondary(t *testing.T) {
	_, buf := newTestBuffer(t, 8)

	if err := buf.WriteRecord(walbuf.Record{Type: walbuf.Begin, TxId: 1}); err != nil {
		t.Fatalf("primary write failed: %v", err)
	}

	buf.SwitchToSecondary()
	if buf.ActiveRegion() != 1 {
		t.Fatal("expected active region 1 after SwitchToSecondary")
	}

	if err := buf.WriteRecord(walbuf.Record{Type: walbuf.CreateNode, TxId: 2, Payload: []byte("x")}); err != nil {
		t.Fatalf("secondary write failed: %v", err)
	}
	if err := buf.WriteRecord(walbuf.Record{Type: walbuf.Commit, TxId: 2}); err != nil {
		t.Fatalf("secondary write failed: %v", err)
	}

	if err := buf.MergeSecondaryIntoPrimary(); err != nil {
		t.Fatalf("MergeSecondaryIntoPrimary failed: %v", err)
	}
	if buf.ActiveRegion() != 0 {
		t.Fatal("expected active region 0 after merge")
	}
	if buf.SecondaryHead() != 0 {
		t.Errorf("expected secondary head reset, got %d", buf.SecondaryHead())
	}

	all, err := buf.ReadAll(0)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 merged records, got %d", len(all))
	}
	if all[0].TxId != 1 || all[1].TxId != 2 || all[2].TxId != 2 {
		t.Errorf("merge did not preserve order: %+v", all)
	}
}
