package vectorstore_test

import (
	"math"
	"testing"

	"github.com/bobboyms/storage-engine/pkg/model"
	"github.com/bobboyms/storage-engine/pkg/rerrors"
	"github.com/bobboyms/storage-engine/pkg/vectorstore"
)

func TestValidateRejectsAllZero(t *testing.T) {
	m := vectorstore.New()
	err := m.Validate(1, []float32{0, 0, 0}, 0)
	if err == nil {
		t.Fatal("expected error for all-zero vector")
	}
}

func TestValidateRejectsNaN(t *testing.T) {
	m := vectorstore.New()
	err := m.Validate(1, []float32{1, float32(math.NaN())}, 0)
	if err == nil {
		t.Fatal("expected error for NaN component")
	}
}

func TestDimensionSealedOnFirstInsert(t *testing.T) {
	m := vectorstore.New()
	if err := m.Drain([]vectorstore.DrainEntry{{Node: 1, Key: 1, Vector: []float32{1, 2, 3}}}); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	err := m.Validate(1, []float32{1, 2}, 0)
	var mismatch *rerrors.VectorDimensionMismatchError
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if !asMismatch(err, &mismatch) {
		t.Fatalf("expected *VectorDimensionMismatchError, got %T", err)
	}
	if mismatch.Expected != 3 || mismatch.Got != 2 {
		t.Errorf("got %+v, want expected=3 got=2", mismatch)
	}
}

func asMismatch(err error, target **rerrors.VectorDimensionMismatchError) bool {
	if m, ok := err.(*rerrors.VectorDimensionMismatchError); ok {
		*target = m
		return true
	}
	return false
}

func TestDrainThenGet(t *testing.T) {
	m := vectorstore.New()
	if err := m.Drain([]vectorstore.DrainEntry{{Node: 1, Key: 1, Vector: []float32{1, 2, 3}}}); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	v, ok := m.Get(1, 1)
	if !ok {
		t.Fatal("expected committed vector after drain")
	}
	if len(v) != 3 || v[0] != 1 || v[1] != 2 || v[2] != 3 {
		t.Errorf("got %v, want [1 2 3]", v)
	}
}

func TestDrainDeleteRemovesVector(t *testing.T) {
	m := vectorstore.New()
	_ = m.Drain([]vectorstore.DrainEntry{{Node: 1, Key: 1, Vector: []float32{1, 2}}})
	if err := m.Drain([]vectorstore.DrainEntry{{Node: 1, Key: 1, Deleted: true}}); err != nil {
		t.Fatalf("delete drain failed: %v", err)
	}
	if _, ok := m.Get(1, 1); ok {
		t.Error("expected vector gone after delete drain")
	}
}

func TestLoadAllRebuildsStore(t *testing.T) {
	m := vectorstore.New()
	m.LoadAll(model.PropKeyId(2), map[model.NodeId][]float32{10: {0.5, 0.5}}, 2)
	v, ok := m.Get(10, 2)
	if !ok || len(v) != 2 {
		t.Fatalf("LoadAll did not rebuild store: %v, %v", v, ok)
	}
	if m.StoreFor(2).Dimension() != 2 {
		t.Errorf("Dimension() = %d, want 2", m.StoreFor(2).Dimension())
	}
}
