package schema_test

import (
	"sync"
	"testing"

	"github.com/bobboyms/storage-engine/pkg/model"
	"github.com/bobboyms/storage-engine/pkg/schema"
)

func TestAllocatorsMonotonic(t *testing.T) {
	a := &schema.Allocators{}
	n1 := a.NextNodeId()
	n2 := a.NextNodeId()
	if n2 <= n1 {
		t.Fatalf("expected monotonic ids, got %d then %d", n1, n2)
	}
}

func TestBumpNodeCeilingNeverLowers(t *testing.T) {
	a := &schema.Allocators{}
	a.NextNodeId() // 1
	a.BumpNodeCeiling(100)
	if got := a.NextNodeId(); got != 101 {
		t.Errorf("NextNodeId after bump = %d, want 101", got)
	}

	a.BumpNodeCeiling(5) // lower than current ceiling, must be a no-op
	if got := a.NextNodeId(); got != 102 {
		t.Errorf("BumpNodeCeiling with a lower floor regressed the allocator: got %d, want 102", got)
	}
}

func TestGetOrCreateLabelRaceSafe(t *testing.T) {
	s := schema.New()
	a := &schema.Allocators{}

	const workers = 16
	var wg sync.WaitGroup
	ids := make([]uint32, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			id, _ := s.Labels.GetOrCreate("Person", func() model.LabelId {
				return a.NextLabelId()
			})
			ids[idx] = uint32(id)
		}(i)
	}
	wg.Wait()

	first := ids[0]
	for _, id := range ids {
		if id != first {
			t.Errorf("concurrent GetOrCreate returned divergent ids: %v", ids)
			break
		}
	}
}

func TestBindThenLookup(t *testing.T) {
	s := schema.New()
	s.Etypes.Bind(model.EtypeId(3), "KNOWS")

	id, ok := s.Etypes.Lookup("KNOWS")
	if !ok || id != 3 {
		t.Fatalf("Lookup(KNOWS) = (%d, %v), want (3, true)", id, ok)
	}
	name, ok := s.Etypes.Name(3)
	if !ok || name != "KNOWS" {
		t.Fatalf("Name(3) = (%q, %v), want (KNOWS, true)", name, ok)
	}
}

func TestBindSameIdSameNameIsIdempotent(t *testing.T) {
	s := schema.New()
	s.Propkeys.Bind(model.PropKeyId(1), "name")
	s.Propkeys.Bind(model.PropKeyId(1), "name") // must not panic
	if got := s.Propkeys.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}
