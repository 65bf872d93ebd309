// Package vectorstore implements the per-property-key vector manifests
// described in spec.md §4.7: fixed dimension sealed on first insert, NaN
// and all-zero rejection, and staged-then-drained pending vectors.
package vectorstore

import (
	"sync"

	"github.com/bobboyms/storage-engine/pkg/model"
	"github.com/bobboyms/storage-engine/pkg/rerrors"
)

// Store holds the committed vectors for a single PropKeyId.
type Store struct {
	mu        sync.RWMutex
	propKey   model.PropKeyId
	dimension int // 0 until sealed by the first insert
	vectors   map[model.NodeId][]float32
}

func newStore(key model.PropKeyId) *Store {
	return &Store{propKey: key, vectors: make(map[model.NodeId][]float32)}
}

// Dimension returns the sealed dimension, or 0 if nothing has been
// inserted yet.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

func (s *Store) checkDimension(v []float32) error {
	if s.dimension != 0 && len(v) != s.dimension {
		return &rerrors.VectorDimensionMismatchError{Expected: s.dimension, Got: len(v)}
	}
	return nil
}

// Get returns the committed vector for n, if any.
func (s *Store) Get(n model.NodeId) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vectors[n]
	return v, ok
}

// set installs v for n, sealing the dimension on first use.
func (s *Store) set(n model.NodeId, v []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkDimension(v); err != nil {
		return err
	}
	if s.dimension == 0 {
		s.dimension = len(v)
	}
	s.vectors[n] = append([]float32(nil), v...)
	return nil
}

func (s *Store) delete(n model.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vectors, n)
}

// All returns a snapshot of every committed (NodeId, vector) pair, used by
// the checkpoint writer.
func (s *Store) All() map[model.NodeId][]float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.NodeId][]float32, len(s.vectors))
	for k, v := range s.vectors {
		out[k] = v
	}
	return out
}

// Manager owns every PropKeyId's Store plus the transaction-scoped pending
// staging area. A write transaction stages into its own delta.Overlay
// (pending_vectors); Manager.Drain folds that staging map into the
// committed stores at commit time.
type Manager struct {
	mu     sync.RWMutex
	stores map[model.PropKeyId]*Store
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{stores: make(map[model.PropKeyId]*Store)}
}

func (m *Manager) storeFor(k model.PropKeyId) *Store {
	m.mu.RLock()
	s, ok := m.stores[k]
	m.mu.RUnlock()
	if ok {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[k]; ok {
		return s
	}
	s = newStore(k)
	m.stores[k] = s
	return s
}

// Validate checks a vector against spec.md §4.7's contract before it is
// logged to the WAL: rejects all-zero and NaN/±Inf components, and a
// dimension mismatch against either the sealed store dimension or any
// already-pending vector for the same key within the transaction.
func (m *Manager) Validate(k model.PropKeyId, v []float32, pendingDimension int) error {
	if !model.ValidVector(v) {
		return &rerrors.InvalidQueryError{Reason: "vector rejected: all-zero or contains NaN/Inf"}
	}
	s := m.storeFor(k)
	if err := s.checkDimension(v); err != nil {
		return err
	}
	if pendingDimension != 0 && len(v) != pendingDimension {
		return &rerrors.VectorDimensionMismatchError{Expected: pendingDimension, Got: len(v)}
	}
	return nil
}

// Get resolves a committed vector for (n,k).
func (m *Manager) Get(n model.NodeId, k model.PropKeyId) ([]float32, bool) {
	return m.storeFor(k).Get(n)
}

// DrainEntry is one staged (node, propKey) -> vector-or-tombstone mutation,
// in the shape delta.Overlay.PendingVectors() already produces.
type DrainEntry struct {
	Node    model.NodeId
	Key     model.PropKeyId
	Vector  []float32
	Deleted bool
}

// Drain applies every staged entry to its store. The commit path calls it
// once the Commit record has been appended to the WAL, and WAL replay
// calls it for each vector record.
func (m *Manager) Drain(entries []DrainEntry) error {
	for _, e := range entries {
		s := m.storeFor(e.Key)
		if e.Deleted {
			s.delete(e.Node)
			continue
		}
		if err := s.set(e.Node, e.Vector); err != nil {
			return err
		}
	}
	return nil
}

// Seal forces a store's dimension without an insert, used when rebuilding
// from a snapshot's VectorStoreIndex section at open.
func (m *Manager) Seal(k model.PropKeyId, dimension int) {
	s := m.storeFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		s.dimension = dimension
	}
}

// LoadAll replaces a store's full vector set, used when rebuilding from a
// snapshot's VectorStoreData blob.
func (m *Manager) LoadAll(k model.PropKeyId, vectors map[model.NodeId][]float32, dimension int) {
	m.mu.Lock()
	s, ok := m.stores[k]
	if !ok {
		s = newStore(k)
		m.stores[k] = s
	}
	m.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	s.vectors = make(map[model.NodeId][]float32, len(vectors))
	for n, v := range vectors {
		s.vectors[n] = append([]float32(nil), v...)
	}
}

// PropKeys returns every PropKeyId that currently has a store, for
// snapshot serialization.
func (m *Manager) PropKeys() []model.PropKeyId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]model.PropKeyId, 0, len(m.stores))
	for k := range m.stores {
		keys = append(keys, k)
	}
	return keys
}

// StoreFor exposes the underlying Store for read-only iteration by the
// snapshot writer (All()) and reader (Dimension()/Get()).
func (m *Manager) StoreFor(k model.PropKeyId) *Store {
	return m.storeFor(k)
}
