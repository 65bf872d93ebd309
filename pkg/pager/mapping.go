package pager

import "sync"

// SnapshotMapping is a reference-counted handle over the mapped snapshot
// region. The snapshot reader holds one; checkpoint replaces it under a
// write lock once a new snapshot lands (spec.md §4.4, §5 "the mmap is
// re-established after every successful checkpoint").
type SnapshotMapping struct {
	mu    sync.Mutex
	data  []byte
	unmap func() error
	refs  int
	freed bool
}

// MapSnapshot maps pageCount pages starting at startPage, returning a
// mapping with one outstanding reference.
func (p *Pager) MapSnapshot(startPage, pageCount uint64) (*SnapshotMapping, error) {
	data, unmap, err := mmapRegion(p, startPage, pageCount)
	if err != nil {
		return nil, err
	}
	return &SnapshotMapping{data: data, unmap: unmap, refs: 1}, nil
}

// Bytes returns the mapped byte slice. Valid only while the caller holds a
// reference (i.e. between Acquire/Release pairs, or before the first Release).
func (m *SnapshotMapping) Bytes() []byte {
	return m.data
}

// Acquire takes an additional reference on the mapping.
func (m *SnapshotMapping) Acquire() *SnapshotMapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs++
	return m
}

// Release drops a reference, unmapping once the count reaches zero.
func (m *SnapshotMapping) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs--
	if m.refs > 0 || m.freed {
		return nil
	}
	m.freed = true
	if m.unmap != nil {
		return m.unmap()
	}
	return nil
}
