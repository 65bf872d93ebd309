package walbuf

import (
	"sync"

	"github.com/bobboyms/storage-engine/pkg/pager"
	"github.com/bobboyms/storage-engine/pkg/rerrors"
)

// region is one half of the WAL's fixed byte range: a plain circular
// buffer with a write cursor (head) and a consumption cursor (tail).
// Tail only moves on Reset — within a generation the log fills forward and
// a checkpoint clears it wholesale, matching spec.md §4.10's "reset WAL"
// step rather than incremental per-record GC.
type region struct {
	base uint64 // byte offset of this half within the WAL page range
	size uint64 // capacity of this half in bytes
	head uint64 // write cursor, relative to base
	tail uint64 // oldest valid byte, relative to base
}

func (r *region) used() uint64 {
	if r.head >= r.tail {
		return r.head - r.tail
	}
	return r.size - r.tail + r.head
}

// Buffer is the circular WAL described in spec.md §4.2.
type Buffer struct {
	mu sync.Mutex

	pgr        *pager.Pager
	startPage  uint64
	pageCount  uint64
	pageSize   uint64

	primary      region
	secondary    region
	activeRegion uint8 // 0 = primary, 1 = secondary
}

// Open attaches a Buffer to a WAL page range without touching its contents
// (used when reopening an existing file whose head/tail are restored from
// the header by the caller via RestoreCursors).
func Open(pgr *pager.Pager, startPage, pageCount uint64) *Buffer {
	capacity := pageCount * uint64(pgr.PageSize())
	half := capacity / 2
	return &Buffer{
		pgr:       pgr,
		startPage: startPage,
		pageCount: pageCount,
		pageSize:  uint64(pgr.PageSize()),
		primary:   region{base: 0, size: half},
		secondary: region{base: half, size: capacity - half},
	}
}

// RestoreCursors sets the in-RAM cursors from header fields read at open.
func (b *Buffer) RestoreCursors(primaryHead, secondaryHead uint64, activeRegion uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.primary.head = primaryHead
	b.secondary.head = secondaryHead
	b.activeRegion = activeRegion
}

func (b *Buffer) active() *region {
	if b.activeRegion == 1 {
		return &b.secondary
	}
	return &b.primary
}

// WriteRecord appends rec at the active region's head. The tail stays at 0
// until the region is cleared (Reset, or MergeSecondaryIntoPrimary for the
// secondary), so the fill check below refuses, with an InternalError, any
// record that would not fit before the region's physical end; the
// skip-marker wrap to offset 0 after it is therefore never taken.
func (b *Buffer) WriteRecord(rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.active()
	need := uint64(encodedLen(rec))

	if r.used()+need+Alignment > r.size {
		return &rerrors.InternalError{Reason: "wal region full, checkpoint required"}
	}

	remaining := r.size - r.head
	if remaining < need {
		if remaining >= headerSize {
			if err := b.writeAt(r, r.head, skipMarkerBytes()); err != nil {
				return err
			}
		}
		r.head = 0
	}

	buf := make([]byte, need)
	encode(rec, buf)
	if err := b.writeAt(r, r.head, buf); err != nil {
		return err
	}
	r.head += need
	return nil
}

// writeAt writes data starting at byte offset off within region r, mapped
// onto the pager's page range.
func (b *Buffer) writeAt(r *region, off uint64, data []byte) error {
	absolute := b.startPage*b.pageSize + r.base + off
	startPage := absolute / b.pageSize
	pageOff := absolute % b.pageSize

	// Pad to a whole-page write by reading the straddled pages first; WAL
	// writes are small relative to a page so this keeps the pager's
	// whole-page contract without a separate buffered-writer layer.
	spanBytes := pageOff + uint64(len(data))
	spanPages := (spanBytes + b.pageSize - 1) / b.pageSize

	buf := make([]byte, spanPages*b.pageSize)
	for i := uint64(0); i < spanPages; i++ {
		page, err := b.pgr.ReadPage(startPage + i)
		if err != nil {
			return err
		}
		copy(buf[i*b.pageSize:], page)
	}
	copy(buf[pageOff:], data)
	return b.pgr.WritePages(startPage, buf)
}

// Flush fsyncs the pager; sync-mode gating is the caller's responsibility
// (spec.md §4.9's sync modes apply at the commit path, not here).
func (b *Buffer) Flush() error {
	return b.pgr.Sync()
}

func (b *Buffer) Head() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active().head
}

func (b *Buffer) Tail() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active().tail
}

func (b *Buffer) PrimaryHead() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.primary.head
}

func (b *Buffer) SecondaryHead() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.secondary.head
}

func (b *Buffer) ActiveRegion() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeRegion
}

// Reset clears both regions' cursors to zero, used after a checkpoint folds
// the whole WAL into a new snapshot.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.primary = region{base: b.primary.base, size: b.primary.size}
	b.secondary = region{base: b.secondary.base, size: b.secondary.size}
	b.activeRegion = 0
}

// DiscardPending is the rollback-time counterpart to WriteRecord: the
// Rollback record itself was already appended (it is non-durable intent
// per spec.md §4.9), so this is a no-op placeholder for callers that want
// an explicit "I am not keeping anything past this point" signal without
// actually truncating already-written bytes.
func (b *Buffer) DiscardPending() {}

// SwitchToSecondary redirects future appends to the secondary region.
func (b *Buffer) SwitchToSecondary() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeRegion = 1
}

// SwitchToPrimary redirects future appends back to the primary region.
func (b *Buffer) SwitchToPrimary() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeRegion = 0
}

// MergeSecondaryIntoPrimary relocates every record written to the
// secondary region onto the end of the primary region (at its head),
// preserving order,
// then clears the secondary region. Used once a background checkpoint's
// new snapshot has landed (spec.md §4.10 step 4).
func (b *Buffer) MergeSecondaryIntoPrimary() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.secondary.head == 0 {
		b.secondary = region{base: b.secondary.base, size: b.secondary.size}
		b.activeRegion = 0
		return nil
	}

	secBuf := make([]byte, b.secondary.head)
	if err := b.readAt(&b.secondary, 0, secBuf); err != nil {
		return err
	}

	// Replay records out of the secondary buffer in order and re-encode
	// them onto the primary region; this keeps record boundaries aligned
	// rather than doing a raw byte copy, so skip markers from the
	// secondary region never leak into the primary one.
	offset := 0
	for offset < len(secBuf) {
		rec, consumed, isSkip, ok := decode(secBuf[offset:])
		if !ok {
			break
		}
		offset += consumed
		if isSkip {
			continue
		}
		if b.primary.used()+uint64(encodedLen(rec))+Alignment > b.primary.size {
			return &rerrors.InternalError{Reason: "primary wal region full during merge"}
		}
		remaining := b.primary.size - b.primary.head
		need := uint64(encodedLen(rec))
		if remaining < need {
			if remaining >= headerSize {
				if err := b.writeAt(&b.primary, b.primary.head, skipMarkerBytes()); err != nil {
					return err
				}
			}
			b.primary.head = 0
		}
		buf := make([]byte, need)
		encode(rec, buf)
		if err := b.writeAt(&b.primary, b.primary.head, buf); err != nil {
			return err
		}
		b.primary.head += need
	}

	b.secondary = region{base: b.secondary.base, size: b.secondary.size}
	b.activeRegion = 0
	return nil
}

func (b *Buffer) readAt(r *region, off uint64, dst []byte) error {
	absolute := b.startPage*b.pageSize + r.base + off
	startPage := absolute / b.pageSize
	pageOff := absolute % b.pageSize
	spanBytes := pageOff + uint64(len(dst))
	spanPages := (spanBytes + b.pageSize - 1) / b.pageSize

	buf := make([]byte, spanPages*b.pageSize)
	for i := uint64(0); i < spanPages; i++ {
		page, err := b.pgr.ReadPage(startPage + i)
		if err != nil {
			return err
		}
		copy(buf[i*b.pageSize:], page)
	}
	copy(dst, buf[pageOff:])
	return nil
}

// Stats summarizes the active region's fill level, used to decide whether
// an auto-checkpoint should fire.
type Stats struct {
	Used          uint64
	Capacity      uint64
	Head          uint64
	Tail          uint64
	PrimaryHead   uint64
	SecondaryHead uint64
}

func (b *Buffer) StatsSnapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.active()
	return Stats{
		Used:          r.used(),
		Capacity:      r.size,
		Head:          r.head,
		Tail:          r.tail,
		PrimaryHead:   b.primary.head,
		SecondaryHead: b.secondary.head,
	}
}

// ReadAll returns every record currently stored in the region identified by
// which (0 = primary, 1 = secondary), in write order, used for replay on
// open. Skip markers are consumed transparently.
func (b *Buffer) ReadAll(which uint8) ([]Record, error) {
	b.mu.Lock()
	var r *region
	if which == 1 {
		r = &b.secondary
	} else {
		r = &b.primary
	}
	head := r.head
	reg := *r
	b.mu.Unlock()

	if head == 0 {
		return nil, nil
	}

	buf := make([]byte, head)
	if err := b.readAt(&reg, 0, buf); err != nil {
		return nil, err
	}

	var records []Record
	offset := 0
	for offset < len(buf) {
		rec, consumed, isSkip, ok := decode(buf[offset:])
		if !ok {
			// Corrupt tail: stop scanning, keep what decoded cleanly
			// (spec.md §7 "WAL parse errors during replay terminate the scan").
			break
		}
		offset += consumed
		if isSkip {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
