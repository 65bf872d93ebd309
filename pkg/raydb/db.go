// Package raydb is the database controller described in spec.md §4.9: it
// bundles the pager, WAL buffer, delta overlay, snapshot reader, schema,
// vector store manager and MVCC version store behind the lock order
// spec.md §5 lays out, and owns Open/Close/recovery plus the checkpoint
// pipeline in checkpoint.go.
package raydb

import (
	"os"
	"sync"

	"github.com/bobboyms/storage-engine/pkg/delta"
	"github.com/bobboyms/storage-engine/pkg/model"
	"github.com/bobboyms/storage-engine/pkg/mvcc"
	"github.com/bobboyms/storage-engine/pkg/pager"
	"github.com/bobboyms/storage-engine/pkg/rerrors"
	"github.com/bobboyms/storage-engine/pkg/schema"
	"github.com/bobboyms/storage-engine/pkg/snapshot"
	"github.com/bobboyms/storage-engine/pkg/vectorstore"
	"github.com/bobboyms/storage-engine/pkg/walbuf"
	"github.com/rs/zerolog"
)

// checkpointStatus is the Idle/Running/Completing machine spec.md §4.10
// uses to make a background checkpoint safe to re-enter.
type checkpointStatus int

const (
	checkpointIdle checkpointStatus = iota
	checkpointRunning
	checkpointCompleting
)

// DB is the open handle returned by Open. The field grouping mirrors the
// lock order current_tx -> vector_stores -> delta -> snapshot ->
// wal_buffer -> pager -> header -> checkpoint_status -> mvcc.tx_manager ->
// mvcc.version_chain: code that must hold more than one of these locks at
// once acquires them in this order.
type DB struct {
	path string
	opts Options

	txMu      sync.Mutex
	currentTx *Tx

	vectorStores *vectorstore.Manager

	deltaMu sync.RWMutex
	delta   *delta.Overlay

	snapshotMu  sync.RWMutex
	snapMapping *pager.SnapshotMapping
	snapReader  *snapshot.Reader

	wal *walbuf.Buffer

	pgr *pager.Pager

	headerMu sync.Mutex
	header   *dbHeader

	checkpointMu    sync.Mutex
	checkpointState checkpointStatus
	// pendingGen is the generation a background checkpoint build is
	// targeting, in-memory only. Begin() tags new transactions with it
	// instead of header.ActiveSnapshotGen while it is nonzero, so their WAL
	// records aren't misclassified as already-folded once the build
	// installs; it is never persisted; only header.ActiveSnapshotGen (set
	// after the build actually succeeds) is.
	pendingGen uint32

	txManager *mvcc.TxManager
	versions  *mvcc.VersionStore

	schema     *schema.Schema
	allocators *schema.Allocators

	compressor snapshot.Compressor

	logger zerolog.Logger
}

// Open opens an existing database at path, or creates one if it does not
// exist and opts.CreateIfMissing is set.
func Open(path string, opts Options) (*DB, error) {
	_, statErr := os.Stat(path)
	exists := statErr == nil
	if statErr != nil && !os.IsNotExist(statErr) {
		return nil, &rerrors.IoError{Op: "stat", Err: statErr}
	}

	if !exists {
		if !opts.CreateIfMissing {
			return nil, &rerrors.InvalidPathError{Path: path}
		}
		if opts.ReadOnly {
			return nil, &rerrors.ReadOnlyError{}
		}
		return create(path, opts)
	}
	return openExisting(path, opts)
}

func create(path string, opts Options) (*DB, error) {
	if !pager.ValidPageSize(opts.PageSize) {
		return nil, &rerrors.InvalidPageSizeError{PageSize: opts.PageSize}
	}
	pgr, err := pager.Open(path, opts.PageSize, true)
	if err != nil {
		return nil, err
	}

	walStart := uint64(1)
	walPages := opts.WalPages
	if walPages == 0 {
		walPages = 1
	}
	if _, err := pgr.AllocatePages(1 + walPages); err != nil {
		pgr.Close()
		return nil, err
	}

	h := &dbHeader{
		Magic:             headerMagic,
		Version:           headerVersion,
		PageSize:          opts.PageSize,
		WalStartPage:      walStart,
		WalPageCount:      walPages,
		SnapshotStartPage: walStart + walPages,
		SnapshotPageCount: 0,
		ActiveSnapshotGen: 0,
		DbSizePages:       walStart + walPages,
		MaxNodeId:         0,
		NextTxId:          1,
		LastCommitTs:      0,
		ChangeCounter:     0,
	}

	db := newDB(path, opts, pgr, h)
	db.wal = walbuf.Open(pgr, h.WalStartPage, h.WalPageCount)

	if err := db.persistHeaderLocked(); err != nil {
		pgr.Close()
		return nil, err
	}
	if err := pgr.Sync(); err != nil {
		pgr.Close()
		return nil, err
	}
	return db, nil
}

func openExisting(path string, opts Options) (*DB, error) {
	// Page 0's header fields always fit in the first HeaderPageSize bytes
	// of the file regardless of the configured data page size (>= 4096),
	// so a provisional pager at the minimum page size is enough to read it.
	probe, err := pager.Open(path, pager.MinPageSize, false)
	if err != nil {
		return nil, err
	}
	page0, err := probe.ReadPage(0)
	probe.Close()
	if err != nil {
		return nil, err
	}
	h, err := decodeHeader(page0)
	if err != nil {
		return nil, err
	}

	pgr, err := pager.Open(path, h.PageSize, false)
	if err != nil {
		return nil, err
	}

	db := newDB(path, opts, pgr, h)
	db.wal = walbuf.Open(pgr, h.WalStartPage, h.WalPageCount)
	db.wal.RestoreCursors(h.WalPrimaryHead, h.WalSecondaryHead, uint8(h.ActiveWalRegion))

	if h.SnapshotPageCount > 0 {
		if err := db.mapSnapshotLocked(h.SnapshotStartPage, h.SnapshotPageCount); err != nil {
			pgr.Close()
			return nil, err
		}
		db.loadSchemaFromSnapshot()
	}

	if err := db.recoverFromWal(); err != nil {
		pgr.Close()
		return nil, err
	}

	if h.CheckpointInProgress {
		db.logger.Warn().Msg("reopened after a background checkpoint was interrupted mid-build; the prior generation's snapshot and WAL are intact, recovering from them")
		db.headerMu.Lock()
		db.header.CheckpointInProgress = false
		err := db.persistHeaderLocked()
		db.headerMu.Unlock()
		if err != nil {
			pgr.Close()
			return nil, err
		}
	}

	return db, nil
}

func newDB(path string, opts Options, pgr *pager.Pager, h *dbHeader) *DB {
	return &DB{
		path:         path,
		opts:         opts,
		pgr:          pgr,
		header:       h,
		delta:        delta.New(),
		schema:       schema.New(),
		allocators:   &schema.Allocators{},
		vectorStores: vectorstore.New(),
		txManager:    mvcc.NewTxManager(),
		versions:     mvcc.NewVersionStore(),
		compressor:   newZstdCompressor(),
		logger:       opts.Logger,
	}
}

// mapSnapshotLocked maps and parses the snapshot region at (startPage,
// pageCount), replacing any previously held mapping.
func (db *DB) mapSnapshotLocked(startPage, pageCount uint64) error {
	mapping, err := db.pgr.MapSnapshot(startPage, pageCount)
	if err != nil {
		return err
	}
	reader, err := snapshot.Open(mapping.Bytes(), db.compressor)
	if err != nil {
		mapping.Release()
		db.logger.Warn().Err(err).Msg("snapshot parse failed at open, starting from an empty graph")
		return nil
	}

	db.snapshotMu.Lock()
	if db.snapMapping != nil {
		db.snapMapping.Release()
	}
	db.snapMapping = mapping
	db.snapReader = reader
	db.snapshotMu.Unlock()
	return nil
}

// loadSchemaFromSnapshot binds every label/etype/propkey name recorded in
// the snapshot and raises allocator ceilings to match.
func (db *DB) loadSchemaFromSnapshot() {
	db.snapshotMu.RLock()
	r := db.snapReader
	db.snapshotMu.RUnlock()
	if r == nil {
		return
	}
	for id, name := range r.Labels() {
		db.schema.Labels.Bind(id, name)
		db.allocators.BumpLabelCeiling(id)
	}
	for id, name := range r.Etypes() {
		db.schema.Etypes.Bind(id, name)
		db.allocators.BumpEtypeCeiling(id)
	}
	for id, name := range r.Propkeys() {
		db.schema.Propkeys.Bind(id, name)
		db.allocators.BumpPropKeyCeiling(id)
	}
	db.allocators.BumpNodeCeiling(model.NodeId(r.Header.MaxNodeId))

	stores, err := r.VectorStores()
	if err != nil {
		db.logger.Warn().Err(err).Msg("vector store section parse failed, continuing without it")
		return
	}
	for _, s := range stores {
		db.vectorStores.LoadAll(s.PropKey, s.Vectors, s.Dimension)
	}
	if len(stores) == 0 {
		for phys := 0; phys < r.NumNodes(); phys++ {
			vecs, err := r.LegacyVectorProps(uint32(phys))
			if err != nil {
				continue
			}
			id, _ := r.GetNodeId(uint32(phys))
			for k, v := range vecs {
				if err := db.vectorStores.Drain([]vectorstore.DrainEntry{{Node: id, Key: k, Vector: v}}); err != nil {
					db.logger.Warn().Err(err).Msg("legacy vector property load failed, skipping")
				}
			}
		}
	}
}

// Close releases the snapshot mapping and closes the pager. The caller
// must not hold an open transaction.
func (db *DB) Close() error {
	db.snapshotMu.Lock()
	if db.snapMapping != nil {
		db.snapMapping.Release()
		db.snapMapping = nil
	}
	db.snapshotMu.Unlock()
	return db.pgr.Close()
}

// persistHeaderLocked writes the in-memory header to page 0. Callers must
// hold headerMu.
func (db *DB) persistHeaderLocked() error {
	buf := db.header.encode()
	if uint32(len(buf)) < db.header.PageSize {
		padded := make([]byte, db.header.PageSize)
		copy(padded, buf)
		buf = padded
	}
	return db.pgr.WritePage(0, buf)
}
