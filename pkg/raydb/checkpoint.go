package raydb

import (
	"github.com/bobboyms/storage-engine/pkg/delta"
	"github.com/bobboyms/storage-engine/pkg/model"
	"github.com/bobboyms/storage-engine/pkg/rerrors"
	"github.com/bobboyms/storage-engine/pkg/snapshot"
)

// edgeIdentity dedups an edge across the snapshot/delta merge regardless
// of which side contributed it.
type edgeIdentity struct {
	Src   model.NodeId
	Etype model.EtypeId
	Dst   model.NodeId
}

// collectGraphData merges the current snapshot with the given delta
// overlay into the plain node/edge slices snapshot.Writer.Build expects.
// The foreground path passes db.delta directly under deltaMu+snapshotMu;
// the background path passes a detached Clone() taken once up front, so
// the (possibly lengthy) merge never holds deltaMu for its duration.
func (db *DB) collectGraphData(overlay *delta.Overlay) ([]model.NodeData, []model.EdgeData) {
	deleted := overlay.DeletedNodes()
	ids := make(map[model.NodeId]struct{})

	if db.snapReader != nil {
		n := db.snapReader.NumNodes()
		for phys := 0; phys < n; phys++ {
			id, ok := db.snapReader.GetNodeId(uint32(phys))
			if !ok {
				continue
			}
			if _, gone := deleted[id]; gone {
				continue
			}
			ids[id] = struct{}{}
		}
	}
	for id := range overlay.CreatedNodes() {
		if _, gone := deleted[id]; !gone {
			ids[id] = struct{}{}
		}
	}

	overlayEdgeProps := make(map[edgeIdentity]map[model.PropKeyId]*model.PropValue)
	for k, v := range overlay.EdgePropsAll() {
		overlayEdgeProps[edgeIdentity{Src: k.Src, Etype: k.Etype, Dst: k.Dst}] = v
	}

	nodes := make([]model.NodeData, 0, len(ids))
	edgeSet := make(map[edgeIdentity]model.EdgeData)
	for id := range ids {
		nodes = append(nodes, db.collectNode(overlay, id))
		for _, e := range db.collectOutEdges(overlay, id, overlayEdgeProps) {
			edgeSet[edgeIdentity{Src: e.Src, Etype: e.Etype, Dst: e.Dst}] = e
		}
	}

	edges := make([]model.EdgeData, 0, len(edgeSet))
	for _, e := range edgeSet {
		if _, ok := ids[e.Src]; !ok {
			continue
		}
		if _, ok := ids[e.Dst]; !ok {
			continue
		}
		edges = append(edges, e)
	}
	return nodes, edges
}

func (db *DB) collectNode(overlay *delta.Overlay, id model.NodeId) model.NodeData {
	nd := model.NodeData{Id: id, Props: make(map[model.PropKeyId]model.PropValue)}
	labelSet := make(map[model.LabelId]struct{})

	if db.snapReader != nil {
		if phys, ok := db.snapReader.GetPhysNode(id); ok {
			if key, ok := db.snapReader.GetNodeKey(phys); ok {
				nd.Key = key
			}
			for _, l := range db.snapReader.GetNodeLabels(phys) {
				labelSet[l] = struct{}{}
			}
			if props, err := db.snapReader.GetNodeProps(phys); err == nil {
				for k, v := range props {
					nd.Props[k] = v
				}
			}
		}
	}

	if nodeDelta := overlay.GetNodeDelta(id); nodeDelta != nil {
		if nodeDelta.Key != nil {
			nd.Key = *nodeDelta.Key
		}
		for _, l := range nodeDelta.Labels {
			labelSet[l] = struct{}{}
		}
		for _, l := range nodeDelta.LabelsDeleted {
			delete(labelSet, l)
		}
		for k, v := range nodeDelta.Props {
			if v == nil {
				delete(nd.Props, k)
			} else {
				nd.Props[k] = *v
			}
		}
	}

	nd.Labels = make([]model.LabelId, 0, len(labelSet))
	for l := range labelSet {
		nd.Labels = append(nd.Labels, l)
	}
	return nd
}

func (db *DB) collectOutEdges(overlay *delta.Overlay, id model.NodeId, overlayEdgeProps map[edgeIdentity]map[model.PropKeyId]*model.PropValue) []model.EdgeData {
	set := make(map[edgeCandidate]struct{})

	if db.snapReader != nil {
		if phys, ok := db.snapReader.GetPhysNode(id); ok {
			if views, err := db.snapReader.IterOutEdges(phys); err == nil {
				for _, v := range views {
					if dst, ok := db.snapReader.GetNodeId(v.DstPhys); ok {
						set[edgeCandidate{Etype: v.Etype, Other: dst}] = struct{}{}
					}
				}
			}
		}
	}
	for _, p := range overlay.OutEdgesAdded(id) {
		set[edgeCandidate{Etype: p.Etype, Other: p.Other}] = struct{}{}
	}
	for _, p := range overlay.OutEdgesDeleted(id) {
		delete(set, edgeCandidate{Etype: p.Etype, Other: p.Other})
	}

	out := make([]model.EdgeData, 0, len(set))
	for c := range set {
		props := make(map[model.PropKeyId]model.PropValue)
		if db.snapReader != nil {
			srcPhys, ok1 := db.snapReader.GetPhysNode(id)
			dstPhys, ok2 := db.snapReader.GetPhysNode(c.Other)
			if ok1 && ok2 {
				if idx, ok := db.snapReader.FindEdgeIndex(srcPhys, c.Etype, dstPhys); ok {
					if p, err := db.snapReader.GetEdgeProps(idx); err == nil {
						for k, v := range p {
							props[k] = v
						}
					}
				}
			}
		}
		if overlay, ok := overlayEdgeProps[edgeIdentity{Src: id, Etype: c.Etype, Dst: c.Other}]; ok {
			for k, v := range overlay {
				if v == nil {
					delete(props, k)
				} else {
					props[k] = *v
				}
			}
		}
		out = append(out, model.EdgeData{Src: id, Dst: c.Other, Etype: c.Etype, Props: props})
	}
	return out
}

// buildSnapshotBytes assembles the next-generation snapshot buffer from
// overlay merged with the currently held snapshot. The blocking path calls
// this with deltaMu and snapshotMu held; the background path calls it with
// a detached overlay and only snapshotMu held for reading.
func (db *DB) buildSnapshotBytes(overlay *delta.Overlay, generation uint64) ([]byte, error) {
	nodes, edges := db.collectGraphData(overlay)

	var vectorStores []snapshot.VectorStoreInput
	for _, k := range db.vectorStores.PropKeys() {
		store := db.vectorStores.StoreFor(k)
		vectorStores = append(vectorStores, snapshot.VectorStoreInput{
			PropKey:   k,
			Dimension: store.Dimension(),
			Vectors:   store.All(),
		})
	}

	return snapshot.NewWriter().Build(snapshot.BuildInput{
		Generation:   generation,
		Nodes:        nodes,
		Edges:        edges,
		Labels:       db.schema.Labels.All(),
		Etypes:       db.schema.Etypes.All(),
		Propkeys:     db.schema.Propkeys.All(),
		VectorStores: vectorStores,
		Compressor:   db.compressor,
	})
}

// remapSnapshotLocked replaces the held snapshot mapping/reader with the
// region at (startPage, pageCount). Callers must hold snapshotMu.
func (db *DB) remapSnapshotLocked(startPage, pageCount uint64) error {
	mapping, err := db.pgr.MapSnapshot(startPage, pageCount)
	if err != nil {
		return err
	}
	reader, err := snapshot.Open(mapping.Bytes(), db.compressor)
	if err != nil {
		mapping.Release()
		return err
	}
	if db.snapMapping != nil {
		db.snapMapping.Release()
	}
	db.snapMapping = mapping
	db.snapReader = reader
	return nil
}

// runCheckpoint builds a new snapshot generation from the current
// delta+snapshot merge, writes it to pages appended at the end of the file
// (AllocatePages), resets the WAL, and clears the delta. Only the first
// snapshot lands directly after the WAL region; earlier snapshot regions
// are not reused. Called by the blocking Checkpoint; the background path
// uses runBackgroundCheckpoint instead.
func (db *DB) runCheckpoint() error {
	db.deltaMu.Lock()
	defer db.deltaMu.Unlock()
	db.snapshotMu.Lock()
	defer db.snapshotMu.Unlock()

	db.headerMu.Lock()
	newGen := uint64(db.header.ActiveSnapshotGen) + 1
	pageSize := uint64(db.header.PageSize)
	db.headerMu.Unlock()

	buf, err := db.buildSnapshotBytes(db.delta, newGen)
	if err != nil {
		return err
	}
	if rem := uint64(len(buf)) % pageSize; rem != 0 {
		buf = append(buf, make([]byte, pageSize-rem)...)
	}
	pageCount := uint64(len(buf)) / pageSize

	startPage, err := db.pgr.AllocatePages(pageCount)
	if err != nil {
		return err
	}
	if err := db.pgr.WritePages(startPage, buf); err != nil {
		return err
	}
	if err := db.pgr.Sync(); err != nil {
		return err
	}

	if err := db.remapSnapshotLocked(startPage, pageCount); err != nil {
		return err
	}

	db.wal.Reset()
	db.delta.Clear()

	db.headerMu.Lock()
	db.header.ActiveSnapshotGen = uint32(newGen)
	db.header.SnapshotStartPage = startPage
	db.header.SnapshotPageCount = pageCount
	db.header.DbSizePages = startPage + pageCount
	db.header.MaxNodeId = uint64(db.allocators.MaxNodeId())
	db.header.NextTxId = uint64(db.allocators.NextTxCeiling())
	db.header.WalHead = 0
	db.header.WalTail = 0
	db.header.WalPrimaryHead = 0
	db.header.WalSecondaryHead = 0
	db.header.ActiveWalRegion = RegionPrimary
	db.header.ChangeCounter++
	err = db.persistHeaderLocked()
	db.headerMu.Unlock()
	if err != nil {
		return err
	}
	return db.pgr.Sync()
}

// Checkpoint blocks until a fresh snapshot generation has been built and
// installed, rejecting if the database is read-only or a write
// transaction is in progress. If another checkpoint is already running,
// it returns nil without building anything.
func (db *DB) Checkpoint() error {
	if db.opts.ReadOnly {
		return &rerrors.ReadOnlyError{}
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()
	if db.currentTx != nil {
		return &rerrors.TransactionInProgressError{}
	}

	if !db.tryStartCheckpoint() {
		return nil
	}
	defer db.finishCheckpoint()

	return db.runCheckpoint()
}

// CheckpointBackground triggers a checkpoint on a separate goroutine and
// returns immediately without taking txMu, per spec.md §4.10's Idle ->
// Running -> Completing machine: new write transactions keep committing
// against the WAL's secondary region while the new snapshot generation is
// built from a detached copy of the delta, and only the brief "Completing"
// step (remap + merge + header swap) needs exclusive access. Failures are
// logged rather than surfaced, matching maybeAutoCheckpoint's "don't let
// housekeeping break a caller's commit" contract.
func (db *DB) CheckpointBackground() {
	if !db.tryStartCheckpoint() {
		return
	}
	go func() {
		defer db.finishCheckpoint()
		if err := db.runBackgroundCheckpoint(); err != nil {
			db.logger.Warn().Err(err).Msg("background checkpoint failed")
		}
	}()
}

// runBackgroundCheckpoint implements the non-blocking path: Running builds
// the snapshot off a cloned overlay while writers keep going against the
// WAL's secondary region (walbuf.Buffer.SwitchToSecondary); Completing
// briefly takes snapshotMu and headerMu to install the result and fold the
// secondary region back into the primary
// (walbuf.Buffer.MergeSecondaryIntoPrimary).
func (db *DB) runBackgroundCheckpoint() error {
	db.deltaMu.RLock()
	overlay := db.delta.Clone()
	db.deltaMu.RUnlock()

	db.headerMu.Lock()
	newGen := uint64(db.header.ActiveSnapshotGen) + 1
	pageSize := uint64(db.header.PageSize)
	db.pendingGen = uint32(newGen)
	db.header.CheckpointInProgress = true
	err := db.persistHeaderLocked()
	db.headerMu.Unlock()
	if err != nil {
		db.headerMu.Lock()
		db.pendingGen = 0
		db.header.CheckpointInProgress = false
		db.headerMu.Unlock()
		return err
	}

	db.wal.SwitchToSecondary()

	db.snapshotMu.RLock()
	buf, err := db.buildSnapshotBytes(overlay, newGen)
	db.snapshotMu.RUnlock()
	if err != nil {
		db.abortBackgroundCheckpoint()
		return err
	}
	if rem := uint64(len(buf)) % pageSize; rem != 0 {
		buf = append(buf, make([]byte, pageSize-rem)...)
	}
	pageCount := uint64(len(buf)) / pageSize

	startPage, err := db.pgr.AllocatePages(pageCount)
	if err != nil {
		db.abortBackgroundCheckpoint()
		return err
	}
	if err := db.pgr.WritePages(startPage, buf); err != nil {
		db.abortBackgroundCheckpoint()
		return err
	}
	if err := db.pgr.Sync(); err != nil {
		db.abortBackgroundCheckpoint()
		return err
	}

	db.checkpointMu.Lock()
	db.checkpointState = checkpointCompleting
	db.checkpointMu.Unlock()

	db.snapshotMu.Lock()
	err = db.remapSnapshotLocked(startPage, pageCount)
	db.snapshotMu.Unlock()
	if err != nil {
		db.abortBackgroundCheckpoint()
		return err
	}

	if err := db.wal.MergeSecondaryIntoPrimary(); err != nil {
		// The new snapshot generation is already valid on disk; only the
		// WAL regions failed to fold back together. Leave writers on the
		// secondary region - recoverFromWal already reads both regions
		// unconditionally, and the next checkpoint attempt will retry the
		// merge - and still install the generation bump below.
		db.logger.Warn().Err(err).Msg("background checkpoint: secondary WAL region could not be merged into primary, leaving it active")
	}

	db.headerMu.Lock()
	db.header.ActiveSnapshotGen = uint32(newGen)
	db.header.SnapshotStartPage = startPage
	db.header.SnapshotPageCount = pageCount
	db.header.DbSizePages = startPage + pageCount
	db.header.MaxNodeId = uint64(db.allocators.MaxNodeId())
	db.header.NextTxId = uint64(db.allocators.NextTxCeiling())
	db.header.WalHead = db.wal.Head()
	db.header.WalPrimaryHead = db.wal.PrimaryHead()
	db.header.WalSecondaryHead = db.wal.SecondaryHead()
	db.header.ActiveWalRegion = Region(db.wal.ActiveRegion())
	db.header.CheckpointInProgress = false
	db.header.ChangeCounter++
	db.pendingGen = 0
	err = db.persistHeaderLocked()
	db.headerMu.Unlock()
	if err != nil {
		return err
	}
	return db.pgr.Sync()
}

// abortBackgroundCheckpoint unwinds a failed build: it best-effort folds
// anything writers staged into the secondary region back into the primary
// one, switches new writes back to the primary region, and clears the
// in-flight markers so the next attempt starts clean.
func (db *DB) abortBackgroundCheckpoint() {
	// MergeSecondaryIntoPrimary already flips activeRegion back to primary
	// on success, including the empty-secondary case where nothing was
	// ever written to it.
	if err := db.wal.MergeSecondaryIntoPrimary(); err != nil {
		db.logger.Warn().Err(err).Msg("background checkpoint abort: secondary WAL region could not be merged into primary, leaving it active")
	}

	db.headerMu.Lock()
	db.pendingGen = 0
	db.header.CheckpointInProgress = false
	db.header.WalHead = db.wal.Head()
	db.header.WalPrimaryHead = db.wal.PrimaryHead()
	db.header.WalSecondaryHead = db.wal.SecondaryHead()
	db.header.ActiveWalRegion = Region(db.wal.ActiveRegion())
	if err := db.persistHeaderLocked(); err != nil {
		db.logger.Warn().Err(err).Msg("background checkpoint abort: header persist failed")
	}
	db.headerMu.Unlock()
}

func (db *DB) tryStartCheckpoint() bool {
	db.checkpointMu.Lock()
	defer db.checkpointMu.Unlock()
	if db.checkpointState != checkpointIdle {
		return false
	}
	db.checkpointState = checkpointRunning
	return true
}

func (db *DB) finishCheckpoint() {
	db.checkpointMu.Lock()
	db.checkpointState = checkpointIdle
	db.checkpointMu.Unlock()
}

// maybeAutoCheckpoint fires after a commit when the active WAL region's
// fill ratio crosses opts.CheckpointThreshold. Errors are logged, never
// returned, so housekeeping never turns a successful commit into a
// failed one.
func (db *DB) maybeAutoCheckpoint() {
	if !db.opts.AutoCheckpoint {
		return
	}
	stats := db.wal.StatsSnapshot()
	if stats.Capacity == 0 {
		return
	}
	ratio := float64(stats.Used) / float64(stats.Capacity)
	if ratio < db.opts.CheckpointThreshold {
		return
	}

	if db.opts.BackgroundCheckpoint {
		db.CheckpointBackground()
		return
	}
	if err := db.Checkpoint(); err != nil {
		db.logger.Warn().Err(err).Msg("auto checkpoint failed")
	}
}
