package raydb

import "github.com/rs/zerolog"

// SyncMode controls how aggressively Commit forces WAL bytes to disk,
// mirroring the tradeoff the teacher's wal.SyncPolicy documents.
type SyncMode int

const (
	// SyncAlways fsyncs the WAL after every commit. Safest, slowest.
	SyncAlways SyncMode = iota

	// SyncCheckpoint defers fsync to checkpoint boundaries only.
	SyncCheckpoint

	// SyncOff never fsyncs explicitly, relying on the OS page cache and an
	// eventual checkpoint or close. Fastest, least durable.
	SyncOff
)

// Options configures Open, following the teacher's pattern of a plain
// struct plus a DefaultOptions constructor rather than functional options.
type Options struct {
	// ReadOnly opens the file without acquiring the write lock or
	// allocating new pages; any write transaction (DB.Begin(false)) fails
	// with *rerrors.ReadOnlyError.
	ReadOnly bool

	// CreateIfMissing creates and initializes a new database file when the
	// path does not exist.
	CreateIfMissing bool

	// PageSize is used only when creating a new file; must satisfy
	// pager.ValidPageSize. Ignored when opening an existing file (the
	// file's own header page size wins).
	PageSize uint32

	// WalPages is the number of pages reserved for the WAL region when
	// creating a new file, split evenly between the primary and secondary
	// halves.
	WalPages uint64

	// AutoCheckpoint triggers a checkpoint once the active WAL region's
	// fill ratio crosses CheckpointThreshold.
	AutoCheckpoint      bool
	CheckpointThreshold float64

	// BackgroundCheckpoint runs auto-checkpoints via CheckpointBackground
	// instead of the blocking Checkpoint, keeping writers unblocked while
	// a new snapshot is built.
	BackgroundCheckpoint bool

	SyncMode SyncMode

	// Logger receives the "logged, not surfaced" events spec.md §7 calls
	// out: WAL replay termination, snapshot-parse fallback, checkpoint
	// failures. Defaults to a no-op logger.
	Logger zerolog.Logger
}

// DefaultOptions returns a safe configuration for a new or existing file,
// matching the conservative defaults the teacher's wal.DefaultOptions uses.
func DefaultOptions() Options {
	return Options{
		ReadOnly:             false,
		CreateIfMissing:      true,
		PageSize:             4096,
		WalPages:             256,
		AutoCheckpoint:       true,
		CheckpointThreshold:  0.75,
		BackgroundCheckpoint: true,
		SyncMode:             SyncCheckpoint,
		Logger:               zerolog.Nop(),
	}
}
