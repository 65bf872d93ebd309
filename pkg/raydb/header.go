package raydb

import (
	"encoding/binary"

	"github.com/bobboyms/storage-engine/pkg/rerrors"
)

const (
	headerMagic   uint32 = 0x52415944 // "RAYD"
	headerVersion uint32 = 1

	// HeaderPageSize is the fixed size of the encoded header, independent
	// of the configured data page size, so the header can always be read
	// with a single 4096-byte pread before the page size itself is known.
	// Page 0 itself spans one data page; persistHeaderLocked zero-pads the
	// encoded header up to that size.
	HeaderPageSize = 4096
)

// Region identifies which half of the WAL is currently accepting writes.
type Region uint8

const (
	RegionPrimary Region = iota
	RegionSecondary
)

// dbHeader is the page-0 layout described in spec.md §6: enough state to
// locate the WAL and snapshot regions and resume a session without
// replaying anything beyond what's necessary.
type dbHeader struct {
	Magic               uint32
	Version             uint32
	PageSize            uint32
	WalStartPage        uint64
	WalPageCount        uint64
	WalHead             uint64
	WalTail             uint64
	WalPrimaryHead      uint64
	WalSecondaryHead    uint64
	ActiveWalRegion     Region
	CheckpointInProgress bool
	SnapshotStartPage   uint64
	SnapshotPageCount   uint64
	ActiveSnapshotGen   uint32
	DbSizePages         uint64
	MaxNodeId           uint64
	NextTxId            uint64
	LastCommitTs        uint64
	ChangeCounter       uint64
}

// headerSize is the number of bytes dbHeader occupies; the remainder of
// HeaderPageSize is zero-padding reserved for future fields, per spec.md
// §6's "readers must tolerate a larger header than they understand".
const headerSize = 4 + 4 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 1 + 1 + 8 + 8 + 4 + 8 + 8 + 8 + 8 + 8

func (h *dbHeader) encode() []byte {
	buf := make([]byte, HeaderPageSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.PageSize)
	binary.LittleEndian.PutUint64(buf[12:20], h.WalStartPage)
	binary.LittleEndian.PutUint64(buf[20:28], h.WalPageCount)
	binary.LittleEndian.PutUint64(buf[28:36], h.WalHead)
	binary.LittleEndian.PutUint64(buf[36:44], h.WalTail)
	binary.LittleEndian.PutUint64(buf[44:52], h.WalPrimaryHead)
	binary.LittleEndian.PutUint64(buf[52:60], h.WalSecondaryHead)
	buf[60] = byte(h.ActiveWalRegion)
	if h.CheckpointInProgress {
		buf[61] = 1
	}
	binary.LittleEndian.PutUint64(buf[62:70], h.SnapshotStartPage)
	binary.LittleEndian.PutUint64(buf[70:78], h.SnapshotPageCount)
	binary.LittleEndian.PutUint32(buf[78:82], h.ActiveSnapshotGen)
	binary.LittleEndian.PutUint64(buf[82:90], h.DbSizePages)
	binary.LittleEndian.PutUint64(buf[90:98], h.MaxNodeId)
	binary.LittleEndian.PutUint64(buf[98:106], h.NextTxId)
	binary.LittleEndian.PutUint64(buf[106:114], h.LastCommitTs)
	binary.LittleEndian.PutUint64(buf[114:122], h.ChangeCounter)
	return buf
}

func decodeHeader(buf []byte) (*dbHeader, error) {
	if len(buf) < headerSize {
		return nil, &rerrors.InvalidSnapshotError{Reason: "header page too short"}
	}
	h := &dbHeader{
		Magic:                binary.LittleEndian.Uint32(buf[0:4]),
		Version:              binary.LittleEndian.Uint32(buf[4:8]),
		PageSize:             binary.LittleEndian.Uint32(buf[8:12]),
		WalStartPage:         binary.LittleEndian.Uint64(buf[12:20]),
		WalPageCount:         binary.LittleEndian.Uint64(buf[20:28]),
		WalHead:              binary.LittleEndian.Uint64(buf[28:36]),
		WalTail:              binary.LittleEndian.Uint64(buf[36:44]),
		WalPrimaryHead:       binary.LittleEndian.Uint64(buf[44:52]),
		WalSecondaryHead:     binary.LittleEndian.Uint64(buf[52:60]),
		ActiveWalRegion:      Region(buf[60]),
		CheckpointInProgress: buf[61] != 0,
		SnapshotStartPage:    binary.LittleEndian.Uint64(buf[62:70]),
		SnapshotPageCount:    binary.LittleEndian.Uint64(buf[70:78]),
		ActiveSnapshotGen:    binary.LittleEndian.Uint32(buf[78:82]),
		DbSizePages:          binary.LittleEndian.Uint64(buf[82:90]),
		MaxNodeId:            binary.LittleEndian.Uint64(buf[90:98]),
		NextTxId:             binary.LittleEndian.Uint64(buf[98:106]),
		LastCommitTs:         binary.LittleEndian.Uint64(buf[106:114]),
		ChangeCounter:        binary.LittleEndian.Uint64(buf[114:122]),
	}
	if h.Magic != headerMagic {
		return nil, &rerrors.InvalidSnapshotError{Reason: "bad magic"}
	}
	return h, nil
}
