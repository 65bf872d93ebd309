// Package walbuf implements the circular write-ahead log region described
// in spec.md §4.2: length-prefixed, 8-byte-aligned records over a fixed
// contiguous page range, with a skip marker for wrap-around and a
// primary/secondary split so a background checkpoint can keep accepting
// writes while a new snapshot is built.
package walbuf

import "encoding/binary"

// RecordType tags a WAL record's payload shape.
type RecordType uint16

const (
	Begin RecordType = iota + 1
	Commit
	Rollback
	CreateNode
	DeleteNode
	AddEdge
	DeleteEdge
	SetNodeProp
	DelNodeProp
	SetEdgeProp
	DelEdgeProp
	DefineLabel
	DefineEtype
	DefinePropkey
	SetNodeVector
	DelNodeVector
	AddNodeLabel
	DelNodeLabel
)

const (
	// skipMarkerType is placed in the type field of a skip record; a
	// length of 0 together with this type means "jump to offset 0" per
	// spec.md §4.2.
	skipMarkerType RecordType = 0xFFFF

	// headerSize is len(4) + type(2) + reserved(2) + txid(8) + gen(4) = 20,
	// rounded up by callers to the 8-byte alignment.
	headerSize = 20

	// Alignment is the fixed record alignment "A" from spec.md §4.2.
	Alignment = 8
)

// Record is one WAL entry: a typed, transaction-tagged payload plus the
// snapshot generation it was written against (Resolved Open Question #1
// in SPEC_FULL.md — used to filter stale records out of replay after a
// snapshot load).
type Record struct {
	Type    RecordType
	TxId    uint64
	Gen     uint32
	Payload []byte
}

// AlignUp rounds n up to the next multiple of Alignment.
func AlignUp(n int) int {
	rem := n % Alignment
	if rem == 0 {
		return n
	}
	return n + (Alignment - rem)
}

// encodedLen returns the total on-wire size of r once padded to Alignment.
func encodedLen(r Record) int {
	return AlignUp(headerSize + len(r.Payload))
}

// encode writes r's wire representation into buf, which must be at least
// encodedLen(r) bytes. Returns the number of bytes written (including
// alignment padding).
func encode(r Record, buf []byte) int {
	total := encodedLen(r)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(headerSize+len(r.Payload)-8))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(r.Type))
	binary.LittleEndian.PutUint16(buf[6:8], 0) // reserved
	binary.LittleEndian.PutUint64(buf[8:16], r.TxId)
	binary.LittleEndian.PutUint32(buf[16:20], r.Gen)
	copy(buf[20:20+len(r.Payload)], r.Payload)
	for i := 20 + len(r.Payload); i < total; i++ {
		buf[i] = 0
	}
	return total
}

// decode reads one record starting at buf[0]. Returns the record, the
// number of bytes consumed (including alignment padding), whether it was a
// skip marker, and ok=false if the header looks corrupt or is truncated. A
// skip marker consumes the rest of buf, since the bytes after it up to the
// region's end are unused.
func decode(buf []byte) (rec Record, consumed int, isSkip bool, ok bool) {
	if len(buf) < headerSize {
		return Record{}, 0, false, false
	}
	length := binary.LittleEndian.Uint32(buf[0:4])
	typ := RecordType(binary.LittleEndian.Uint16(buf[4:6]))

	if length == 0 && typ == skipMarkerType {
		return Record{}, len(buf), true, true
	}

	payloadLen := int(length) - (headerSize - 8)
	if payloadLen < 0 || headerSize+payloadLen > len(buf) {
		return Record{}, 0, false, false
	}

	txid := binary.LittleEndian.Uint64(buf[8:16])
	gen := binary.LittleEndian.Uint32(buf[16:20])
	payload := append([]byte(nil), buf[20:20+payloadLen]...)

	rec = Record{Type: typ, TxId: txid, Gen: gen, Payload: payload}
	consumed = AlignUp(headerSize + payloadLen)
	return rec, consumed, false, true
}

func skipMarkerBytes() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], 0)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(skipMarkerType))
	return buf
}
