// Package model holds the identifier and value types shared by every layer
// of the engine (pager excluded): delta overlay, snapshot reader/writer,
// vector store and MVCC version chains all speak in terms of these types
// so none of them need to import the top-level raydb package.
package model

// NodeId identifies a node in the logical graph. Monotonically allocated,
// never reused.
type NodeId uint64

// LabelId, EtypeId and PropKeyId identify schema entries. Append-only,
// unique, never rebound once a name is bound to an id (spec invariant I5).
type (
	LabelId   uint32
	EtypeId   uint32
	PropKeyId uint32
)

// TxId identifies a transaction. Monotonically allocated from the header's
// next_tx_id counter and the highest txid replayed from WAL.
type TxId uint64

// PhysIdx is a dense, 0-based index into the snapshot's node table,
// distinct from the logical NodeId.
type PhysIdx uint32
