// Package types defines the domain entities exchanged with a blockberry
// node over the capability IPC interface, and the error taxonomy shared
// by all talkberry packages.
package types

// ChainTip is a snapshot of the node's best chain tip.
// It is re-fetched on every query; the tip may move between calls.
type ChainTip struct {
	Height int64
	Hash   Hash
}

// Block is a fully decoded block. A Block is never partially populated:
// either the whole response decoded, or the decode failed.
type Block struct {
	Hash       Hash
	PrevHash   Hash
	MerkleRoot Hash
	Timestamp  int64
	Nonce      uint32

	// Height is the node-reported height of this block in its chain.
	Height int64

	// Transactions preserves the node-reported order.
	Transactions []Transaction
}

// TxInput is a reference to a previous transaction output.
type TxInput struct {
	PrevTxid Hash
	Index    uint32
}

// TxOutput is a transaction output.
type TxOutput struct {
	Value  int64
	Script []byte
}

// Transaction is a fully decoded transaction. Identity is the txid.
type Transaction struct {
	Txid    Hash
	Inputs  []TxInput
	Outputs []TxOutput

	// Size is the serialized size in bytes as reported by the node.
	Size int64
}

// Equal reports whether two transactions are the same transaction.
// Equality is by txid, not by content.
func (tx Transaction) Equal(other Transaction) bool {
	return tx.Txid == other.Txid
}

// MempoolEntry describes a transaction's membership in the node's mempool
// at query time. It is not a durable record; the node may evict the
// transaction between calls.
type MempoolEntry struct {
	Txid        Hash
	Ancestors   uint64
	Descendants uint64
	Size        int64
	Fee         int64
}

// BlockTemplate is a candidate block returned by the node's template
// interface, passed through verbatim.
type BlockTemplate struct {
	PrevHash     Hash
	Height       int64
	CurTime      int64
	Bits         uint32
	Transactions []Transaction
}
