package schema

// Records and per-method parameter/result messages. Hash fields are raw
// 32-byte values; declared counts travel alongside their lists so the
// codec can cross-check them.

// BlockRecord is the wire form of a block with its transactions.
type BlockRecord struct {
	Hash       []byte
	PrevHash   []byte
	MerkleRoot []byte
	Timestamp  int64
	Nonce      uint32
	Height     int64
	TxCount    uint32
	Txs        []TransactionRecord
}

// TransactionRecord is the wire form of a transaction.
type TransactionRecord struct {
	Txid        []byte
	InputCount  uint32
	OutputCount uint32
	Inputs      []TxInputRecord
	Outputs     []TxOutputRecord
	Size        int64
}

// TxInputRecord is the wire form of a transaction input.
type TxInputRecord struct {
	PrevTxid []byte
	Index    uint32
}

// TxOutputRecord is the wire form of a transaction output.
type TxOutputRecord struct {
	Value  int64
	Script []byte
}

// MempoolEntryRecord is the wire form of a mempool entry.
type MempoolEntryRecord struct {
	Txid        []byte
	Ancestors   uint64
	Descendants uint64
	Size        int64
	Fee         int64
}

// TemplateRecord is the wire form of a block template.
type TemplateRecord struct {
	PrevHash []byte
	Height   int64
	CurTime  int64
	Bits     uint32
	TxCount  uint32
	Txs      []TransactionRecord
}

// Root interface messages.

// ResolveParams asks the root capability for an interface by kind.
type ResolveParams struct {
	Kind string
}

// ResolveResult carries the capability id the kind resolved to.
type ResolveResult struct {
	ID uint64
}

// Chain interface messages.

// TipResult is the answer to getTip.
type TipResult struct {
	Height int64
	Hash   []byte
}

// GetBlockParams requests a block by hash.
type GetBlockParams struct {
	Hash     []byte
	WantData bool
}

// GetBlockAtHeightParams requests the active-chain block at a height.
type GetBlockAtHeightParams struct {
	Height   int64
	WantData bool
}

// GetBlockResult carries the block for either block query.
type GetBlockResult struct {
	Block BlockRecord
}

// CommonAncestorParams names the two branch tips to intersect.
type CommonAncestorParams struct {
	Hash1 []byte
	Hash2 []byte
}

// CommonAncestorResult carries the deepest shared block, if any.
type CommonAncestorResult struct {
	Found bool
	Hash  []byte
}

// InBestChainParams asks whether a block is on the active chain.
type InBestChainParams struct {
	Hash []byte
}

// InBestChainResult is the answer to isInBestChain.
type InBestChainResult struct {
	Active bool
}

// IsSyncedResult is the answer to isSynced.
type IsSyncedResult struct {
	Synced bool
}

// NotificationsParams registers the client callback that receives pushes.
type NotificationsParams struct {
	Callback uint64
}

// Mempool interface messages.

// TxidParams identifies a transaction for the by-txid mempool queries.
type TxidParams struct {
	Txid []byte
}

// EntryResult carries one mempool entry.
type EntryResult struct {
	Entry MempoolEntryRecord
}

// EntriesResult carries a counted list of mempool entries.
type EntriesResult struct {
	Count   uint32
	Entries []MempoolEntryRecord
}

// ContainsResult is the answer to contains.
type ContainsResult struct {
	InMempool bool
}

// BroadcastParams submits a transaction for relay.
type BroadcastParams struct {
	Tx     TransactionRecord
	MaxFee int64
	Relay  bool
}

// BroadcastResult reports acceptance, with the node's reason on refusal.
type BroadcastResult struct {
	Accepted bool
	Reason   string
}

// BlockTemplate interface messages.

// TemplateResult carries the current block template.
type TemplateResult struct {
	Template TemplateRecord
}

// Callback (push) messages, node to client.

// BlockConnectedParams announces a block joining the active chain.
type BlockConnectedParams struct {
	Block BlockRecord
}

// BlockDisconnectedParams announces a block leaving the active chain.
type BlockDisconnectedParams struct {
	Hash []byte
}

// TransactionAddedParams announces a transaction entering the mempool.
type TransactionAddedParams struct {
	Tx TransactionRecord
}

// TransactionRemovedParams announces a transaction leaving the mempool.
type TransactionRemovedParams struct {
	Txid []byte
}

// ChainStateUpdatedParams announces a new tip.
type ChainStateUpdatedParams struct {
	Height int64
	Hash   []byte
}
