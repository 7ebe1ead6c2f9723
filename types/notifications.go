package types

// NotificationKind identifies the variant of a ChainNotification.
type NotificationKind string

// Notification kinds pushed by the node.
const (
	NotificationBlockConnected     NotificationKind = "BlockConnected"
	NotificationBlockDisconnected  NotificationKind = "BlockDisconnected"
	NotificationTransactionAdded   NotificationKind = "TransactionAddedToMempool"
	NotificationTransactionRemoved NotificationKind = "TransactionRemovedFromMempool"
	NotificationChainStateUpdated  NotificationKind = "ChainStateUpdated"
)

// ChainNotification is a tagged variant over the chain events the node
// pushes to subscribed clients. Exactly one payload field is set,
// determined by Kind.
type ChainNotification struct {
	Kind NotificationKind

	// Block is set for BlockConnected.
	Block *Block

	// BlockHash is set for BlockDisconnected.
	BlockHash Hash

	// Transaction is set for TransactionAddedToMempool.
	Transaction *Transaction

	// Txid is set for TransactionRemovedFromMempool.
	Txid Hash

	// Tip is set for ChainStateUpdated.
	Tip *ChainTip
}

// NewBlockConnected builds a BlockConnected notification.
func NewBlockConnected(block *Block) ChainNotification {
	return ChainNotification{Kind: NotificationBlockConnected, Block: block}
}

// NewBlockDisconnected builds a BlockDisconnected notification.
func NewBlockDisconnected(hash Hash) ChainNotification {
	return ChainNotification{Kind: NotificationBlockDisconnected, BlockHash: hash}
}

// NewTransactionAdded builds a TransactionAddedToMempool notification.
func NewTransactionAdded(tx *Transaction) ChainNotification {
	return ChainNotification{Kind: NotificationTransactionAdded, Transaction: tx}
}

// NewTransactionRemoved builds a TransactionRemovedFromMempool notification.
func NewTransactionRemoved(txid Hash) ChainNotification {
	return ChainNotification{Kind: NotificationTransactionRemoved, Txid: txid}
}

// NewChainStateUpdated builds a ChainStateUpdated notification.
func NewChainStateUpdated(tip ChainTip) ChainNotification {
	return ChainNotification{Kind: NotificationChainStateUpdated, Tip: &tip}
}
