// Package mempool is the query facade over the node's mempool interface:
// entry lookups, ancestry sets, membership, and transaction broadcast.
package mempool

import (
	"context"
	"fmt"

	"github.com/blockberries/talkberry/codec"
	"github.com/blockberries/talkberry/ipc"
	"github.com/blockberries/talkberry/logging"
	"github.com/blockberries/talkberry/schema"
	"github.com/blockberries/talkberry/types"
)

// Mempool queries the node's transaction pool. Methods are safe for
// concurrent use; the pool is volatile, so any answer may be stale by
// the time the caller sees it.
type Mempool struct {
	cap ipc.Capability
	log *logging.Logger
}

// New resolves the mempool interface and builds the facade. Nodes
// without a mempool fail with ErrUnsupported.
func New(ctx context.Context, reg *ipc.Registry, log *logging.Logger) (*Mempool, error) {
	cap, err := reg.Resolve(ctx, schema.KindMempool)
	if err != nil {
		return nil, fmt.Errorf("resolving mempool interface: %w", err)
	}
	return &Mempool{cap: cap, log: log.WithComponent("mempool")}, nil
}

// Status returns the pool entry for txid. Transactions not in the pool
// fail with ErrNotFound.
func (m *Mempool) Status(ctx context.Context, txid types.Hash) (*types.MempoolEntry, error) {
	var res schema.EntryResult
	params := &schema.TxidParams{Txid: txid[:]}
	if err := m.cap.Call(ctx, schema.MethodMempoolEntry, params, &res); err != nil {
		return nil, err
	}
	return codec.DecodeMempoolEntry(&res.Entry)
}

// Ancestors returns the in-pool ancestors of txid, excluding txid
// itself. Transactions not in the pool fail with ErrNotFound.
func (m *Mempool) Ancestors(ctx context.Context, txid types.Hash) ([]types.MempoolEntry, error) {
	return m.entries(ctx, schema.MethodMempoolAncestors, txid)
}

// Descendants returns the in-pool descendants of txid, excluding txid
// itself. Transactions not in the pool fail with ErrNotFound.
func (m *Mempool) Descendants(ctx context.Context, txid types.Hash) ([]types.MempoolEntry, error) {
	return m.entries(ctx, schema.MethodMempoolDescendants, txid)
}

func (m *Mempool) entries(ctx context.Context, method string, txid types.Hash) ([]types.MempoolEntry, error) {
	var res schema.EntriesResult
	params := &schema.TxidParams{Txid: txid[:]}
	if err := m.cap.Call(ctx, method, params, &res); err != nil {
		return nil, err
	}
	return codec.DecodeMempoolEntries(&res)
}

// Contains reports whether txid is currently in the pool.
func (m *Mempool) Contains(ctx context.Context, txid types.Hash) (bool, error) {
	var res schema.ContainsResult
	params := &schema.TxidParams{Txid: txid[:]}
	if err := m.cap.Call(ctx, schema.MethodMempoolContains, params, &res); err != nil {
		return false, err
	}
	return res.InMempool, nil
}

// Broadcast submits tx to the node for relay. maxFee caps the absolute
// fee the node may accept; relay controls announcement to peers. A
// refusal fails with ErrRejected carrying the node's reason.
func (m *Mempool) Broadcast(ctx context.Context, tx *types.Transaction, maxFee int64, relay bool) error {
	params := &schema.BroadcastParams{
		Tx:     codec.EncodeTransaction(tx),
		MaxFee: maxFee,
		Relay:  relay,
	}
	var res schema.BroadcastResult
	if err := m.cap.Call(ctx, schema.MethodBroadcast, params, &res); err != nil {
		return err
	}
	if !res.Accepted {
		if res.Reason == "" {
			return fmt.Errorf("broadcast %s: %w", tx.Txid, types.ErrRejected)
		}
		return fmt.Errorf("broadcast %s: %s: %w", tx.Txid, res.Reason, types.ErrRejected)
	}
	m.log.Debug("transaction broadcast", logging.Hash(tx.Txid[:]))
	return nil
}
