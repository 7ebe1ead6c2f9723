// Package codec converts wire records into domain entities and back.
// Decoding validates structural invariants only: fixed-width hash fields,
// non-negative counts, and declared counts matching their lists. It never
// performs consensus validation; a violation is a defect in the remote
// response and surfaces as types.ErrMalformed.
package codec

import (
	"fmt"

	"github.com/blockberries/talkberry/schema"
	"github.com/blockberries/talkberry/types"
)

// DecodeTip converts a tip result into a ChainTip.
func DecodeTip(rec *schema.TipResult) (types.ChainTip, error) {
	if rec.Height < 0 {
		return types.ChainTip{}, fmt.Errorf("tip height %d: %w", rec.Height, types.ErrMalformed)
	}
	hash, err := types.NewHashFromBytes(rec.Hash)
	if err != nil {
		return types.ChainTip{}, types.WrapDecodeError(err, "tip")
	}
	return types.ChainTip{Height: rec.Height, Hash: hash}, nil
}

// DecodeBlock converts a block record into a Block.
func DecodeBlock(rec *schema.BlockRecord) (*types.Block, error) {
	hash, err := types.NewHashFromBytes(rec.Hash)
	if err != nil {
		return nil, types.WrapDecodeError(err, "block hash")
	}
	prev, err := types.NewHashFromBytes(rec.PrevHash)
	if err != nil {
		return nil, types.WrapDecodeError(err, "block prev hash")
	}
	merkle, err := types.NewHashFromBytes(rec.MerkleRoot)
	if err != nil {
		return nil, types.WrapDecodeError(err, "block merkle root")
	}
	if rec.Height < 0 {
		return nil, fmt.Errorf("block height %d: %w", rec.Height, types.ErrMalformed)
	}
	if rec.Timestamp < 0 {
		return nil, fmt.Errorf("block timestamp %d: %w", rec.Timestamp, types.ErrMalformed)
	}
	if int(rec.TxCount) != len(rec.Txs) {
		return nil, fmt.Errorf("block declares %d txs, carries %d: %w",
			rec.TxCount, len(rec.Txs), types.ErrMalformed)
	}

	txs := make([]types.Transaction, 0, len(rec.Txs))
	for i := range rec.Txs {
		tx, err := DecodeTransaction(&rec.Txs[i])
		if err != nil {
			return nil, fmt.Errorf("block tx %d: %w", i, err)
		}
		txs = append(txs, *tx)
	}

	return &types.Block{
		Hash:         hash,
		PrevHash:     prev,
		MerkleRoot:   merkle,
		Timestamp:    rec.Timestamp,
		Nonce:        rec.Nonce,
		Height:       rec.Height,
		Transactions: txs,
	}, nil
}

// DecodeTransaction converts a transaction record into a Transaction.
func DecodeTransaction(rec *schema.TransactionRecord) (*types.Transaction, error) {
	txid, err := types.NewHashFromBytes(rec.Txid)
	if err != nil {
		return nil, types.WrapDecodeError(err, "txid")
	}
	if int(rec.InputCount) != len(rec.Inputs) {
		return nil, fmt.Errorf("tx declares %d inputs, carries %d: %w",
			rec.InputCount, len(rec.Inputs), types.ErrMalformed)
	}
	if int(rec.OutputCount) != len(rec.Outputs) {
		return nil, fmt.Errorf("tx declares %d outputs, carries %d: %w",
			rec.OutputCount, len(rec.Outputs), types.ErrMalformed)
	}
	if rec.Size < 0 {
		return nil, fmt.Errorf("tx size %d: %w", rec.Size, types.ErrMalformed)
	}

	inputs := make([]types.TxInput, 0, len(rec.Inputs))
	for i := range rec.Inputs {
		prev, err := types.NewHashFromBytes(rec.Inputs[i].PrevTxid)
		if err != nil {
			return nil, types.WrapDecodeError(err, "tx input")
		}
		inputs = append(inputs, types.TxInput{PrevTxid: prev, Index: rec.Inputs[i].Index})
	}

	outputs := make([]types.TxOutput, 0, len(rec.Outputs))
	for i := range rec.Outputs {
		if rec.Outputs[i].Value < 0 {
			return nil, fmt.Errorf("tx output value %d: %w", rec.Outputs[i].Value, types.ErrMalformed)
		}
		outputs = append(outputs, types.TxOutput{
			Value:  rec.Outputs[i].Value,
			Script: rec.Outputs[i].Script,
		})
	}

	return &types.Transaction{
		Txid:    txid,
		Inputs:  inputs,
		Outputs: outputs,
		Size:    rec.Size,
	}, nil
}

// DecodeMempoolEntry converts a mempool entry record into a MempoolEntry.
func DecodeMempoolEntry(rec *schema.MempoolEntryRecord) (*types.MempoolEntry, error) {
	txid, err := types.NewHashFromBytes(rec.Txid)
	if err != nil {
		return nil, types.WrapDecodeError(err, "mempool entry txid")
	}
	if rec.Size < 0 {
		return nil, fmt.Errorf("mempool entry size %d: %w", rec.Size, types.ErrMalformed)
	}
	if rec.Fee < 0 {
		return nil, fmt.Errorf("mempool entry fee %d: %w", rec.Fee, types.ErrMalformed)
	}
	return &types.MempoolEntry{
		Txid:        txid,
		Ancestors:   rec.Ancestors,
		Descendants: rec.Descendants,
		Size:        rec.Size,
		Fee:         rec.Fee,
	}, nil
}

// DecodeMempoolEntries converts an entries result, checking the declared
// count against the carried list.
func DecodeMempoolEntries(rec *schema.EntriesResult) ([]types.MempoolEntry, error) {
	if int(rec.Count) != len(rec.Entries) {
		return nil, fmt.Errorf("result declares %d entries, carries %d: %w",
			rec.Count, len(rec.Entries), types.ErrMalformed)
	}
	entries := make([]types.MempoolEntry, 0, len(rec.Entries))
	for i := range rec.Entries {
		entry, err := DecodeMempoolEntry(&rec.Entries[i])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// DecodeTemplate converts a template record into a BlockTemplate.
func DecodeTemplate(rec *schema.TemplateRecord) (*types.BlockTemplate, error) {
	prev, err := types.NewHashFromBytes(rec.PrevHash)
	if err != nil {
		return nil, types.WrapDecodeError(err, "template prev hash")
	}
	if rec.Height < 0 {
		return nil, fmt.Errorf("template height %d: %w", rec.Height, types.ErrMalformed)
	}
	if int(rec.TxCount) != len(rec.Txs) {
		return nil, fmt.Errorf("template declares %d txs, carries %d: %w",
			rec.TxCount, len(rec.Txs), types.ErrMalformed)
	}

	txs := make([]types.Transaction, 0, len(rec.Txs))
	for i := range rec.Txs {
		tx, err := DecodeTransaction(&rec.Txs[i])
		if err != nil {
			return nil, fmt.Errorf("template tx %d: %w", i, err)
		}
		txs = append(txs, *tx)
	}

	return &types.BlockTemplate{
		PrevHash:     prev,
		Height:       rec.Height,
		CurTime:      rec.CurTime,
		Bits:         rec.Bits,
		Transactions: txs,
	}, nil
}
