package codec

import (
	"github.com/blockberries/talkberry/schema"
	"github.com/blockberries/talkberry/types"
)

// Encoding is the inverse of decoding. It is used when the client sends a
// transaction to the node (broadcast) and by test fixtures that play the
// node's side of the wire.

// EncodeBlock converts a Block into its wire record.
func EncodeBlock(block *types.Block) schema.BlockRecord {
	txs := make([]schema.TransactionRecord, 0, len(block.Transactions))
	for i := range block.Transactions {
		txs = append(txs, EncodeTransaction(&block.Transactions[i]))
	}
	return schema.BlockRecord{
		Hash:       block.Hash[:],
		PrevHash:   block.PrevHash[:],
		MerkleRoot: block.MerkleRoot[:],
		Timestamp:  block.Timestamp,
		Nonce:      block.Nonce,
		Height:     block.Height,
		TxCount:    uint32(len(txs)),
		Txs:        txs,
	}
}

// EncodeTransaction converts a Transaction into its wire record.
func EncodeTransaction(tx *types.Transaction) schema.TransactionRecord {
	inputs := make([]schema.TxInputRecord, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		prev := in.PrevTxid
		inputs = append(inputs, schema.TxInputRecord{PrevTxid: prev[:], Index: in.Index})
	}
	outputs := make([]schema.TxOutputRecord, 0, len(tx.Outputs))
	for _, out := range tx.Outputs {
		outputs = append(outputs, schema.TxOutputRecord{Value: out.Value, Script: out.Script})
	}
	return schema.TransactionRecord{
		Txid:        tx.Txid[:],
		InputCount:  uint32(len(inputs)),
		OutputCount: uint32(len(outputs)),
		Inputs:      inputs,
		Outputs:     outputs,
		Size:        tx.Size,
	}
}

// EncodeMempoolEntry converts a MempoolEntry into its wire record.
func EncodeMempoolEntry(entry *types.MempoolEntry) schema.MempoolEntryRecord {
	return schema.MempoolEntryRecord{
		Txid:        entry.Txid[:],
		Ancestors:   entry.Ancestors,
		Descendants: entry.Descendants,
		Size:        entry.Size,
		Fee:         entry.Fee,
	}
}

// EncodeTemplate converts a BlockTemplate into its wire record.
func EncodeTemplate(tmpl *types.BlockTemplate) schema.TemplateRecord {
	txs := make([]schema.TransactionRecord, 0, len(tmpl.Transactions))
	for i := range tmpl.Transactions {
		txs = append(txs, EncodeTransaction(&tmpl.Transactions[i]))
	}
	return schema.TemplateRecord{
		PrevHash: tmpl.PrevHash[:],
		Height:   tmpl.Height,
		CurTime:  tmpl.CurTime,
		Bits:     tmpl.Bits,
		TxCount:  uint32(len(txs)),
		Txs:      txs,
	}
}
