package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/talkberry/schema"
	"github.com/blockberries/talkberry/types"
)

func validTx() types.Transaction {
	return types.Transaction{
		Txid: types.HashData([]byte("tx")),
		Inputs: []types.TxInput{
			{PrevTxid: types.HashData([]byte("prev")), Index: 1},
		},
		Outputs: []types.TxOutput{
			{Value: 5000, Script: []byte{0x51}},
		},
		Size: 250,
	}
}

func validBlock() *types.Block {
	tx := validTx()
	return &types.Block{
		Hash:         types.HashData([]byte("block")),
		PrevHash:     types.HashData([]byte("parent")),
		MerkleRoot:   types.HashData([]byte("merkle")),
		Timestamp:    1700000000,
		Nonce:        12345,
		Height:       267,
		Transactions: []types.Transaction{tx},
	}
}

func TestBlockRoundTrip(t *testing.T) {
	block := validBlock()

	rec := EncodeBlock(block)
	decoded, err := DecodeBlock(&rec)
	require.NoError(t, err)
	assert.Equal(t, block, decoded)
}

func TestDecodeBlockPreservesTxOrder(t *testing.T) {
	block := validBlock()
	second := validTx()
	second.Txid = types.HashData([]byte("second"))
	third := validTx()
	third.Txid = types.HashData([]byte("third"))
	block.Transactions = append(block.Transactions, second, third)

	rec := EncodeBlock(block)
	decoded, err := DecodeBlock(&rec)
	require.NoError(t, err)

	require.Len(t, decoded.Transactions, 3)
	assert.Equal(t, block.Transactions[0].Txid, decoded.Transactions[0].Txid)
	assert.Equal(t, second.Txid, decoded.Transactions[1].Txid)
	assert.Equal(t, third.Txid, decoded.Transactions[2].Txid)
}

func TestDecodeBlockMalformed(t *testing.T) {
	base := EncodeBlock(validBlock())

	tests := []struct {
		name   string
		mutate func(*schema.BlockRecord)
	}{
		{"short hash", func(r *schema.BlockRecord) { r.Hash = r.Hash[:31] }},
		{"short prev hash", func(r *schema.BlockRecord) { r.PrevHash = nil }},
		{"short merkle root", func(r *schema.BlockRecord) { r.MerkleRoot = r.MerkleRoot[:16] }},
		{"negative height", func(r *schema.BlockRecord) { r.Height = -1 }},
		{"negative timestamp", func(r *schema.BlockRecord) { r.Timestamp = -5 }},
		{"tx count mismatch", func(r *schema.BlockRecord) { r.TxCount = 9 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := base
			tt.mutate(&rec)
			_, err := DecodeBlock(&rec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrMalformed), "want ErrMalformed, got %v", err)
		})
	}
}

func TestDecodeTransactionMalformed(t *testing.T) {
	tx := validTx()
	base := EncodeTransaction(&tx)

	tests := []struct {
		name   string
		mutate func(*schema.TransactionRecord)
	}{
		{"short txid", func(r *schema.TransactionRecord) { r.Txid = r.Txid[:8] }},
		{"input count mismatch", func(r *schema.TransactionRecord) { r.InputCount = 3 }},
		{"output count mismatch", func(r *schema.TransactionRecord) { r.OutputCount = 0 }},
		{"negative size", func(r *schema.TransactionRecord) { r.Size = -1 }},
		{"short input prev txid", func(r *schema.TransactionRecord) {
			r.Inputs = []schema.TxInputRecord{{PrevTxid: []byte{1, 2}, Index: 0}}
		}},
		{"negative output value", func(r *schema.TransactionRecord) {
			r.Outputs = []schema.TxOutputRecord{{Value: -10}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := base
			tt.mutate(&rec)
			_, err := DecodeTransaction(&rec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrMalformed), "want ErrMalformed, got %v", err)
		})
	}
}

func TestDecodeTip(t *testing.T) {
	hash := types.HashData([]byte("tip"))

	tip, err := DecodeTip(&schema.TipResult{Height: 267, Hash: hash[:]})
	require.NoError(t, err)
	assert.Equal(t, types.ChainTip{Height: 267, Hash: hash}, tip)

	_, err = DecodeTip(&schema.TipResult{Height: -1, Hash: hash[:]})
	assert.True(t, errors.Is(err, types.ErrMalformed))

	_, err = DecodeTip(&schema.TipResult{Height: 1, Hash: hash[:12]})
	assert.True(t, errors.Is(err, types.ErrMalformed))
}

func TestDecodeMempoolEntry(t *testing.T) {
	entry := types.MempoolEntry{
		Txid:        types.HashData([]byte("tx")),
		Ancestors:   2,
		Descendants: 1,
		Size:        400,
		Fee:         1200,
	}

	rec := EncodeMempoolEntry(&entry)
	decoded, err := DecodeMempoolEntry(&rec)
	require.NoError(t, err)
	assert.Equal(t, entry, *decoded)

	rec = EncodeMempoolEntry(&entry)
	rec.Fee = -1
	_, err = DecodeMempoolEntry(&rec)
	assert.True(t, errors.Is(err, types.ErrMalformed))
}

func TestDecodeMempoolEntriesCountMismatch(t *testing.T) {
	entry := types.MempoolEntry{Txid: types.HashData([]byte("tx")), Size: 1, Fee: 1}

	rec := schema.EntriesResult{
		Count:   2,
		Entries: []schema.MempoolEntryRecord{EncodeMempoolEntry(&entry)},
	}
	_, err := DecodeMempoolEntries(&rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrMalformed))
}

func TestTemplateRoundTrip(t *testing.T) {
	tmpl := &types.BlockTemplate{
		PrevHash:     types.HashData([]byte("tip")),
		Height:       268,
		CurTime:      1700000100,
		Bits:         0x1d00ffff,
		Transactions: []types.Transaction{validTx()},
	}

	rec := EncodeTemplate(tmpl)
	decoded, err := DecodeTemplate(&rec)
	require.NoError(t, err)
	assert.Equal(t, tmpl, decoded)
}
