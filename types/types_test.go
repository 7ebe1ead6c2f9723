package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHashFromBytes(t *testing.T) {
	raw := make([]byte, HashSize)
	raw[0] = 0xab
	raw[31] = 0xcd

	h, err := NewHashFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, h[:])
}

func TestNewHashFromBytesWrongLength(t *testing.T) {
	_, err := NewHashFromBytes(make([]byte, 31))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = NewHashFromBytes(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestNewHashFromStringRoundTrip(t *testing.T) {
	h := HashData([]byte("block"))

	parsed, err := NewHashFromString(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestNewHashFromStringInvalid(t *testing.T) {
	_, err := NewHashFromString("not-hex")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestHashDataDeterministic(t *testing.T) {
	a := HashData([]byte("payload"))
	b := HashData([]byte("payload"))
	c := HashData([]byte("other"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestTransactionEqualByTxid(t *testing.T) {
	txid := HashData([]byte("tx"))

	a := Transaction{Txid: txid, Size: 100}
	b := Transaction{Txid: txid, Size: 250, Outputs: []TxOutput{{Value: 1}}}
	c := Transaction{Txid: HashData([]byte("other")), Size: 100}

	assert.True(t, a.Equal(b), "equality is by txid, not content")
	assert.False(t, a.Equal(c))
}

func TestNotificationConstructors(t *testing.T) {
	block := &Block{Hash: HashData([]byte("b")), Height: 7}
	tx := &Transaction{Txid: HashData([]byte("t"))}
	tip := ChainTip{Height: 42, Hash: block.Hash}

	n := NewBlockConnected(block)
	assert.Equal(t, NotificationBlockConnected, n.Kind)
	assert.Same(t, block, n.Block)

	n = NewBlockDisconnected(block.Hash)
	assert.Equal(t, NotificationBlockDisconnected, n.Kind)
	assert.Equal(t, block.Hash, n.BlockHash)

	n = NewTransactionAdded(tx)
	assert.Equal(t, NotificationTransactionAdded, n.Kind)
	assert.Same(t, tx, n.Transaction)

	n = NewTransactionRemoved(tx.Txid)
	assert.Equal(t, NotificationTransactionRemoved, n.Kind)
	assert.Equal(t, tx.Txid, n.Txid)

	n = NewChainStateUpdated(tip)
	assert.Equal(t, NotificationChainStateUpdated, n.Kind)
	require.NotNil(t, n.Tip)
	assert.Equal(t, tip, *n.Tip)
}

func TestWrapCallError(t *testing.T) {
	err := WrapCallError(ErrNotFound, "chain", "getBlock")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "chain.getBlock")

	assert.NoError(t, WrapCallError(nil, "chain", "getBlock"))
}
