package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChainLinks(t *testing.T) {
	blocks := NewChain(6)
	require.Len(t, blocks, 6)

	for i, b := range blocks {
		assert.Equal(t, int64(i), b.Height)
		if i > 0 {
			assert.Equal(t, blocks[i-1].Hash, b.PrevHash)
		}
		require.Len(t, b.Transactions, 1)
		assert.Equal(t, b.Transactions[0].Txid, b.MerkleRoot)
	}

	// Deterministic: a longer chain extends the shorter one.
	longer := NewChain(8)
	for i := range blocks {
		assert.Equal(t, blocks[i].Hash, longer[i].Hash)
	}
}

func TestNodeLifecycle(t *testing.T) {
	node, err := NewTestNode(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, node.SocketPath())

	node.Stop()
	node.Stop() // idempotent
	require.NoError(t, node.Cleanup())
}
