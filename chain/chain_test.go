package chain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/talkberry/chain"
	"github.com/blockberries/talkberry/ipc"
	"github.com/blockberries/talkberry/logging"
	"github.com/blockberries/talkberry/schema"
	tbtest "github.com/blockberries/talkberry/testing"
	"github.com/blockberries/talkberry/types"
)

type fixture struct {
	node  *tbtest.TestNode
	sess  *ipc.Session
	chain *chain.Chain
}

func setup(t *testing.T, blocks []*types.Block, cacheSize int) *fixture {
	t.Helper()

	node, err := tbtest.NewTestNode(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Cleanup() })
	node.LoadChain(blocks)

	sess, err := ipc.Dial(context.Background(), node.SocketPath(),
		ipc.WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	reg := ipc.NewRegistry(sess, logging.NewNopLogger())
	c, err := chain.New(context.Background(), reg, logging.NewNopLogger(), cacheSize)
	require.NoError(t, err)

	return &fixture{node: node, sess: sess, chain: c}
}

func TestGetTip(t *testing.T) {
	blocks := tbtest.NewChain(5)
	f := setup(t, blocks, 0)

	tip, err := f.chain.GetTip(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), tip.Height)
	assert.Equal(t, blocks[4].Hash, tip.Hash)
}

func TestGetBlock(t *testing.T) {
	blocks := tbtest.NewChain(5)
	f := setup(t, blocks, 0)

	block, err := f.chain.GetBlock(context.Background(), blocks[3].Hash, 3)
	require.NoError(t, err)
	assert.Equal(t, blocks[3].Hash, block.Hash)
	assert.Equal(t, int64(3), block.Height)
	assert.Len(t, block.Transactions, 1)
}

func TestGetBlockHeightMismatch(t *testing.T) {
	blocks := tbtest.NewChain(5)
	f := setup(t, blocks, 0)

	_, err := f.chain.GetBlock(context.Background(), blocks[3].Hash, 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInconsistent)
}

func TestGetBlockNotFound(t *testing.T) {
	f := setup(t, tbtest.NewChain(3), 0)

	unknown := types.HashData([]byte("nowhere"))
	_, err := f.chain.GetBlockByHash(context.Background(), unknown)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestBlockCacheAvoidsRefetch(t *testing.T) {
	blocks := tbtest.NewChain(4)
	f := setup(t, blocks, 16)

	block, err := f.chain.GetBlockByHash(context.Background(), blocks[2].Hash)
	require.NoError(t, err)

	again, err := f.chain.GetBlockByHash(context.Background(), blocks[2].Hash)
	require.NoError(t, err)
	assert.Equal(t, block, again)
	assert.Equal(t, 1, f.node.CallCount(schema.MethodGetBlock))
}

func TestBlockCacheDiesWithSession(t *testing.T) {
	blocks := tbtest.NewChain(4)
	f := setup(t, blocks, 16)

	_, err := f.chain.GetBlockByHash(context.Background(), blocks[2].Hash)
	require.NoError(t, err)

	// Once the session closes, cached blocks fail like any other call.
	require.NoError(t, f.sess.Close())
	_, err = f.chain.GetBlockByHash(context.Background(), blocks[2].Hash)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrClosed)

	_, err = f.chain.GetBlockByHash(context.Background(), blocks[3].Hash)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrClosed)
}

func TestGetGenesisBlock(t *testing.T) {
	blocks := tbtest.NewChain(5)
	f := setup(t, blocks, 0)

	genesis, err := f.chain.GetGenesisBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), genesis.Height)
	assert.Equal(t, blocks[0].Hash, genesis.Hash)
	assert.Equal(t, types.Hash{}, genesis.PrevHash)
}

func TestGetBlockAtNegativeHeight(t *testing.T) {
	f := setup(t, tbtest.NewChain(2), 0)

	_, err := f.chain.GetBlockAtHeight(context.Background(), -1)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestTipTime(t *testing.T) {
	blocks := tbtest.NewChain(3)
	f := setup(t, blocks, 0)

	tipTime, err := f.chain.TipTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, blocks[2].Timestamp, tipTime)
}

func TestIsSynced(t *testing.T) {
	f := setup(t, tbtest.NewChain(2), 0)

	synced, err := f.chain.IsSynced(context.Background())
	require.NoError(t, err)
	assert.True(t, synced)

	f.node.SetSynced(false)
	synced, err = f.chain.IsSynced(context.Background())
	require.NoError(t, err)
	assert.False(t, synced)
}

func TestIsInBestChain(t *testing.T) {
	blocks := tbtest.NewChain(5)
	f := setup(t, blocks, 0)

	// A fork block at height 3 known to the node but not active.
	side := &types.Block{
		Hash:      types.HashData([]byte("side")),
		PrevHash:  blocks[2].Hash,
		Timestamp: blocks[3].Timestamp + 1,
		Height:    3,
	}
	f.node.AddSideBlock(side)

	active, err := f.chain.IsInBestChain(context.Background(), blocks[3].Hash)
	require.NoError(t, err)
	assert.True(t, active)

	active, err = f.chain.IsInBestChain(context.Background(), side.Hash)
	require.NoError(t, err)
	assert.False(t, active)

	// Unknown blocks report false without error.
	active, err = f.chain.IsInBestChain(context.Background(), types.HashData([]byte("unknown")))
	require.NoError(t, err)
	assert.False(t, active)
}

func TestFindCommonAncestor(t *testing.T) {
	blocks := tbtest.NewChain(5)
	f := setup(t, blocks, 0)

	side := &types.Block{
		Hash:      types.HashData([]byte("fork")),
		PrevHash:  blocks[2].Hash,
		Timestamp: blocks[3].Timestamp + 1,
		Height:    3,
	}
	f.node.AddSideBlock(side)

	ancestor, found, err := f.chain.FindCommonAncestor(context.Background(), blocks[4].Hash, side.Hash)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, blocks[2].Hash, ancestor)

	// A block is its own ancestor.
	ancestor, found, err = f.chain.FindCommonAncestor(context.Background(), blocks[4].Hash, blocks[4].Hash)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, blocks[4].Hash, ancestor)

	// Unknown branches share nothing.
	_, found, err = f.chain.FindCommonAncestor(context.Background(), blocks[4].Hash, types.HashData([]byte("elsewhere")))
	require.NoError(t, err)
	assert.False(t, found)
}
