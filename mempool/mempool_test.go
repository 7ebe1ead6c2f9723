package mempool_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/talkberry/ipc"
	"github.com/blockberries/talkberry/logging"
	"github.com/blockberries/talkberry/mempool"
	tbtest "github.com/blockberries/talkberry/testing"
	"github.com/blockberries/talkberry/types"
)

func setup(t *testing.T, cfg *tbtest.TestNodeConfig) (*tbtest.TestNode, *mempool.Mempool, error) {
	t.Helper()

	node, err := tbtest.NewTestNode(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Cleanup() })

	sess, err := ipc.Dial(context.Background(), node.SocketPath(),
		ipc.WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	reg := ipc.NewRegistry(sess, logging.NewNopLogger())
	m, err := mempool.New(context.Background(), reg, logging.NewNopLogger())
	return node, m, err
}

func testEntry(name string, fee int64) types.MempoolEntry {
	return types.MempoolEntry{
		Txid:        types.HashData([]byte(name)),
		Ancestors:   1,
		Descendants: 1,
		Size:        200,
		Fee:         fee,
	}
}

func TestStatus(t *testing.T) {
	node, m, err := setup(t, nil)
	require.NoError(t, err)

	entry := testEntry("tx-a", 1500)
	node.SetMempool([]types.MempoolEntry{entry})

	got, err := m.Status(context.Background(), entry.Txid)
	require.NoError(t, err)
	assert.Equal(t, entry, *got)
}

func TestStatusNotFound(t *testing.T) {
	_, m, err := setup(t, nil)
	require.NoError(t, err)

	_, err = m.Status(context.Background(), types.HashData([]byte("absent")))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAncestorsAndDescendants(t *testing.T) {
	node, m, err := setup(t, nil)
	require.NoError(t, err)

	parent := testEntry("parent", 1000)
	child := testEntry("child", 2000)
	node.SetMempool([]types.MempoolEntry{parent, child})
	node.SetAncestors(child.Txid, []types.MempoolEntry{parent})
	node.SetDescendants(parent.Txid, []types.MempoolEntry{child})

	ancestors, err := m.Ancestors(context.Background(), child.Txid)
	require.NoError(t, err)
	require.Len(t, ancestors, 1)
	assert.Equal(t, parent, ancestors[0])

	descendants, err := m.Descendants(context.Background(), parent.Txid)
	require.NoError(t, err)
	require.Len(t, descendants, 1)
	assert.Equal(t, child, descendants[0])

	// A tx with no in-pool relatives reports empty sets, not an error.
	ancestors, err = m.Ancestors(context.Background(), parent.Txid)
	require.NoError(t, err)
	assert.Empty(t, ancestors)
}

func TestAncestorsUnknownTx(t *testing.T) {
	_, m, err := setup(t, nil)
	require.NoError(t, err)

	_, err = m.Ancestors(context.Background(), types.HashData([]byte("nope")))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestContains(t *testing.T) {
	node, m, err := setup(t, nil)
	require.NoError(t, err)

	entry := testEntry("tx-b", 900)
	node.SetMempool([]types.MempoolEntry{entry})

	ok, err := m.Contains(context.Background(), entry.Txid)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Contains(context.Background(), types.HashData([]byte("other")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBroadcast(t *testing.T) {
	_, m, err := setup(t, nil)
	require.NoError(t, err)

	tx := &types.Transaction{
		Txid:    types.HashData([]byte("new-tx")),
		Outputs: []types.TxOutput{{Value: 1000, Script: []byte{0x51}}},
		Size:    150,
	}
	require.NoError(t, m.Broadcast(context.Background(), tx, 10_000, true))

	// The node accepted it into its pool.
	ok, err := m.Contains(context.Background(), tx.Txid)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBroadcastRejected(t *testing.T) {
	node, m, err := setup(t, nil)
	require.NoError(t, err)
	node.SetBroadcastReject("txn-mempool-conflict")

	tx := &types.Transaction{
		Txid: types.HashData([]byte("conflicting")),
		Size: 150,
	}
	err = m.Broadcast(context.Background(), tx, 10_000, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRejected)
	assert.Contains(t, err.Error(), "txn-mempool-conflict")
}

func TestNodeWithoutMempool(t *testing.T) {
	cfg := tbtest.DefaultTestNodeConfig()
	cfg.EnableMempool = false

	_, _, err := setup(t, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnsupported)
}
