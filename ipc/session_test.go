package ipc_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/talkberry/ipc"
	"github.com/blockberries/talkberry/logging"
	"github.com/blockberries/talkberry/schema"
	tbtest "github.com/blockberries/talkberry/testing"
	"github.com/blockberries/talkberry/types"
)

func startNode(t *testing.T, cfg *tbtest.TestNodeConfig) *tbtest.TestNode {
	t.Helper()
	node, err := tbtest.NewTestNode(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Cleanup() })
	return node
}

func dialNode(t *testing.T, node *tbtest.TestNode, opts ...ipc.Option) *ipc.Session {
	t.Helper()
	opts = append([]ipc.Option{ipc.WithLogger(logging.NewNopLogger())}, opts...)
	sess, err := ipc.Dial(context.Background(), node.SocketPath(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestDialAndClose(t *testing.T) {
	node := startNode(t, nil)

	sess := dialNode(t, node)
	assert.True(t, sess.IsConnected())
	assert.True(t, sess.Bootstrap().Valid())

	require.NoError(t, sess.Close())
	assert.False(t, sess.IsConnected())

	// Idempotent.
	require.NoError(t, sess.Close())
}

func TestDialUnreachable(t *testing.T) {
	_, err := ipc.Dial(context.Background(), "/nonexistent/node.sock")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnreachable)
}

func TestResolveAndCall(t *testing.T) {
	node := startNode(t, nil)
	blocks := tbtest.NewChain(5)
	node.LoadChain(blocks)

	sess := dialNode(t, node)
	reg := ipc.NewRegistry(sess, logging.NewNopLogger())

	chain, err := reg.Resolve(context.Background(), schema.KindChain)
	require.NoError(t, err)
	assert.Equal(t, schema.KindChain, chain.Interface())

	var tip schema.TipResult
	require.NoError(t, chain.Call(context.Background(), schema.MethodGetTip, nil, &tip))
	assert.Equal(t, int64(4), tip.Height)
	assert.Equal(t, blocks[4].Hash[:], tip.Hash)
}

func TestRegistryMemoizes(t *testing.T) {
	node := startNode(t, nil)
	sess := dialNode(t, node)
	reg := ipc.NewRegistry(sess, logging.NewNopLogger())

	first, err := reg.Resolve(context.Background(), schema.KindChain)
	require.NoError(t, err)
	second, err := reg.Resolve(context.Background(), schema.KindChain)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, node.ResolveCount(schema.KindChain))
}

func TestResolveUnsupported(t *testing.T) {
	cfg := tbtest.DefaultTestNodeConfig()
	cfg.EnableTemplate = false
	node := startNode(t, cfg)

	sess := dialNode(t, node)
	reg := ipc.NewRegistry(sess, logging.NewNopLogger())

	_, err := reg.Resolve(context.Background(), schema.KindBlockTemplate)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnsupported)
}

func TestCallNotFound(t *testing.T) {
	node := startNode(t, nil)
	node.LoadChain(tbtest.NewChain(3))

	sess := dialNode(t, node)
	reg := ipc.NewRegistry(sess, logging.NewNopLogger())
	chain, err := reg.Resolve(context.Background(), schema.KindChain)
	require.NoError(t, err)

	unknown := types.HashData([]byte("unknown"))
	var res schema.GetBlockResult
	err = chain.Call(context.Background(), schema.MethodGetBlock,
		&schema.GetBlockParams{Hash: unknown[:], WantData: true}, &res)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Contains(t, err.Error(), "chain.getBlock")
}

func TestCallAfterClose(t *testing.T) {
	node := startNode(t, nil)
	sess := dialNode(t, node)
	reg := ipc.NewRegistry(sess, logging.NewNopLogger())
	chain, err := reg.Resolve(context.Background(), schema.KindChain)
	require.NoError(t, err)

	require.NoError(t, sess.Close())

	var tip schema.TipResult
	err = chain.Call(context.Background(), schema.MethodGetTip, nil, &tip)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrClosed)
}

func TestCallCanceled(t *testing.T) {
	node := startNode(t, nil)
	sess := dialNode(t, node)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var res schema.ResolveResult
	err := sess.Bootstrap().Call(ctx, schema.MethodResolve, &schema.ResolveParams{Kind: schema.KindChain}, &res)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// The session itself stays usable.
	err = sess.Bootstrap().Call(context.Background(), schema.MethodResolve,
		&schema.ResolveParams{Kind: schema.KindChain}, &res)
	require.NoError(t, err)
}

func TestConcurrentCalls(t *testing.T) {
	node := startNode(t, nil)
	node.LoadChain(tbtest.NewChain(10))

	sess := dialNode(t, node)
	reg := ipc.NewRegistry(sess, logging.NewNopLogger())
	chain, err := reg.Resolve(context.Background(), schema.KindChain)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var tip schema.TipResult
			errs <- chain.Call(context.Background(), schema.MethodGetTip, nil, &tip)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

type recordingHandler struct {
	mu      sync.Mutex
	methods []string
	notify  chan struct{}
}

func (h *recordingHandler) HandlePush(ctx context.Context, method string, params []byte) error {
	h.mu.Lock()
	h.methods = append(h.methods, method)
	h.mu.Unlock()
	select {
	case h.notify <- struct{}{}:
	default:
	}
	return nil
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.methods...)
}

func TestPushDispatch(t *testing.T) {
	node := startNode(t, nil)
	blocks := tbtest.NewChain(3)
	node.LoadChain(blocks)

	sess := dialNode(t, node)
	reg := ipc.NewRegistry(sess, logging.NewNopLogger())
	chain, err := reg.Resolve(context.Background(), schema.KindChain)
	require.NoError(t, err)

	handler := &recordingHandler{notify: make(chan struct{}, 8)}
	id := sess.Export(handler)

	require.NoError(t, chain.Call(context.Background(), schema.MethodHandleNotifications,
		&schema.NotificationsParams{Callback: id}, nil))
	require.NoError(t, node.WaitForSubscription(time.Second))

	require.NoError(t, node.PushBlockConnected(blocks[2]))
	require.NoError(t, node.PushChainStateUpdated(types.ChainTip{Height: 2, Hash: blocks[2].Hash}))

	assert.Equal(t, []string{schema.MethodBlockConnected, schema.MethodChainStateUpdated}, handler.seen())
}

func TestUnexportedPushFails(t *testing.T) {
	node := startNode(t, nil)
	blocks := tbtest.NewChain(2)
	node.LoadChain(blocks)

	sess := dialNode(t, node)
	reg := ipc.NewRegistry(sess, logging.NewNopLogger())
	chain, err := reg.Resolve(context.Background(), schema.KindChain)
	require.NoError(t, err)

	handler := &recordingHandler{notify: make(chan struct{}, 1)}
	id := sess.Export(handler)
	require.NoError(t, chain.Call(context.Background(), schema.MethodHandleNotifications,
		&schema.NotificationsParams{Callback: id}, nil))
	sess.Unexport(id)

	err = node.PushBlockConnected(blocks[1])
	require.Error(t, err)
	assert.Empty(t, handler.seen())
}

func TestOnCloseHook(t *testing.T) {
	node := startNode(t, nil)
	sess := dialNode(t, node)

	fired := make(chan struct{})
	sess.OnClose(func() { close(fired) })

	node.Stop()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("close hook did not fire after node stop")
	}
	assert.False(t, sess.IsConnected())

	// Hooks registered after close run immediately.
	ran := false
	sess.OnClose(func() { ran = true })
	assert.True(t, ran)
}

func TestHandshakeTimeoutOnSilentServer(t *testing.T) {
	// A listener that accepts but never answers the hello.
	socketPath := filepath.Join(t.TempDir(), "silent.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	_, err = ipc.Dial(context.Background(), socketPath,
		ipc.WithHandshakeTimeout(50*time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrHandshakeFailed)
}

func TestHandshakeRejectsBadMagic(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "badmagic.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := ipc.ReadFrame(conn, 1<<20); err != nil {
			return
		}
		ack := &schema.HelloAck{Magic: 0xdeadbeef, Version: schema.ProtocolVersion, Root: 1}
		_ = ipc.WriteFrame(conn, schema.TypeIDHelloAck, ack)
	}()

	_, err = ipc.Dial(context.Background(), socketPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrHandshakeFailed)
}

func TestRemoteErrorCarriesMessage(t *testing.T) {
	node := startNode(t, nil)
	sess := dialNode(t, node)

	var res schema.ResolveResult
	err := sess.Bootstrap().Call(context.Background(), "bogus", nil, &res)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNode)
	assert.True(t, errors.Is(err, types.ErrNode))
}
