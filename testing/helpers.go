// Package testing provides test utilities for talkberry: an in-process
// node that serves the capability protocol on a unix socket, with
// scriptable chain, mempool, and template state.
package testing

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/talkberry/codec"
	"github.com/blockberries/talkberry/ipc"
	"github.com/blockberries/talkberry/schema"
	"github.com/blockberries/talkberry/types"
)

// Capability ids served by the test node.
const (
	rootCapID     uint64 = 1
	chainCapID    uint64 = 2
	mempoolCapID  uint64 = 3
	templateCapID uint64 = 4
)

const pushTimeout = 5 * time.Second

// TestNodeConfig holds configuration options for creating a test node.
type TestNodeConfig struct {
	// EnableMempool exposes the mempool interface (default: true).
	EnableMempool bool

	// EnableTemplate exposes the block template interface (default: true).
	EnableTemplate bool

	// RejectSubscriptions makes handleNotifications fail.
	RejectSubscriptions bool
}

// DefaultTestNodeConfig returns a TestNodeConfig with default values.
func DefaultTestNodeConfig() *TestNodeConfig {
	return &TestNodeConfig{
		EnableMempool:  true,
		EnableTemplate: true,
	}
}

// TestNode serves the node side of the capability protocol for tests.
// State mutators are safe to call while sessions are connected.
type TestNode struct {
	cfg      *TestNodeConfig
	dataDir  string
	listener net.Listener

	mu            sync.Mutex
	tip           types.ChainTip
	blocks        map[types.Hash]schema.BlockRecord
	byHeight      map[int64]schema.BlockRecord
	synced        bool
	entries       map[types.Hash]schema.MempoolEntryRecord
	ancestors     map[types.Hash][]schema.MempoolEntryRecord
	descendants   map[types.Hash][]schema.MempoolEntryRecord
	rejectReason  string
	template      *schema.TemplateRecord
	resolveCounts map[string]int
	callCounts    map[string]int
	conns         []*testConn
	stopped       bool

	wg sync.WaitGroup
}

// testConn is one accepted session.
type testConn struct {
	node *TestNode
	conn net.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	callback uint64
	pushSeq  uint64
	inflight map[uint64]chan *schema.Return
}

// NewTestNode creates a test node listening on a fresh unix socket.
func NewTestNode(cfg *TestNodeConfig) (*TestNode, error) {
	if cfg == nil {
		cfg = DefaultTestNodeConfig()
	}

	dataDir, err := os.MkdirTemp("", "talkberry-test-*")
	if err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	socketPath := filepath.Join(dataDir, "node.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		os.RemoveAll(dataDir)
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	n := &TestNode{
		cfg:           cfg,
		dataDir:       dataDir,
		listener:      listener,
		blocks:        make(map[types.Hash]schema.BlockRecord),
		byHeight:      make(map[int64]schema.BlockRecord),
		synced:        true,
		entries:       make(map[types.Hash]schema.MempoolEntryRecord),
		ancestors:     make(map[types.Hash][]schema.MempoolEntryRecord),
		descendants:   make(map[types.Hash][]schema.MempoolEntryRecord),
		resolveCounts: make(map[string]int),
		callCounts:    make(map[string]int),
	}

	n.wg.Add(1)
	go n.acceptLoop()

	return n, nil
}

// SocketPath returns the unix socket the node listens on.
func (n *TestNode) SocketPath() string {
	return n.listener.Addr().String()
}

// Stop closes the listener and all open sessions.
func (n *TestNode) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	conns := n.conns
	n.conns = nil
	n.mu.Unlock()

	n.listener.Close()
	for _, tc := range conns {
		tc.conn.Close()
	}
	n.wg.Wait()
}

// Cleanup stops the node and removes its data directory.
func (n *TestNode) Cleanup() error {
	n.Stop()
	return os.RemoveAll(n.dataDir)
}

// State mutators.

// LoadChain installs blocks as the active chain and sets the tip to the
// last one.
func (n *TestNode) LoadChain(blocks []*types.Block) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, b := range blocks {
		rec := codec.EncodeBlock(b)
		n.blocks[b.Hash] = rec
		n.byHeight[b.Height] = rec
	}
	if len(blocks) > 0 {
		last := blocks[len(blocks)-1]
		n.tip = types.ChainTip{Height: last.Height, Hash: last.Hash}
	}
}

// AddBlock installs a single block without moving the tip.
func (n *TestNode) AddBlock(b *types.Block) {
	n.mu.Lock()
	defer n.mu.Unlock()
	rec := codec.EncodeBlock(b)
	n.blocks[b.Hash] = rec
	n.byHeight[b.Height] = rec
}

// AddSideBlock installs a block known to the node but outside the
// active chain.
func (n *TestNode) AddSideBlock(b *types.Block) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocks[b.Hash] = codec.EncodeBlock(b)
}

// SetTip sets the reported chain tip.
func (n *TestNode) SetTip(tip types.ChainTip) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tip = tip
}

// SetSynced sets the reported sync state.
func (n *TestNode) SetSynced(synced bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.synced = synced
}

// SetMempool installs the reported mempool entries.
func (n *TestNode) SetMempool(entries []types.MempoolEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = make(map[types.Hash]schema.MempoolEntryRecord, len(entries))
	for i := range entries {
		n.entries[entries[i].Txid] = codec.EncodeMempoolEntry(&entries[i])
	}
}

// SetAncestors scripts the ancestor set reported for txid.
func (n *TestNode) SetAncestors(txid types.Hash, entries []types.MempoolEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ancestors[txid] = encodeEntries(entries)
}

// SetDescendants scripts the descendant set reported for txid.
func (n *TestNode) SetDescendants(txid types.Hash, entries []types.MempoolEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.descendants[txid] = encodeEntries(entries)
}

// SetBroadcastReject makes broadcast refuse transactions with reason.
// An empty reason accepts again.
func (n *TestNode) SetBroadcastReject(reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejectReason = reason
}

// SetTemplate installs the block template served by getTemplate.
func (n *TestNode) SetTemplate(tmpl *types.BlockTemplate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	rec := codec.EncodeTemplate(tmpl)
	n.template = &rec
}

func encodeEntries(entries []types.MempoolEntry) []schema.MempoolEntryRecord {
	recs := make([]schema.MempoolEntryRecord, 0, len(entries))
	for i := range entries {
		recs = append(recs, codec.EncodeMempoolEntry(&entries[i]))
	}
	return recs
}

// ResolveCount reports how many resolve calls the node served for kind.
func (n *TestNode) ResolveCount(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resolveCounts[kind]
}

// CallCount reports how many calls the node served for method, across
// all capabilities and sessions.
func (n *TestNode) CallCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.callCounts[method]
}

// SubscriberCount reports how many sessions hold an active subscription.
func (n *TestNode) SubscriberCount() int {
	n.mu.Lock()
	conns := append([]*testConn(nil), n.conns...)
	n.mu.Unlock()

	count := 0
	for _, tc := range conns {
		tc.mu.Lock()
		if tc.callback != 0 {
			count++
		}
		tc.mu.Unlock()
	}
	return count
}

// WaitForSubscription blocks until at least one session subscribes.
func (n *TestNode) WaitForSubscription(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if n.SubscriberCount() > 0 {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("no subscription after %v", timeout)
}

// Push injection. Each push is delivered to every subscribed session and
// waits for the client's acknowledgement, so handler side effects are
// settled when these return.

// PushBlockConnected announces a newly connected block.
func (n *TestNode) PushBlockConnected(b *types.Block) error {
	rec := codec.EncodeBlock(b)
	return n.push(schema.MethodBlockConnected, &schema.BlockConnectedParams{Block: rec})
}

// PushBlockDisconnected announces a disconnected block.
func (n *TestNode) PushBlockDisconnected(hash types.Hash) error {
	return n.push(schema.MethodBlockDisconnected, &schema.BlockDisconnectedParams{Hash: hash[:]})
}

// PushTransactionAdded announces a transaction entering the mempool.
func (n *TestNode) PushTransactionAdded(tx *types.Transaction) error {
	rec := codec.EncodeTransaction(tx)
	return n.push(schema.MethodTransactionAdded, &schema.TransactionAddedParams{Tx: rec})
}

// PushTransactionRemoved announces a transaction leaving the mempool.
func (n *TestNode) PushTransactionRemoved(txid types.Hash) error {
	return n.push(schema.MethodTransactionRemoved, &schema.TransactionRemovedParams{Txid: txid[:]})
}

// PushChainStateUpdated announces a tip move.
func (n *TestNode) PushChainStateUpdated(tip types.ChainTip) error {
	return n.push(schema.MethodChainStateUpdated, &schema.ChainStateUpdatedParams{Height: tip.Height, Hash: tip.Hash[:]})
}

func (n *TestNode) push(method string, params any) error {
	n.mu.Lock()
	conns := append([]*testConn(nil), n.conns...)
	n.mu.Unlock()

	pushed := false
	for _, tc := range conns {
		sent, err := tc.push(method, params)
		if err != nil {
			return err
		}
		pushed = pushed || sent
	}
	if !pushed {
		return fmt.Errorf("pushing %s: no subscribed session", method)
	}
	return nil
}

// Connection handling.

func (n *TestNode) acceptLoop() {
	defer n.wg.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			return
		}
		tc := &testConn{node: n, conn: conn, inflight: make(map[uint64]chan *schema.Return)}

		n.mu.Lock()
		if n.stopped {
			n.mu.Unlock()
			conn.Close()
			return
		}
		n.conns = append(n.conns, tc)
		n.mu.Unlock()

		n.wg.Add(1)
		go tc.serve()
	}
}

func (tc *testConn) serve() {
	defer tc.node.wg.Done()
	defer tc.conn.Close()

	if err := tc.handshake(); err != nil {
		return
	}

	for {
		typeID, payload, err := ipc.ReadFrame(tc.conn, 16<<20)
		if err != nil {
			return
		}

		switch typeID {
		case schema.TypeIDCall:
			var call schema.Call
			if err := cramberry.Unmarshal(payload, &call); err != nil {
				return
			}
			ret := tc.node.handleCall(tc, &call)
			ret.Seq = call.Seq
			if err := tc.write(schema.TypeIDReturn, ret); err != nil {
				return
			}

		case schema.TypeIDReturn:
			var ret schema.Return
			if err := cramberry.Unmarshal(payload, &ret); err != nil {
				return
			}
			tc.mu.Lock()
			ch := tc.inflight[ret.Seq]
			delete(tc.inflight, ret.Seq)
			tc.mu.Unlock()
			if ch != nil {
				ch <- &ret
			}

		default:
			return
		}
	}
}

func (tc *testConn) handshake() error {
	typeID, payload, err := ipc.ReadFrame(tc.conn, 16<<20)
	if err != nil {
		return err
	}
	if typeID != schema.TypeIDHello {
		return fmt.Errorf("expected hello, got type %d", typeID)
	}
	var hello schema.Hello
	if err := cramberry.Unmarshal(payload, &hello); err != nil {
		return err
	}
	if hello.Magic != schema.ProtocolMagic || hello.Version != schema.ProtocolVersion {
		return fmt.Errorf("bad hello %#x v%d", hello.Magic, hello.Version)
	}
	ack := &schema.HelloAck{Magic: schema.ProtocolMagic, Version: schema.ProtocolVersion, Root: rootCapID}
	return tc.write(schema.TypeIDHelloAck, ack)
}

func (tc *testConn) write(typeID cramberry.TypeID, msg any) error {
	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	return ipc.WriteFrame(tc.conn, typeID, msg)
}

// push sends one node-initiated call and waits for the acknowledgement.
// Returns false without error when the session has no subscription.
func (tc *testConn) push(method string, params any) (bool, error) {
	tc.mu.Lock()
	callback := tc.callback
	if callback == 0 {
		tc.mu.Unlock()
		return false, nil
	}
	tc.pushSeq++
	seq := tc.pushSeq
	ch := make(chan *schema.Return, 1)
	tc.inflight[seq] = ch
	tc.mu.Unlock()

	encoded, err := cramberry.Marshal(params)
	if err != nil {
		return false, fmt.Errorf("encoding %s push: %w", method, err)
	}
	call := &schema.Call{Seq: seq, Target: callback, Method: method, Params: encoded}
	if err := tc.write(schema.TypeIDCall, call); err != nil {
		return false, fmt.Errorf("sending %s push: %w", method, err)
	}

	select {
	case ret := <-ch:
		if ret.Code != schema.CodeOK {
			return true, fmt.Errorf("%s push failed: code %d: %s", method, ret.Code, ret.Message)
		}
		return true, nil
	case <-time.After(pushTimeout):
		return true, fmt.Errorf("%s push not acknowledged after %v", method, pushTimeout)
	}
}

// Call handling.

func (n *TestNode) handleCall(tc *testConn, call *schema.Call) *schema.Return {
	n.mu.Lock()
	n.callCounts[call.Method]++
	n.mu.Unlock()

	switch call.Target {
	case rootCapID:
		return n.handleRoot(call)
	case chainCapID:
		return n.handleChain(tc, call)
	case mempoolCapID:
		return n.handleMempool(call)
	case templateCapID:
		return n.handleTemplate(call)
	default:
		return failure(schema.CodeBadRequest, fmt.Sprintf("unknown capability %d", call.Target))
	}
}

func (n *TestNode) handleRoot(call *schema.Call) *schema.Return {
	if call.Method != schema.MethodResolve {
		return failure(schema.CodeBadRequest, "unknown root method "+call.Method)
	}
	var params schema.ResolveParams
	if err := cramberry.Unmarshal(call.Params, &params); err != nil {
		return failure(schema.CodeBadRequest, err.Error())
	}

	n.mu.Lock()
	n.resolveCounts[params.Kind]++
	enableMempool := n.cfg.EnableMempool
	enableTemplate := n.cfg.EnableTemplate
	n.mu.Unlock()

	var id uint64
	switch params.Kind {
	case schema.KindChain:
		id = chainCapID
	case schema.KindMempool:
		if enableMempool {
			id = mempoolCapID
		}
	case schema.KindBlockTemplate:
		if enableTemplate {
			id = templateCapID
		}
	}
	if id == 0 {
		return failure(schema.CodeUnsupported, "interface "+params.Kind+" not available")
	}
	return success(&schema.ResolveResult{ID: id})
}

func (n *TestNode) handleChain(tc *testConn, call *schema.Call) *schema.Return {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch call.Method {
	case schema.MethodGetTip:
		return success(&schema.TipResult{Height: n.tip.Height, Hash: n.tip.Hash[:]})

	case schema.MethodGetBlock:
		var params schema.GetBlockParams
		if err := cramberry.Unmarshal(call.Params, &params); err != nil {
			return failure(schema.CodeBadRequest, err.Error())
		}
		hash, err := types.NewHashFromBytes(params.Hash)
		if err != nil {
			return failure(schema.CodeBadRequest, err.Error())
		}
		rec, ok := n.blocks[hash]
		if !ok {
			return failure(schema.CodeNotFound, "block not known")
		}
		return success(&schema.GetBlockResult{Block: rec})

	case schema.MethodGetBlockAtHeight:
		var params schema.GetBlockAtHeightParams
		if err := cramberry.Unmarshal(call.Params, &params); err != nil {
			return failure(schema.CodeBadRequest, err.Error())
		}
		rec, ok := n.byHeight[params.Height]
		if !ok {
			return failure(schema.CodeNotFound, "no block at height")
		}
		return success(&schema.GetBlockResult{Block: rec})

	case schema.MethodFindCommonAncestor:
		var params schema.CommonAncestorParams
		if err := cramberry.Unmarshal(call.Params, &params); err != nil {
			return failure(schema.CodeBadRequest, err.Error())
		}
		return success(n.commonAncestorLocked(params))

	case schema.MethodIsInBestChain:
		var params schema.InBestChainParams
		if err := cramberry.Unmarshal(call.Params, &params); err != nil {
			return failure(schema.CodeBadRequest, err.Error())
		}
		hash, err := types.NewHashFromBytes(params.Hash)
		if err != nil {
			return failure(schema.CodeBadRequest, err.Error())
		}
		rec, ok := n.blocks[hash]
		active := false
		if ok {
			best, found := n.byHeight[rec.Height]
			active = found && hashEqual(best.Hash, rec.Hash)
		}
		return success(&schema.InBestChainResult{Active: active})

	case schema.MethodIsSynced:
		return success(&schema.IsSyncedResult{Synced: n.synced})

	case schema.MethodHandleNotifications:
		if n.cfg.RejectSubscriptions {
			return failure(schema.CodeRejected, "notifications disabled")
		}
		var params schema.NotificationsParams
		if err := cramberry.Unmarshal(call.Params, &params); err != nil {
			return failure(schema.CodeBadRequest, err.Error())
		}
		tc.mu.Lock()
		tc.callback = params.Callback
		tc.mu.Unlock()
		return success(nil)

	case schema.MethodStopNotifications:
		tc.mu.Lock()
		tc.callback = 0
		tc.mu.Unlock()
		return success(nil)

	default:
		return failure(schema.CodeBadRequest, "unknown chain method "+call.Method)
	}
}

func (n *TestNode) commonAncestorLocked(params schema.CommonAncestorParams) *schema.CommonAncestorResult {
	hash1, err1 := types.NewHashFromBytes(params.Hash1)
	hash2, err2 := types.NewHashFromBytes(params.Hash2)
	if err1 != nil || err2 != nil {
		return &schema.CommonAncestorResult{}
	}

	seen := make(map[types.Hash]bool)
	for h := hash1; ; {
		rec, ok := n.blocks[h]
		if !ok {
			break
		}
		seen[h] = true
		if rec.Height == 0 {
			break
		}
		prev, err := types.NewHashFromBytes(rec.PrevHash)
		if err != nil {
			break
		}
		h = prev
	}
	for h := hash2; ; {
		rec, ok := n.blocks[h]
		if !ok {
			break
		}
		if seen[h] {
			return &schema.CommonAncestorResult{Found: true, Hash: h[:]}
		}
		if rec.Height == 0 {
			break
		}
		prev, err := types.NewHashFromBytes(rec.PrevHash)
		if err != nil {
			break
		}
		h = prev
	}
	return &schema.CommonAncestorResult{}
}

func (n *TestNode) handleMempool(call *schema.Call) *schema.Return {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch call.Method {
	case schema.MethodMempoolEntry:
		txid, ret := decodeTxid(call.Params)
		if ret != nil {
			return ret
		}
		rec, ok := n.entries[txid]
		if !ok {
			return failure(schema.CodeNotFound, "not in mempool")
		}
		return success(&schema.EntryResult{Entry: rec})

	case schema.MethodMempoolAncestors:
		txid, ret := decodeTxid(call.Params)
		if ret != nil {
			return ret
		}
		if _, ok := n.entries[txid]; !ok {
			return failure(schema.CodeNotFound, "not in mempool")
		}
		recs := n.ancestors[txid]
		return success(&schema.EntriesResult{Count: uint32(len(recs)), Entries: recs})

	case schema.MethodMempoolDescendants:
		txid, ret := decodeTxid(call.Params)
		if ret != nil {
			return ret
		}
		if _, ok := n.entries[txid]; !ok {
			return failure(schema.CodeNotFound, "not in mempool")
		}
		recs := n.descendants[txid]
		return success(&schema.EntriesResult{Count: uint32(len(recs)), Entries: recs})

	case schema.MethodMempoolContains:
		txid, ret := decodeTxid(call.Params)
		if ret != nil {
			return ret
		}
		_, ok := n.entries[txid]
		return success(&schema.ContainsResult{InMempool: ok})

	case schema.MethodBroadcast:
		var params schema.BroadcastParams
		if err := cramberry.Unmarshal(call.Params, &params); err != nil {
			return failure(schema.CodeBadRequest, err.Error())
		}
		if n.rejectReason != "" {
			return success(&schema.BroadcastResult{Accepted: false, Reason: n.rejectReason})
		}
		txid, err := types.NewHashFromBytes(params.Tx.Txid)
		if err != nil {
			return failure(schema.CodeBadRequest, err.Error())
		}
		n.entries[txid] = schema.MempoolEntryRecord{Txid: params.Tx.Txid, Size: params.Tx.Size}
		return success(&schema.BroadcastResult{Accepted: true})

	default:
		return failure(schema.CodeBadRequest, "unknown mempool method "+call.Method)
	}
}

func (n *TestNode) handleTemplate(call *schema.Call) *schema.Return {
	if call.Method != schema.MethodGetTemplate {
		return failure(schema.CodeBadRequest, "unknown template method "+call.Method)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.template == nil {
		return failure(schema.CodeInternal, "no template configured")
	}
	return success(&schema.TemplateResult{Template: *n.template})
}

func decodeTxid(params []byte) (types.Hash, *schema.Return) {
	var p schema.TxidParams
	if err := cramberry.Unmarshal(params, &p); err != nil {
		return types.Hash{}, failure(schema.CodeBadRequest, err.Error())
	}
	txid, err := types.NewHashFromBytes(p.Txid)
	if err != nil {
		return types.Hash{}, failure(schema.CodeBadRequest, err.Error())
	}
	return txid, nil
}

func success(result any) *schema.Return {
	ret := &schema.Return{Code: schema.CodeOK}
	if result != nil {
		payload, err := cramberry.Marshal(result)
		if err != nil {
			return failure(schema.CodeInternal, err.Error())
		}
		ret.Payload = payload
	}
	return ret
}

func failure(code int32, message string) *schema.Return {
	return &schema.Return{Code: code, Message: message}
}

func hashEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NewChain builds a deterministic chain of length blocks starting at the
// genesis. Each block carries one synthetic transaction.
func NewChain(length int) []*types.Block {
	blocks := make([]*types.Block, 0, length)
	var prev types.Hash
	for height := 0; height < length; height++ {
		var seed [8]byte
		binary.BigEndian.PutUint64(seed[:], uint64(height))
		hash := types.HashData(seed[:])

		tx := types.Transaction{
			Txid: types.HashData(append([]byte("tx"), seed[:]...)),
			Outputs: []types.TxOutput{
				{Value: 50_0000_0000, Script: []byte{0x51}},
			},
			Size: 120,
		}

		blocks = append(blocks, &types.Block{
			Hash:         hash,
			PrevHash:     prev,
			MerkleRoot:   tx.Txid,
			Timestamp:    1700000000 + int64(height)*600,
			Nonce:        uint32(height),
			Height:       int64(height),
			Transactions: []types.Transaction{tx},
		})
		prev = hash
	}
	return blocks
}
