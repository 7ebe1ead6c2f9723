// Package ipc implements the capability transport to the node: the unix
// socket session, the hello handshake, call/return matching, capability
// resolution, and dispatch of node-initiated calls to exported callbacks.
package ipc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/talkberry/logging"
	"github.com/blockberries/talkberry/metrics"
	"github.com/blockberries/talkberry/schema"
	"github.com/blockberries/talkberry/types"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultMaxFrameSize     = 16 << 20
	defaultPushBuffer       = 64
)

// PushHandler receives calls the node makes against a capability exported
// by the client. Pushes for a session are dispatched one at a time, in
// arrival order.
type PushHandler interface {
	HandlePush(ctx context.Context, method string, params []byte) error
}

// Session is one connection to a node. It owns the socket, matches
// returns to in-flight calls by sequence number, and dispatches
// node-initiated calls to exported handlers. All methods are safe for
// concurrent use.
type Session struct {
	conn net.Conn
	log  *logging.Logger
	met  metrics.Metrics

	handshakeTimeout time.Duration
	maxFrameSize     uint32
	pushBuffer       int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	pending    map[uint64]chan *schema.Return
	exports    map[uint64]PushHandler
	nextSeq    uint64
	nextExport uint64
	onClose    []func()

	root   Capability
	pushCh chan *schema.Call
}

// Option configures a Session before it connects.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithMetrics sets the session metrics sink.
func WithMetrics(met metrics.Metrics) Option {
	return func(s *Session) { s.met = met }
}

// WithHandshakeTimeout bounds the hello exchange after the socket opens.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) { s.handshakeTimeout = d }
}

// WithMaxFrameSize caps the size of a single inbound frame.
func WithMaxFrameSize(size uint32) Option {
	return func(s *Session) { s.maxFrameSize = size }
}

// WithPushBuffer sets the inbound push queue depth.
func WithPushBuffer(n int) Option {
	return func(s *Session) { s.pushBuffer = n }
}

// Dial connects to the node's unix socket and performs the hello
// handshake. The context bounds the dial only; the handshake is bounded
// by the handshake timeout.
func Dial(ctx context.Context, socketPath string, opts ...Option) (*Session, error) {
	s := &Session{
		log:              logging.NewNopLogger(),
		met:              metrics.NewNopMetrics(),
		handshakeTimeout: defaultHandshakeTimeout,
		maxFrameSize:     defaultMaxFrameSize,
		pushBuffer:       defaultPushBuffer,
		pending:          make(map[uint64]chan *schema.Return),
		exports:          make(map[uint64]PushHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("ipc")

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %v: %w", socketPath, err, types.ErrUnreachable)
	}
	s.conn = conn

	if err := s.handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.pushCh = make(chan *schema.Call, s.pushBuffer)

	s.wg.Add(2)
	go s.readLoop()
	go s.dispatchLoop()

	s.met.SetConnected(true)
	s.log.Info("session established", logging.Socket(socketPath))

	return s, nil
}

func (s *Session) handshake() error {
	deadline := time.Now().Add(s.handshakeTimeout)
	if err := s.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("%v: %w", err, types.ErrHandshakeFailed)
	}

	hello := &schema.Hello{Magic: schema.ProtocolMagic, Version: schema.ProtocolVersion}
	if err := WriteFrame(s.conn, schema.TypeIDHello, hello); err != nil {
		return fmt.Errorf("sending hello: %v: %w", err, types.ErrHandshakeFailed)
	}

	typeID, payload, err := ReadFrame(s.conn, s.maxFrameSize)
	if err != nil {
		return fmt.Errorf("reading hello ack: %v: %w", err, types.ErrHandshakeFailed)
	}
	if typeID != schema.TypeIDHelloAck {
		return fmt.Errorf("unexpected message type %d: %w", typeID, types.ErrHandshakeFailed)
	}

	var ack schema.HelloAck
	if err := cramberry.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("decoding hello ack: %v: %w", err, types.ErrHandshakeFailed)
	}
	if ack.Magic != schema.ProtocolMagic {
		return fmt.Errorf("bad magic %#x: %w", ack.Magic, types.ErrHandshakeFailed)
	}
	if ack.Version != schema.ProtocolVersion {
		return fmt.Errorf("protocol version %d not supported: %w", ack.Version, types.ErrHandshakeFailed)
	}

	if err := s.conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("%v: %w", err, types.ErrHandshakeFailed)
	}

	s.root = Capability{sess: s, id: ack.Root, iface: "root"}
	return nil
}

// Bootstrap returns the root capability obtained during the handshake.
func (s *Session) Bootstrap() Capability {
	return s.root
}

// IsConnected reports whether the session is still usable.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// OnClose registers fn to run once when the session tears down. If the
// session is already closed fn runs immediately.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// Export registers a push handler and returns the capability id the node
// should target. Ids are never reused within a session.
func (s *Session) Export(h PushHandler) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextExport++
	s.exports[s.nextExport] = h
	return s.nextExport
}

// Unexport revokes a previously exported handler. Subsequent pushes
// against the id fail at the dispatch layer.
func (s *Session) Unexport(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.exports, id)
}

// Close tears the session down and waits for its goroutines to stop.
// In-flight calls fail with ErrClosed. Close is idempotent.
func (s *Session) Close() error {
	s.teardown(nil)
	s.wg.Wait()
	return nil
}

// teardown performs the one-shot close. It is called from Close, from
// the read loop on transport errors, and from failed writes.
func (s *Session) teardown(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	hooks := s.onClose
	s.onClose = nil
	s.mu.Unlock()

	// Pending callers unblock through the session context.
	s.cancel()
	s.conn.Close()

	s.met.SetConnected(false)
	if cause != nil {
		s.log.Warn("session lost", "cause", cause)
	} else {
		s.log.Info("session closed")
	}

	for _, fn := range hooks {
		fn()
	}
}

// call sends one request and waits for its return. The iface and method
// labels are only used for logging and metrics.
func (s *Session) call(ctx context.Context, target uint64, iface, method string, params []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		s.met.IncCallErrors(iface, method, "canceled")
		return nil, types.WrapCallError(err, iface, method)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, types.WrapCallError(types.ErrClosed, iface, method)
	}
	s.nextSeq++
	seq := s.nextSeq
	ch := make(chan *schema.Return, 1)
	s.pending[seq] = ch
	s.mu.Unlock()

	s.met.IncCalls(iface, method)
	start := time.Now()

	call := &schema.Call{Seq: seq, Target: target, Method: method, Params: params}
	if err := s.writeFrame(schema.TypeIDCall, call); err != nil {
		s.dropPending(seq)
		s.met.IncCallErrors(iface, method, "transport")
		s.teardown(err)
		return nil, types.WrapCallError(types.ErrClosed, iface, method)
	}

	select {
	case ret := <-ch:
		elapsed := time.Since(start)
		s.met.ObserveCallDuration(iface, method, elapsed)
		if ret.Code != schema.CodeOK {
			s.met.IncCallErrors(iface, method, errorKind(ret.Code))
			return nil, types.WrapCallError(remoteError(ret), iface, method)
		}
		s.log.Debug("call completed",
			logging.Interface(iface), logging.Method(method), logging.Duration(elapsed))
		return ret.Payload, nil

	case <-ctx.Done():
		s.dropPending(seq)
		s.met.IncCallErrors(iface, method, "canceled")
		return nil, types.WrapCallError(ctx.Err(), iface, method)

	case <-s.ctx.Done():
		s.met.IncCallErrors(iface, method, "closed")
		return nil, types.WrapCallError(types.ErrClosed, iface, method)
	}
}

func (s *Session) dropPending(seq uint64) {
	s.mu.Lock()
	delete(s.pending, seq)
	s.mu.Unlock()
}

func (s *Session) writeFrame(typeID cramberry.TypeID, msg any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteFrame(s.conn, typeID, msg)
}

// readLoop owns the socket read side. Returns are matched against the
// pending table; inbound calls are queued for the dispatch loop so that
// pushes never block frame reading.
func (s *Session) readLoop() {
	defer s.wg.Done()

	for {
		typeID, payload, err := ReadFrame(s.conn, s.maxFrameSize)
		if err != nil {
			s.teardown(err)
			return
		}

		switch typeID {
		case schema.TypeIDReturn:
			var ret schema.Return
			if err := cramberry.Unmarshal(payload, &ret); err != nil {
				s.teardown(fmt.Errorf("decoding return: %w", err))
				return
			}
			s.mu.Lock()
			ch := s.pending[ret.Seq]
			delete(s.pending, ret.Seq)
			s.mu.Unlock()
			if ch != nil {
				ch <- &ret
			}

		case schema.TypeIDCall:
			var call schema.Call
			if err := cramberry.Unmarshal(payload, &call); err != nil {
				s.teardown(fmt.Errorf("decoding inbound call: %w", err))
				return
			}
			select {
			case s.pushCh <- &call:
			case <-s.ctx.Done():
				return
			}

		default:
			s.log.Warn("ignoring unexpected frame", "type", int64(typeID))
		}
	}
}

// dispatchLoop delivers node-initiated calls to exported handlers one at
// a time and answers each with a return frame.
func (s *Session) dispatchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case call := <-s.pushCh:
			s.mu.Lock()
			h := s.exports[call.Target]
			s.mu.Unlock()

			ret := schema.Return{Seq: call.Seq, Code: schema.CodeOK}
			if h == nil {
				ret.Code = schema.CodeBadRequest
				ret.Message = fmt.Sprintf("no exported capability %d", call.Target)
			} else if err := h.HandlePush(s.ctx, call.Method, call.Params); err != nil {
				ret.Code = schema.CodeInternal
				ret.Message = err.Error()
			}

			if err := s.writeFrame(schema.TypeIDReturn, &ret); err != nil {
				s.teardown(err)
				return
			}
		}
	}
}

// remoteError maps a non-OK return to the corresponding sentinel,
// wrapping the node's message when it carries one.
func remoteError(ret *schema.Return) error {
	var base error
	switch ret.Code {
	case schema.CodeNotFound:
		base = types.ErrNotFound
	case schema.CodeUnsupported:
		base = types.ErrUnsupported
	case schema.CodeRejected:
		base = types.ErrRejected
	default:
		base = types.ErrNode
	}
	if ret.Message == "" {
		return base
	}
	return fmt.Errorf("%s: %w", ret.Message, base)
}

func errorKind(code int32) string {
	switch code {
	case schema.CodeNotFound:
		return "not_found"
	case schema.CodeUnsupported:
		return "unsupported"
	case schema.CodeRejected:
		return "rejected"
	default:
		return "node"
	}
}
