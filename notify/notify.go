// Package notify manages the subscription to the node's chain events:
// callback registration over the wire, the subscription state machine,
// and ordered delivery to local handlers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/talkberry/codec"
	"github.com/blockberries/talkberry/ipc"
	"github.com/blockberries/talkberry/logging"
	"github.com/blockberries/talkberry/metrics"
	"github.com/blockberries/talkberry/schema"
	"github.com/blockberries/talkberry/types"
)

// State is the subscription lifecycle state.
type State int32

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateSubscribed
	StateUnsubscribing
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	case StateUnsubscribing:
		return "unsubscribing"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handler consumes chain notifications. Handlers run on the session's
// dispatch goroutine, so a slow handler delays every later notification.
type Handler interface {
	HandleNotification(ctx context.Context, n types.ChainNotification) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, n types.ChainNotification) error

func (f HandlerFunc) HandleNotification(ctx context.Context, n types.ChainNotification) error {
	return f(ctx, n)
}

// HandlerID identifies a registered handler for unregistration.
type HandlerID uint64

type registration struct {
	id HandlerID
	h  Handler
}

// Engine owns the session's one subscription. Handlers may be registered
// at any time; the wire subscription is started and stopped explicitly.
// All methods are safe for concurrent use.
type Engine struct {
	sess *ipc.Session
	reg  *ipc.Registry
	log  *logging.Logger
	met  metrics.Metrics

	mu       sync.Mutex
	state    State
	handlers []registration
	nextID   HandlerID
	exportID uint64
}

// NewEngine builds the engine over an established session. The engine
// transitions to Disconnected when the session closes, whatever state it
// was in.
func NewEngine(sess *ipc.Session, reg *ipc.Registry, log *logging.Logger, met metrics.Metrics) *Engine {
	e := &Engine{
		sess: sess,
		reg:  reg,
		log:  log.WithComponent("notify"),
		met:  met,
	}
	e.met.SetSubscriptionState(StateUnsubscribed.String())
	sess.OnClose(e.onDisconnect)
	return e
}

// State returns the current subscription state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RegisterHandler adds h to the dispatch list. Handlers receive
// notifications in registration order; registering the same handler
// twice delivers each notification twice. Registration is allowed in any
// state and takes effect from the next notification.
func (e *Engine) RegisterHandler(h Handler) HandlerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.handlers = append(e.handlers, registration{id: e.nextID, h: h})
	return e.nextID
}

// UnregisterHandler removes the handler registered under id. It reports
// whether the id was known. A dispatch already in progress still
// delivers to the removed handler.
func (e *Engine) UnregisterHandler(id HandlerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.handlers {
		if e.handlers[i].id == id {
			e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Subscribe registers the client's callback with the node. Only one
// subscription exists per session; Subscribe while one is active or in
// progress fails with ErrSubscriptionActive.
func (e *Engine) Subscribe(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateDisconnected:
		e.mu.Unlock()
		return types.ErrClosed
	case StateUnsubscribed:
	default:
		e.mu.Unlock()
		return types.ErrSubscriptionActive
	}
	e.setStateLocked(StateSubscribing)
	e.mu.Unlock()

	err := e.subscribe(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDisconnected {
		// The session died while the registration was in flight.
		e.unexportLocked()
		if err == nil {
			err = types.ErrClosed
		}
		return err
	}
	if err != nil {
		e.unexportLocked()
		e.setStateLocked(StateUnsubscribed)
		// Session teardown and caller cancellation are not refusals.
		if errors.Is(err, types.ErrClosed) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("subscribing: %v: %w", err, types.ErrSubscriptionRejected)
	}
	e.setStateLocked(StateSubscribed)
	e.log.Info("subscribed to chain notifications")
	return nil
}

func (e *Engine) subscribe(ctx context.Context) error {
	cap, err := e.reg.Resolve(ctx, schema.KindChain)
	if err != nil {
		return err
	}

	id := e.sess.Export(e)
	e.mu.Lock()
	e.exportID = id
	e.mu.Unlock()

	params := &schema.NotificationsParams{Callback: id}
	return cap.Call(ctx, schema.MethodHandleNotifications, params, nil)
}

// Unsubscribe revokes the callback registration at the node. Without an
// active subscription it fails with ErrSubscriptionNotActive.
func (e *Engine) Unsubscribe(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateDisconnected:
		e.mu.Unlock()
		return types.ErrClosed
	case StateSubscribed:
	default:
		e.mu.Unlock()
		return types.ErrSubscriptionNotActive
	}
	e.setStateLocked(StateUnsubscribing)
	e.mu.Unlock()

	cap, err := e.reg.Resolve(ctx, schema.KindChain)
	if err == nil {
		err = cap.Call(ctx, schema.MethodStopNotifications, nil, nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		if errors.Is(err, types.ErrClosed) || e.state == StateDisconnected {
			// The session died while the revoke was in flight; there is
			// no live subscription to report as Unsubscribed.
			e.unexportLocked()
			e.setStateLocked(StateDisconnected)
			return err
		}
		// The node still holds the registration.
		e.setStateLocked(StateSubscribed)
		return fmt.Errorf("unsubscribing: %w", err)
	}
	if e.state == StateDisconnected {
		e.unexportLocked()
		return nil
	}
	e.unexportLocked()
	e.setStateLocked(StateUnsubscribed)
	e.log.Info("unsubscribed from chain notifications")
	return nil
}

func (e *Engine) unexportLocked() {
	if e.exportID != 0 {
		e.sess.Unexport(e.exportID)
		e.exportID = 0
	}
}

func (e *Engine) setStateLocked(s State) {
	e.state = s
	e.met.SetSubscriptionState(s.String())
}

func (e *Engine) onDisconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDisconnected {
		return
	}
	e.setStateLocked(StateDisconnected)
	e.log.Info("subscription disconnected")
}

// HandlePush implements ipc.PushHandler. The session dispatch loop calls
// it serially, which gives handlers the node's event order. A handler
// failure is isolated: it is logged and counted, and later handlers
// still run.
func (e *Engine) HandlePush(ctx context.Context, method string, params []byte) error {
	n, err := decodeNotification(method, params)
	if err != nil {
		e.log.Warn("dropping undecodable notification", logging.Method(method), "error", err)
		return err
	}

	e.met.IncNotifications(string(n.Kind))
	e.log.Debug("notification received", logging.Notification(string(n.Kind)))

	e.mu.Lock()
	snapshot := append([]registration(nil), e.handlers...)
	e.mu.Unlock()

	for _, reg := range snapshot {
		if err := reg.h.HandleNotification(ctx, n); err != nil {
			e.met.IncHandlerErrors()
			e.log.Warn("notification handler failed",
				logging.Notification(string(n.Kind)), "handler", uint64(reg.id), "error", err)
		}
	}
	return nil
}

func decodeNotification(method string, params []byte) (types.ChainNotification, error) {
	switch method {
	case schema.MethodBlockConnected:
		var p schema.BlockConnectedParams
		if err := cramberry.Unmarshal(params, &p); err != nil {
			return types.ChainNotification{}, types.WrapDecodeError(err, "blockConnected")
		}
		block, err := codec.DecodeBlock(&p.Block)
		if err != nil {
			return types.ChainNotification{}, err
		}
		return types.NewBlockConnected(block), nil

	case schema.MethodBlockDisconnected:
		var p schema.BlockDisconnectedParams
		if err := cramberry.Unmarshal(params, &p); err != nil {
			return types.ChainNotification{}, types.WrapDecodeError(err, "blockDisconnected")
		}
		hash, err := types.NewHashFromBytes(p.Hash)
		if err != nil {
			return types.ChainNotification{}, types.WrapDecodeError(err, "blockDisconnected")
		}
		return types.NewBlockDisconnected(hash), nil

	case schema.MethodTransactionAdded:
		var p schema.TransactionAddedParams
		if err := cramberry.Unmarshal(params, &p); err != nil {
			return types.ChainNotification{}, types.WrapDecodeError(err, "transactionAdded")
		}
		tx, err := codec.DecodeTransaction(&p.Tx)
		if err != nil {
			return types.ChainNotification{}, err
		}
		return types.NewTransactionAdded(tx), nil

	case schema.MethodTransactionRemoved:
		var p schema.TransactionRemovedParams
		if err := cramberry.Unmarshal(params, &p); err != nil {
			return types.ChainNotification{}, types.WrapDecodeError(err, "transactionRemoved")
		}
		txid, err := types.NewHashFromBytes(p.Txid)
		if err != nil {
			return types.ChainNotification{}, types.WrapDecodeError(err, "transactionRemoved")
		}
		return types.NewTransactionRemoved(txid), nil

	case schema.MethodChainStateUpdated:
		var p schema.ChainStateUpdatedParams
		if err := cramberry.Unmarshal(params, &p); err != nil {
			return types.ChainNotification{}, types.WrapDecodeError(err, "chainStateUpdated")
		}
		hash, err := types.NewHashFromBytes(p.Hash)
		if err != nil {
			return types.ChainNotification{}, types.WrapDecodeError(err, "chainStateUpdated")
		}
		if p.Height < 0 {
			return types.ChainNotification{}, fmt.Errorf("tip height %d: %w", p.Height, types.ErrMalformed)
		}
		return types.NewChainStateUpdated(types.ChainTip{Height: p.Height, Hash: hash}), nil

	default:
		return types.ChainNotification{}, fmt.Errorf("unknown notification method %q: %w", method, types.ErrMalformed)
	}
}
