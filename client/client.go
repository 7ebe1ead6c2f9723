// Package client assembles the talkberry facades over one node session:
// connect, query, subscribe, close.
package client

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/blockberries/talkberry/chain"
	"github.com/blockberries/talkberry/config"
	"github.com/blockberries/talkberry/ipc"
	"github.com/blockberries/talkberry/logging"
	"github.com/blockberries/talkberry/mempool"
	"github.com/blockberries/talkberry/metrics"
	"github.com/blockberries/talkberry/mining"
	"github.com/blockberries/talkberry/notify"
)

// Client is a connected talkberry client. One Client owns one session;
// after Close every facade fails with ErrClosed. All methods are safe
// for concurrent use.
type Client struct {
	cfg *config.Config
	log *logging.Logger
	met metrics.Metrics

	sess *ipc.Session
	reg  *ipc.Registry

	chain  *chain.Chain
	notify *notify.Engine

	mu      sync.Mutex
	mempool *mempool.Mempool
	mining  *mining.Mining
}

type options struct {
	log *logging.Logger
	met metrics.Metrics
}

// Option overrides pieces of the client assembly.
type Option func(*options)

// WithLogger replaces the logger built from the config.
func WithLogger(log *logging.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics replaces the metrics sink built from the config.
func WithMetrics(met metrics.Metrics) Option {
	return func(o *options) { o.met = met }
}

// Connect dials the node socket with default configuration.
func Connect(ctx context.Context, socketPath string, opts ...Option) (*Client, error) {
	cfg := config.DefaultConfig()
	cfg.Socket.Path = socketPath
	return ConnectWithConfig(ctx, cfg, opts...)
}

// ConnectWithConfig dials the node described by cfg, performs the
// handshake, and resolves the chain interface. The mempool and mining
// facades resolve lazily on first use, since nodes may not expose them.
func ConnectWithConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = buildLogger(cfg)
	}
	if o.met == nil {
		o.met = buildMetrics(cfg)
	}

	dialCtx := ctx
	if d := cfg.Socket.DialTimeout.Duration(); d > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	sess, err := ipc.Dial(dialCtx, cfg.Socket.Path,
		ipc.WithLogger(o.log),
		ipc.WithMetrics(o.met),
		ipc.WithHandshakeTimeout(cfg.Socket.HandshakeTimeout.Duration()),
		ipc.WithMaxFrameSize(cfg.Socket.MaxFrameSize),
		ipc.WithPushBuffer(cfg.Notifications.DispatchBuffer),
	)
	if err != nil {
		return nil, err
	}

	reg := ipc.NewRegistry(sess, o.log)

	chainFacade, err := chain.New(ctx, reg, o.log, cfg.Chain.BlockCacheSize)
	if err != nil {
		sess.Close()
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		log:    o.log,
		met:    o.met,
		sess:   sess,
		reg:    reg,
		chain:  chainFacade,
		notify: notify.NewEngine(sess, reg, o.log, o.met),
	}
	return c, nil
}

func buildLogger(cfg *config.Config) *logging.Logger {
	level := logging.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.Format == "json" {
		return logging.NewJSONLogger(os.Stderr, level)
	}
	return logging.NewTextLogger(os.Stderr, level)
}

func buildMetrics(cfg *config.Config) metrics.Metrics {
	if cfg.Metrics.Enabled {
		return metrics.NewPrometheusMetrics(cfg.Metrics.Namespace)
	}
	return metrics.NewNopMetrics()
}

// Chain returns the chain query facade.
func (c *Client) Chain() *chain.Chain {
	return c.chain
}

// Mempool returns the mempool facade, resolving it on first use. Nodes
// without a mempool fail with ErrUnsupported.
func (c *Client) Mempool(ctx context.Context) (*mempool.Mempool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mempool != nil {
		return c.mempool, nil
	}
	m, err := mempool.New(ctx, c.reg, c.log)
	if err != nil {
		return nil, err
	}
	c.mempool = m
	return m, nil
}

// Mining returns the block template facade, resolving it on first use.
// Nodes without template support fail with ErrUnsupported.
func (c *Client) Mining(ctx context.Context) (*mining.Mining, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mining != nil {
		return c.mining, nil
	}
	m, err := mining.New(ctx, c.reg, c.log)
	if err != nil {
		return nil, err
	}
	c.mining = m
	return m, nil
}

// Notifications returns the notification engine.
func (c *Client) Notifications() *notify.Engine {
	return c.notify
}

// Metrics returns the metrics sink the client reports into.
func (c *Client) Metrics() metrics.Metrics {
	return c.met
}

// IsConnected reports whether the underlying session is still up.
func (c *Client) IsConnected() bool {
	return c.sess.IsConnected()
}

// Close tears down the session. In-flight calls fail with ErrClosed and
// the subscription, if any, transitions to Disconnected.
func (c *Client) Close() error {
	if err := c.sess.Close(); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}
