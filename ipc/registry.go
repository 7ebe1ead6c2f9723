package ipc

import (
	"context"
	"sync"

	"github.com/blockberries/talkberry/logging"
	"github.com/blockberries/talkberry/schema"
)

// Registry resolves interface kinds through the root capability and
// memoizes the results, so each kind is resolved over the wire at most
// once per session no matter how many goroutines ask.
type Registry struct {
	sess *Session
	log  *logging.Logger

	mu     sync.Mutex
	caps   map[string]Capability
	flight map[string]*resolveFlight
}

type resolveFlight struct {
	done chan struct{}
	cap  Capability
	err  error
}

// NewRegistry creates a registry over the session's root capability.
func NewRegistry(sess *Session, log *logging.Logger) *Registry {
	return &Registry{
		sess:   sess,
		log:    log.WithComponent("registry"),
		caps:   make(map[string]Capability),
		flight: make(map[string]*resolveFlight),
	}
}

// Resolve returns the capability for kind, resolving it through the root
// capability on first use. Concurrent resolutions of the same kind share
// one wire call. Failed resolutions are not cached.
func (r *Registry) Resolve(ctx context.Context, kind string) (Capability, error) {
	r.mu.Lock()
	if cap, ok := r.caps[kind]; ok {
		r.mu.Unlock()
		return cap, nil
	}
	if fl, ok := r.flight[kind]; ok {
		r.mu.Unlock()
		select {
		case <-fl.done:
			return fl.cap, fl.err
		case <-ctx.Done():
			return Capability{}, ctx.Err()
		}
	}
	fl := &resolveFlight{done: make(chan struct{})}
	r.flight[kind] = fl
	r.mu.Unlock()

	var res schema.ResolveResult
	err := r.sess.Bootstrap().Call(ctx, schema.MethodResolve, &schema.ResolveParams{Kind: kind}, &res)

	r.mu.Lock()
	delete(r.flight, kind)
	if err == nil {
		fl.cap = Capability{sess: r.sess, id: res.ID, iface: kind}
		r.caps[kind] = fl.cap
		r.log.Debug("interface resolved", logging.Interface(kind), "id", res.ID)
	} else {
		fl.err = err
	}
	r.mu.Unlock()

	close(fl.done)
	return fl.cap, fl.err
}
