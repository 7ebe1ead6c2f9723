package ipc

import (
	"context"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/talkberry/types"
)

// Capability is a handle to one interface exposed by the node. It is
// bound to the session that produced it; after the session closes every
// call fails with ErrClosed. The zero Capability is unbound.
type Capability struct {
	sess  *Session
	id    uint64
	iface string
}

// Interface returns the interface kind this capability was resolved as.
func (c Capability) Interface() string {
	return c.iface
}

// Valid reports whether the capability is bound to a session.
func (c Capability) Valid() bool {
	return c.sess != nil
}

// Connected reports whether the owning session is still usable.
func (c Capability) Connected() bool {
	return c.sess != nil && c.sess.IsConnected()
}

// Call invokes method on the remote capability. params and result may be
// nil for methods without arguments or without a payload; result is
// decoded in place otherwise.
func (c Capability) Call(ctx context.Context, method string, params, result any) error {
	if c.sess == nil {
		return types.WrapCallError(fmt.Errorf("unbound capability: %w", types.ErrClosed), c.iface, method)
	}

	var encoded []byte
	if params != nil {
		var err error
		encoded, err = cramberry.Marshal(params)
		if err != nil {
			return types.WrapCallError(fmt.Errorf("encoding params: %w", err), c.iface, method)
		}
	}

	payload, err := c.sess.call(ctx, c.id, c.iface, method, encoded)
	if err != nil {
		return err
	}

	if result != nil {
		if err := cramberry.Unmarshal(payload, result); err != nil {
			return types.WrapCallError(fmt.Errorf("decoding result: %v: %w", err, types.ErrMalformed), c.iface, method)
		}
	}
	return nil
}
