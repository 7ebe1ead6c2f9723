// Package mining is the query facade over the node's block template
// interface.
package mining

import (
	"context"
	"fmt"

	"github.com/blockberries/talkberry/codec"
	"github.com/blockberries/talkberry/ipc"
	"github.com/blockberries/talkberry/logging"
	"github.com/blockberries/talkberry/schema"
	"github.com/blockberries/talkberry/types"
)

// Mining requests block templates from the node. Nodes built without
// template support fail at construction with ErrUnsupported.
type Mining struct {
	cap ipc.Capability
	log *logging.Logger
}

// New resolves the block template interface and builds the facade.
func New(ctx context.Context, reg *ipc.Registry, log *logging.Logger) (*Mining, error) {
	cap, err := reg.Resolve(ctx, schema.KindBlockTemplate)
	if err != nil {
		return nil, fmt.Errorf("resolving blocktemplate interface: %w", err)
	}
	return &Mining{cap: cap, log: log.WithComponent("mining")}, nil
}

// GetBlockTemplate returns a template for the next block, built against
// the node's current tip.
func (m *Mining) GetBlockTemplate(ctx context.Context) (*types.BlockTemplate, error) {
	var res schema.TemplateResult
	if err := m.cap.Call(ctx, schema.MethodGetTemplate, nil, &res); err != nil {
		return nil, err
	}
	tmpl, err := codec.DecodeTemplate(&res.Template)
	if err != nil {
		return nil, err
	}
	m.log.Debug("template received",
		logging.Height(tmpl.Height), logging.Count(len(tmpl.Transactions)))
	return tmpl, nil
}
