// Package chain is the query facade over the node's chain interface:
// tip and block queries, chain membership, ancestry, and sync state.
package chain

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/blockberries/talkberry/codec"
	"github.com/blockberries/talkberry/ipc"
	"github.com/blockberries/talkberry/logging"
	"github.com/blockberries/talkberry/schema"
	"github.com/blockberries/talkberry/types"
)

// Chain queries the node's active chain. Methods are safe for concurrent
// use; results reflect the node's state at the time the node answered.
type Chain struct {
	cap ipc.Capability
	log *logging.Logger

	// Blocks are immutable by hash, so cached entries never go stale.
	cache *lru.Cache[types.Hash, *types.Block]
}

// New resolves the chain interface and builds the facade. cacheSize <= 0
// disables the block cache.
func New(ctx context.Context, reg *ipc.Registry, log *logging.Logger, cacheSize int) (*Chain, error) {
	cap, err := reg.Resolve(ctx, schema.KindChain)
	if err != nil {
		return nil, fmt.Errorf("resolving chain interface: %w", err)
	}

	c := &Chain{cap: cap, log: log.WithComponent("chain")}
	if cacheSize > 0 {
		cache, err := lru.New[types.Hash, *types.Block](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating block cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// GetTip returns the current best chain tip.
func (c *Chain) GetTip(ctx context.Context) (types.ChainTip, error) {
	var res schema.TipResult
	if err := c.cap.Call(ctx, schema.MethodGetTip, nil, &res); err != nil {
		return types.ChainTip{}, err
	}
	return codec.DecodeTip(&res)
}

// GetBlock fetches the block identified by both hash and height and
// cross-checks the response against them. A well-formed answer that
// carries a different hash or height fails with ErrInconsistent.
func (c *Chain) GetBlock(ctx context.Context, hash types.Hash, height int64) (*types.Block, error) {
	block, err := c.GetBlockByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if block.Height != height {
		return nil, fmt.Errorf("block %s at height %d, expected %d: %w",
			hash, block.Height, height, types.ErrInconsistent)
	}
	return block, nil
}

// GetBlockByHash fetches the block identified by hash. The cache never
// outlives the session: once it closes, every call fails with ErrClosed.
func (c *Chain) GetBlockByHash(ctx context.Context, hash types.Hash) (*types.Block, error) {
	if c.cache != nil && c.cap.Connected() {
		if block, ok := c.cache.Get(hash); ok {
			c.log.Debug("block cache hit", logging.Hash(hash[:]))
			return block, nil
		}
	}

	var res schema.GetBlockResult
	params := &schema.GetBlockParams{Hash: hash[:], WantData: true}
	if err := c.cap.Call(ctx, schema.MethodGetBlock, params, &res); err != nil {
		return nil, err
	}

	block, err := codec.DecodeBlock(&res.Block)
	if err != nil {
		return nil, err
	}
	if block.Hash != hash {
		return nil, fmt.Errorf("asked for block %s, got %s: %w",
			hash, block.Hash, types.ErrInconsistent)
	}

	if c.cache != nil {
		c.cache.Add(hash, block)
	}
	return block, nil
}

// GetBlockAtHeight fetches the active-chain block at the given height.
func (c *Chain) GetBlockAtHeight(ctx context.Context, height int64) (*types.Block, error) {
	if height < 0 {
		return nil, fmt.Errorf("height %d: %w", height, types.ErrNotFound)
	}

	var res schema.GetBlockResult
	params := &schema.GetBlockAtHeightParams{Height: height, WantData: true}
	if err := c.cap.Call(ctx, schema.MethodGetBlockAtHeight, params, &res); err != nil {
		return nil, err
	}

	block, err := codec.DecodeBlock(&res.Block)
	if err != nil {
		return nil, err
	}
	if block.Height != height {
		return nil, fmt.Errorf("asked for height %d, got %d: %w",
			height, block.Height, types.ErrInconsistent)
	}

	if c.cache != nil {
		c.cache.Add(block.Hash, block)
	}
	return block, nil
}

// GetGenesisBlock fetches the active chain's genesis block.
func (c *Chain) GetGenesisBlock(ctx context.Context) (*types.Block, error) {
	return c.GetBlockAtHeight(ctx, 0)
}

// TipTime returns the timestamp of the current tip block.
func (c *Chain) TipTime(ctx context.Context) (int64, error) {
	tip, err := c.GetTip(ctx)
	if err != nil {
		return 0, err
	}
	block, err := c.GetBlockByHash(ctx, tip.Hash)
	if err != nil {
		return 0, err
	}
	return block.Timestamp, nil
}

// IsSynced reports whether the node considers itself caught up.
func (c *Chain) IsSynced(ctx context.Context) (bool, error) {
	var res schema.IsSyncedResult
	if err := c.cap.Call(ctx, schema.MethodIsSynced, nil, &res); err != nil {
		return false, err
	}
	return res.Synced, nil
}

// IsInBestChain reports whether the block is part of the active chain.
// Unknown blocks report false without error.
func (c *Chain) IsInBestChain(ctx context.Context, hash types.Hash) (bool, error) {
	var res schema.InBestChainResult
	params := &schema.InBestChainParams{Hash: hash[:]}
	if err := c.cap.Call(ctx, schema.MethodIsInBestChain, params, &res); err != nil {
		return false, err
	}
	return res.Active, nil
}

// FindCommonAncestor returns the deepest block on both branches. The
// second return is false when the branches share no known ancestor.
func (c *Chain) FindCommonAncestor(ctx context.Context, hash1, hash2 types.Hash) (types.Hash, bool, error) {
	var res schema.CommonAncestorResult
	params := &schema.CommonAncestorParams{Hash1: hash1[:], Hash2: hash2[:]}
	if err := c.cap.Call(ctx, schema.MethodFindCommonAncestor, params, &res); err != nil {
		return types.Hash{}, false, err
	}
	if !res.Found {
		return types.Hash{}, false, nil
	}
	hash, err := types.NewHashFromBytes(res.Hash)
	if err != nil {
		return types.Hash{}, false, types.WrapDecodeError(err, "common ancestor")
	}
	return hash, true, nil
}
