package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockberries/talkberry/types"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the node's chain state",
	Long: `Query the tip, sync state, and mempool availability of the node
behind the IPC socket.

Example:
  talkberry status --socket /var/run/node/node.sock
  talkberry status --socket /var/run/node/node.sock --json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

// StatusResponse is the printed node status.
type StatusResponse struct {
	Height   int64     `json:"height"`
	Hash     string    `json:"hash"`
	TipTime  time.Time `json:"tip_time"`
	Synced   bool      `json:"synced"`
	Mempool  bool      `json:"mempool"`
	Template bool      `json:"template"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := connectClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	tip, err := c.Chain().GetTip(ctx)
	if err != nil {
		return fmt.Errorf("querying tip: %w", err)
	}
	tipTime, err := c.Chain().TipTime(ctx)
	if err != nil {
		return fmt.Errorf("querying tip time: %w", err)
	}
	synced, err := c.Chain().IsSynced(ctx)
	if err != nil {
		return fmt.Errorf("querying sync state: %w", err)
	}

	status := StatusResponse{
		Height:  tip.Height,
		Hash:    tip.Hash.String(),
		TipTime: time.Unix(tipTime, 0).UTC(),
		Synced:  synced,
	}

	// Optional interfaces: absence is a fact to report, not a failure.
	if _, err := c.Mempool(ctx); err == nil {
		status.Mempool = true
	} else if !errors.Is(err, types.ErrUnsupported) {
		return fmt.Errorf("resolving mempool: %w", err)
	}
	if _, err := c.Mining(ctx); err == nil {
		status.Template = true
	} else if !errors.Is(err, types.ErrUnsupported) {
		return fmt.Errorf("resolving blocktemplate: %w", err)
	}

	if statusJSON {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Height:    %d\n", status.Height)
	fmt.Printf("Hash:      %s\n", status.Hash)
	fmt.Printf("Tip time:  %s\n", status.TipTime.Format(time.RFC3339))
	fmt.Printf("Synced:    %t\n", status.Synced)
	fmt.Printf("Mempool:   %t\n", status.Mempool)
	fmt.Printf("Templates: %t\n", status.Template)
	return nil
}
