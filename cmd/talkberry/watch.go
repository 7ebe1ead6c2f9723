package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockberries/talkberry/types"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream chain notifications",
	Long: `Subscribe to the node's chain notifications and print each event
until interrupted (Ctrl+C).

Example:
  talkberry watch --socket /var/run/node/node.sock`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := connectClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	c.Notifications().RegisterHandler(printHandler{})
	if err := c.Notifications().Subscribe(ctx); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	fmt.Println("watching chain notifications, Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	unsubCtx, unsubCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer unsubCancel()
	if c.IsConnected() {
		if err := c.Notifications().Unsubscribe(unsubCtx); err != nil {
			fmt.Fprintf(os.Stderr, "unsubscribe failed: %v\n", err)
		}
	}
	return nil
}

type printHandler struct{}

func (printHandler) HandleNotification(ctx context.Context, n types.ChainNotification) error {
	now := time.Now().Format(time.RFC3339)
	switch n.Kind {
	case types.NotificationBlockConnected:
		fmt.Printf("%s block connected   height=%d hash=%s txs=%d\n",
			now, n.Block.Height, n.Block.Hash, len(n.Block.Transactions))
	case types.NotificationBlockDisconnected:
		fmt.Printf("%s block disconnected hash=%s\n", now, n.BlockHash)
	case types.NotificationTransactionAdded:
		fmt.Printf("%s tx added           txid=%s size=%d\n",
			now, n.Transaction.Txid, n.Transaction.Size)
	case types.NotificationTransactionRemoved:
		fmt.Printf("%s tx removed         txid=%s\n", now, n.Txid)
	case types.NotificationChainStateUpdated:
		fmt.Printf("%s tip moved          height=%d hash=%s\n",
			now, n.Tip.Height, n.Tip.Hash)
	}
	return nil
}
