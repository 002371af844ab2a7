package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/progresswatch/internal/client"
)

var submitCmd = &cobra.Command{
	Use:   "submit LABEL...",
	Short: "Start a batch on the server's job runner",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSubmit,
}

var submitWatch bool

func init() {
	submitCmd.Flags().StringVar(&watchServer, "server", "", "Server base URL (default from config host/port)")
	submitCmd.Flags().BoolVar(&watchPush, "push", false, "Use the WebSocket stream when watching")
	submitCmd.Flags().BoolVarP(&submitWatch, "watch", "w", false, "Watch the batch until it finishes")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	c, err := client.New(serverURL(), client.NewOptions(&config.Tracker), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID, err := c.Ingest(ctx, args)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sessionID)

	if !submitWatch {
		return nil
	}
	return watch(ctx, c, []string{sessionID}, cmd.OutOrStdout())
}
