package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/progresswatch/internal/client"
	"github.com/ternarybob/progresswatch/internal/models"
	"github.com/ternarybob/progresswatch/internal/tracker"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Observe progress sessions and print their timeline",
	Long: `Attaches to the given sessions, or discovers the active ones, and prints
the reconstructed item timeline on every change. Exits when no session is
left under observation.`,
	RunE: runWatch,
}

var (
	watchServer   string
	watchSessions []string
	watchPush     bool
)

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "", "Server base URL (default from config host/port)")
	watchCmd.Flags().StringSliceVar(&watchSessions, "session", nil, "Session id to observe (repeatable); discovery is used when omitted")
	watchCmd.Flags().BoolVar(&watchPush, "push", false, "Use the WebSocket stream instead of polling")
}

func serverURL() string {
	if watchServer != "" {
		return watchServer
	}
	return fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := client.New(serverURL(), client.NewOptions(&config.Tracker), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return watch(ctx, c, watchSessions, cmd.OutOrStdout())
}

// watch runs one consumer runtime until every observer has been removed
// or ctx is cancelled.
func watch(ctx context.Context, c *client.Client, sessionIDs []string, out io.Writer) error {
	cfg := tracker.NewConfig(config)
	cfg.Push = watchPush

	trk := tracker.NewTracker(c, cfg, logger, tracker.WithSubscriber(c))
	// runtime teardown
	defer trk.StopAll()

	var mu sync.Mutex
	printf := func(format string, a ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, a...)
	}

	unsubscribe := trk.Subscribe(func(sessionID string, view *models.ViewModel) {
		if view == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if err := tracker.Present(view, config.Tracker.PendingPreview).Render(out); err != nil {
			logger.Warn().Err(err).Msg("Failed to render progress")
		}
	})
	defer unsubscribe()

	onComplete := func(view *models.ViewModel) {
		printf("Session %s completed (%d/%d items)\n", view.SessionID, view.CountByStatus(models.ItemStatusCompleted), view.TotalItems)
	}
	onError := func(f *tracker.Failure) {
		printf("Session %s ended: %s\n", f.SessionID, f.Message)
	}

	if len(sessionIDs) == 0 {
		result := trk.Discover(ctx, onComplete, onError)
		if result.Err != nil {
			return fmt.Errorf("session discovery failed: %w", result.Err)
		}
		if len(result.Deleted) > 0 {
			printf("Removed %d abandoned session(s)\n", len(result.Deleted))
		}
		if len(result.Attached) == 0 {
			printf("No active sessions\n")
			return nil
		}
	} else {
		for _, id := range sessionIDs {
			trk.StartObserving(id, onComplete, onError)
		}
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Interrupted - stopping observers")
			return nil
		case <-ticker.C:
			if trk.ObserverCount() == 0 {
				return nil
			}
		}
	}
}
