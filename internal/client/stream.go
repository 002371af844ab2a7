package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/progresswatch/internal/common"
	"github.com/ternarybob/progresswatch/internal/interfaces"
	"github.com/ternarybob/progresswatch/internal/models"
)

// ErrReconnectsExhausted is delivered on the stream when the server could
// not be reached again within the configured attempts.
var ErrReconnectsExhausted = errors.New("push stream reconnect attempts exhausted")

func (c *Client) streamURL(sessionID string) string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String() + "/ws/progress/" + url.PathEscape(sessionID)
}

// Subscribe opens the push stream for sessionID. The channel is closed
// after a terminal record, when ctx is cancelled, or after a final event
// carrying ErrReconnectsExhausted. Dropped connections are retried with a
// linearly increasing backoff.
func (c *Client) Subscribe(ctx context.Context, sessionID string) (<-chan interfaces.StreamEvent, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	out := make(chan interfaces.StreamEvent, 16)
	common.SafeGo(c.logger, "stream:"+sessionID, func() {
		defer close(out)
		c.streamLoop(ctx, sessionID, out)
	})
	return out, nil
}

func (c *Client) streamLoop(ctx context.Context, sessionID string, out chan<- interfaces.StreamEvent) {
	logger := c.logger.WithCorrelationId(sessionID)
	failures := 0

	for {
		received, terminal, err := c.streamOnce(ctx, sessionID, out)
		if terminal || ctx.Err() != nil {
			return
		}
		if received {
			failures = 0
		}
		failures++

		if failures > c.options.MaxReconnects {
			logger.Warn().
				Str("session_id", sessionID).
				Int("attempts", c.options.MaxReconnects).
				Msg("Push stream reconnects exhausted")
			cause := ErrReconnectsExhausted
			if err != nil {
				cause = fmt.Errorf("%w: %v", ErrReconnectsExhausted, err)
			}
			send(ctx, out, interfaces.StreamEvent{Err: cause})
			return
		}

		backoff := time.Duration(failures) * c.options.ReconnectBackoff
		logger.Debug().
			Err(err).
			Str("session_id", sessionID).
			Int("attempt", failures).
			Dur("backoff", backoff).
			Msg("Push stream dropped - reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// streamOnce runs one connection. It reports whether any frame arrived and
// whether the session reached a terminal state.
func (c *Client) streamOnce(ctx context.Context, sessionID string, out chan<- interfaces.StreamEvent) (received bool, terminal bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.streamURL(sessionID), nil)
	if err != nil {
		return false, false, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return received, false, nil
			}
			return received, false, err
		}
		received = true

		var record models.ProgressRecord
		if err := json.Unmarshal(data, &record); err != nil {
			c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Discarding malformed progress frame")
			continue
		}

		switch {
		case record.Status.IsControl():
			continue
		case record.Status == models.ProgressStatusNotFound:
			if !send(ctx, out, interfaces.StreamEvent{NotFound: true}) {
				return received, false, ctx.Err()
			}
		default:
			if !send(ctx, out, interfaces.StreamEvent{Record: &record}) {
				return received, false, ctx.Err()
			}
			if record.Status.IsTerminal() {
				return received, true, nil
			}
		}
	}
}

func send(ctx context.Context, out chan<- interfaces.StreamEvent, ev interfaces.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
