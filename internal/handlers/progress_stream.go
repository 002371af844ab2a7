// -----------------------------------------------------------------------
// Progress Stream - WebSocket push of one session's progress record
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/progresswatch/internal/common"
	"github.com/ternarybob/progresswatch/internal/interfaces"
	"github.com/ternarybob/progresswatch/internal/models"
	"golang.org/x/time/rate"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// ProgressStreamHandler serves /ws/progress/{id}. Every frame is a
// ProgressRecord JSON object; connecting/waiting/not_found frames carry only
// session_id and status.
type ProgressStreamHandler struct {
	progressService interfaces.ProgressService
	eventService    interfaces.EventService
	pushInterval    time.Duration
	startupWait     time.Duration
	throttle        time.Duration
	logger          arbor.ILogger
}

func NewProgressStreamHandler(progressService interfaces.ProgressService, eventService interfaces.EventService, config *common.WebSocketConfig, logger arbor.ILogger) *ProgressStreamHandler {
	h := &ProgressStreamHandler{
		progressService: progressService,
		eventService:    eventService,
		pushInterval:    time.Second,
		startupWait:     30 * time.Second,
		logger:          logger,
	}
	if config != nil {
		if config.PushInterval.Duration > 0 {
			h.pushInterval = config.PushInterval.Duration
		}
		if config.StartupWait.Duration > 0 {
			h.startupWait = config.StartupWait.Duration
		}
		h.throttle = config.Throttle.Duration
	}
	return h
}

// HandleStream upgrades the connection and pushes the session's record
// until it turns terminal, disappears, or the client goes away.
func (h *ProgressStreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	segments := PathSegments(r.URL.Path, "/ws/progress/")
	if len(segments) != 1 {
		WriteError(w, http.StatusNotFound, "session id required")
		return
	}
	sessionID := segments[0]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to upgrade progress stream")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: the client never sends data, a read error means it went away
	common.SafeGo(h.logger, "progress-stream-reader", func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug().Err(err).Str("session_id", sessionID).Msg("Progress stream client closed unexpectedly")
				}
				return
			}
		}
	})

	wake := make(chan struct{}, 1)
	unsubscribe := h.subscribe(sessionID, wake)
	defer unsubscribe()

	h.logger.Debug().Str("session_id", sessionID).Msg("Progress stream opened")

	s := &progressStream{
		conn:      conn,
		sessionID: sessionID,
	}
	if h.throttle > 0 {
		s.limiter = rate.NewLimiter(rate.Every(h.throttle), 1)
	}

	if err := s.writeControl(models.ProgressStatusConnecting); err != nil {
		return
	}

	h.run(ctx, s, wake)

	h.logger.Debug().Str("session_id", sessionID).Msg("Progress stream closed")
}

func (h *ProgressStreamHandler) run(ctx context.Context, s *progressStream, wake <-chan struct{}) {
	ticker := time.NewTicker(h.pushInterval)
	defer ticker.Stop()

	started := time.Now()
	seen := false

	for {
		record, err := h.progressService.Get(ctx, s.sessionID)
		switch {
		case errors.Is(err, interfaces.ErrSessionNotFound):
			if seen || time.Since(started) > h.startupWait {
				if s.writeControl(models.ProgressStatusNotFound) == nil {
					s.close()
				}
				return
			}
			if s.writeControl(models.ProgressStatusWaiting) != nil {
				return
			}

		case err != nil:
			if ctx.Err() != nil {
				return
			}
			h.logger.Warn().Err(err).Str("session_id", s.sessionID).Msg("Failed to read progress for stream")

		default:
			seen = true
			done := record.Status.IsTerminal() || !record.Active
			if err := s.push(record, done); err != nil {
				h.logger.Debug().Err(err).Str("session_id", s.sessionID).Msg("Progress stream write failed")
				return
			}
			if done {
				s.close()
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

// subscribe wakes the stream loop whenever the session's record changes.
func (h *ProgressStreamHandler) subscribe(sessionID string, wake chan<- struct{}) func() {
	if h.eventService == nil {
		return func() {}
	}

	handler := func(ctx context.Context, event interfaces.Event) error {
		var id string
		switch p := event.Payload.(type) {
		case *models.ProgressRecord:
			id = p.SessionID
		case string:
			id = p
		}
		if id != sessionID {
			return nil
		}
		select {
		case wake <- struct{}{}:
		default:
		}
		return nil
	}

	var subs []subscription
	for _, eventType := range []interfaces.EventType{interfaces.EventProgressUpdated, interfaces.EventProgressDeleted} {
		id, err := h.eventService.Subscribe(eventType, handler)
		if err != nil {
			h.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Progress stream falling back to interval polling")
			continue
		}
		subs = append(subs, subscription{eventType: eventType, id: id})
	}

	return func() {
		for _, sub := range subs {
			_ = h.eventService.Unsubscribe(sub.eventType, sub.id)
		}
	}
}

type subscription struct {
	eventType interfaces.EventType
	id        string
}

// progressStream is the single writer of one connection
type progressStream struct {
	conn      *websocket.Conn
	sessionID string
	limiter   *rate.Limiter
	last      *models.ProgressRecord
}

// push sends record when it differs from the last frame. Non-final frames
// are subject to the throttle; a skipped frame goes out on a later pass.
func (s *progressStream) push(record *models.ProgressRecord, final bool) error {
	if s.last != nil && !changed(s.last, record) {
		return nil
	}
	if !final && s.limiter != nil && !s.limiter.Allow() {
		return nil
	}
	if err := s.write(record); err != nil {
		return err
	}
	s.last = record
	return nil
}

func (s *progressStream) writeControl(status models.ProgressStatus) error {
	return s.write(&models.ProgressRecord{SessionID: s.sessionID, Status: status})
}

func (s *progressStream) write(record *models.ProgressRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *progressStream) close() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func changed(prev, next *models.ProgressRecord) bool {
	return prev.Status != next.Status ||
		prev.Progress != next.Progress ||
		prev.Message != next.Message ||
		prev.ProcessedItems != next.ProcessedItems ||
		prev.TotalItems != next.TotalItems ||
		prev.CurrentItemLabel != next.CurrentItemLabel
}
