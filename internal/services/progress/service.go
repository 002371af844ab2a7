// -----------------------------------------------------------------------
// Progress Service - producer-side writer of progress records
// -----------------------------------------------------------------------

package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/progresswatch/internal/interfaces"
	"github.com/ternarybob/progresswatch/internal/models"
)

// Service implements interfaces.ProgressService on top of ProgressStorage.
// Every write is published as EventProgressUpdated with the record as payload.
type Service struct {
	storage        interfaces.ProgressStorage
	eventService   interfaces.EventService
	logger         arbor.ILogger
	staleThreshold time.Duration
	now            func() time.Time
}

// NewService creates a progress service. staleThreshold is the store-level
// threshold after which a non-terminal record is considered abandoned.
func NewService(storage interfaces.ProgressStorage, eventService interfaces.EventService, staleThreshold time.Duration, logger arbor.ILogger) *Service {
	return &Service{
		storage:        storage,
		eventService:   eventService,
		logger:         logger,
		staleThreshold: staleThreshold,
		now:            time.Now,
	}
}

// Update stamps and persists a producer snapshot
func (s *Service) Update(ctx context.Context, record *models.ProgressRecord) error {
	if record == nil {
		return fmt.Errorf("progress record is nil")
	}

	r := record.Clone()
	r.Touch(s.now())
	r.Active = !r.Status.IsTerminal()

	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.storage.SaveProgress(ctx, r); err != nil {
		return err
	}

	s.logger.Debug().
		Str("session_id", r.SessionID).
		Str("status", string(r.Status)).
		Int("progress", r.Progress).
		Int("processed_items", r.ProcessedItems).
		Int("total_items", r.TotalItems).
		Str("message", r.Message).
		Msg("Progress updated")

	s.publish(ctx, interfaces.EventProgressUpdated, r)
	return nil
}

// MarkComplete flips an existing record to completed. Absent records are ignored.
func (s *Service) MarkComplete(ctx context.Context, sessionID string) error {
	return s.finish(ctx, sessionID, func(r *models.ProgressRecord) {
		r.Status = models.ProgressStatusCompleted
		r.Progress = 100
		r.Error = ""
	})
}

// MarkError flips an existing record to error with errMsg. Absent records are ignored.
func (s *Service) MarkError(ctx context.Context, sessionID string, errMsg string) error {
	return s.finish(ctx, sessionID, func(r *models.ProgressRecord) {
		r.Status = models.ProgressStatusError
		r.Error = errMsg
	})
}

func (s *Service) finish(ctx context.Context, sessionID string, apply func(r *models.ProgressRecord)) error {
	r, err := s.storage.GetProgress(ctx, sessionID)
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		s.logger.Debug().Str("session_id", sessionID).Msg("Finish requested for unknown session - ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	apply(r)
	r.Active = false
	r.Touch(s.now())

	if err := s.storage.SaveProgress(ctx, r); err != nil {
		return err
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("status", string(r.Status)).
		Str("error", r.Error).
		Msg("Session finished")

	s.publish(ctx, interfaces.EventProgressUpdated, r)
	return nil
}

// Get returns the record for sessionID or ErrSessionNotFound
func (s *Service) Get(ctx context.Context, sessionID string) (*models.ProgressRecord, error) {
	return s.storage.GetProgress(ctx, sessionID)
}

// Delete removes a record. Returns ErrSessionNotFound when there is nothing to remove.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	if err := s.storage.DeleteProgress(ctx, sessionID); err != nil {
		return err
	}

	s.logger.Info().Str("session_id", sessionID).Msg("Progress record deleted")
	s.publish(ctx, interfaces.EventProgressDeleted, sessionID)
	return nil
}

// ListCandidates exposes every stored record as a discovery candidate
func (s *Service) ListCandidates(ctx context.Context) ([]models.Candidate, error) {
	records, err := s.storage.ListProgress(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, 0, len(records))
	for _, r := range records {
		candidates = append(candidates, models.Candidate{ExternalID: r.SessionID, Progress: r})
	}
	return candidates, nil
}

// IsStale applies the store-level staleness threshold
func (s *Service) IsStale(record *models.ProgressRecord, now time.Time) bool {
	return record.IsStale(now, s.staleThreshold)
}

func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if s.eventService == nil {
		return
	}
	if err := s.eventService.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish progress event")
	}
}
