package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/progresswatch/internal/interfaces"
	"github.com/ternarybob/progresswatch/internal/models"
)

// gcDiscardRatio is the badger value log rewrite threshold
const gcDiscardRatio = 0.5

// Summary describes one sweep
type Summary struct {
	Scanned        int       `json:"scanned"`
	DeletedStale   int       `json:"deleted_stale"`
	DeletedExpired int       `json:"deleted_expired"`
	GCReclaimed    bool      `json:"gc_reclaimed"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Deleted returns the total number of records removed
func (s Summary) Deleted() int {
	return s.DeletedStale + s.DeletedExpired
}

// Service periodically removes abandoned and expired progress records
type Service struct {
	storage        interfaces.StorageManager
	progress       interfaces.ProgressService
	eventService   interfaces.EventService
	logger         arbor.ILogger
	staleThreshold time.Duration
	retention      time.Duration
	now            func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex // serialises sweeps
	running bool
}

// NewService creates a cleanup service. Records still processing but not
// written within staleThreshold are removed, as are terminal records older
// than retention (retention <= 0 keeps them forever).
func NewService(storage interfaces.StorageManager, progress interfaces.ProgressService, eventService interfaces.EventService, staleThreshold, retention time.Duration, logger arbor.ILogger) *Service {
	return &Service{
		storage:        storage,
		progress:       progress,
		eventService:   eventService,
		logger:         logger,
		staleThreshold: staleThreshold,
		retention:      retention,
		now:            time.Now,
		cron:           cron.New(),
	}
}

// Start registers the sweep on schedule and starts the cron runner
func (s *Service) Start(schedule string) error {
	if s.running {
		return fmt.Errorf("cleanup service already running")
	}

	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Progress cleanup sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to add cleanup job: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", schedule).
		Dur("stale_threshold", s.staleThreshold).
		Dur("retention", s.retention).
		Msg("Progress cleanup scheduled")

	return nil
}

// Stop halts the cron runner and waits for a running sweep
func (s *Service) Stop() {
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Progress cleanup stopped")
}

// RunOnce performs a single sweep
func (s *Service) RunOnce(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	summary := Summary{}
	store := s.storage.ProgressStorage()

	stale, err := store.ListStale(ctx, now.Add(-s.staleThreshold))
	if err != nil {
		return summary, fmt.Errorf("failed to list stale progress: %w", err)
	}
	summary.Scanned += len(stale)

	for _, r := range stale {
		// the runner may have written since the listing
		current, err := s.progress.Get(ctx, r.SessionID)
		if err != nil || current.Status.IsTerminal() || !s.progress.IsStale(current, now) {
			continue
		}
		if s.delete(ctx, r.SessionID, "stale") {
			summary.DeletedStale++
		}
	}

	if s.retention > 0 {
		terminal, err := store.ListProgressByStatus(ctx, models.ProgressStatusCompleted, models.ProgressStatusError)
		if err != nil {
			return summary, fmt.Errorf("failed to list terminal progress: %w", err)
		}
		summary.Scanned += len(terminal)

		for _, r := range terminal {
			if !r.IsStale(now, s.retention) {
				continue
			}
			if s.delete(ctx, r.SessionID, "expired") {
				summary.DeletedExpired++
			}
		}
	}

	if summary.Deleted() > 0 {
		reclaimed, err := s.storage.RunGarbageCollection(gcDiscardRatio)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Value log GC failed")
		}
		summary.GCReclaimed = reclaimed
	}

	summary.FinishedAt = s.now()

	s.logger.Info().
		Int("scanned", summary.Scanned).
		Int("deleted_stale", summary.DeletedStale).
		Int("deleted_expired", summary.DeletedExpired).
		Bool("gc_reclaimed", summary.GCReclaimed).
		Msg("Progress cleanup completed")

	if s.eventService != nil {
		if err := s.eventService.Publish(ctx, interfaces.Event{Type: interfaces.EventCleanupFinished, Payload: summary}); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to publish cleanup summary")
		}
	}

	return summary, nil
}

func (s *Service) delete(ctx context.Context, sessionID, reason string) bool {
	err := s.progress.Delete(ctx, sessionID)
	if err != nil && !errors.Is(err, interfaces.ErrSessionNotFound) {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Str("reason", reason).Msg("Could not delete progress record")
		return false
	}
	s.logger.Debug().Str("session_id", sessionID).Str("reason", reason).Msg("Deleted progress record")
	return err == nil
}
