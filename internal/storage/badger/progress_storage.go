package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/progresswatch/internal/interfaces"
	"github.com/ternarybob/progresswatch/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ProgressStorage implements the ProgressStorage interface for Badger
type ProgressStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProgressStorage creates a new ProgressStorage instance
func NewProgressStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProgressStorage {
	return &ProgressStorage{
		db:     db,
		logger: logger,
	}
}

// SaveProgress upserts a record. The caller stamps LastUpdated.
func (s *ProgressStorage) SaveProgress(ctx context.Context, record *models.ProgressRecord) error {
	if record == nil || record.SessionID == "" {
		return fmt.Errorf("progress record requires a session id")
	}
	if record.Status == models.ProgressStatusNotFound {
		return fmt.Errorf("status %q is never persisted", record.Status)
	}

	if err := s.db.Store().Upsert(record.SessionID, record); err != nil {
		return fmt.Errorf("failed to save progress %s: %w", record.SessionID, err)
	}
	return nil
}

// GetProgress retrieves a record by session id
func (s *ProgressStorage) GetProgress(ctx context.Context, sessionID string) (*models.ProgressRecord, error) {
	var record models.ProgressRecord
	err := s.db.Store().Get(sessionID, &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress %s: %w", sessionID, err)
	}
	return &record, nil
}

// DeleteProgress removes a record. Missing records return ErrSessionNotFound.
func (s *ProgressStorage) DeleteProgress(ctx context.Context, sessionID string) error {
	err := s.db.Store().Delete(sessionID, &models.ProgressRecord{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return interfaces.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete progress %s: %w", sessionID, err)
	}
	return nil
}

// ListProgress returns every stored record, most recently updated first
func (s *ProgressStorage) ListProgress(ctx context.Context) ([]*models.ProgressRecord, error) {
	var records []models.ProgressRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	return sortedPointers(records), nil
}

// ListProgressByStatus returns records whose status is one of statuses
func (s *ProgressStorage) ListProgressByStatus(ctx context.Context, statuses ...models.ProgressStatus) ([]*models.ProgressRecord, error) {
	if len(statuses) == 0 {
		return s.ListProgress(ctx)
	}

	values := make([]interface{}, len(statuses))
	for i, st := range statuses {
		values[i] = st
	}

	var records []models.ProgressRecord
	query := badgerhold.Where("Status").In(values...)
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list progress by status: %w", err)
	}
	return sortedPointers(records), nil
}

// ListStale returns non-terminal records whose last write is before cutoff
func (s *ProgressStorage) ListStale(ctx context.Context, cutoff time.Time) ([]*models.ProgressRecord, error) {
	cutoffSeconds := float64(cutoff.UnixNano()) / 1e9

	var records []models.ProgressRecord
	query := badgerhold.Where("LastUpdated").Lt(cutoffSeconds).
		And("Status").In(models.ProgressStatusProcessing, models.ProgressStatusTranscribing)
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list stale progress: %w", err)
	}
	return sortedPointers(records), nil
}

func sortedPointers(records []models.ProgressRecord) []*models.ProgressRecord {
	out := make([]*models.ProgressRecord, len(records))
	for i := range records {
		out[i] = &records[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUpdated > out[j].LastUpdated
	})
	return out
}
