package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/progresswatch/internal/models"
)

// ErrSessionNotFound is returned when no progress record exists for a session id.
var ErrSessionNotFound = errors.New("session not found")

// ProgressStorage - durable store for progress records keyed by session id
type ProgressStorage interface {
	SaveProgress(ctx context.Context, record *models.ProgressRecord) error
	GetProgress(ctx context.Context, sessionID string) (*models.ProgressRecord, error)
	DeleteProgress(ctx context.Context, sessionID string) error
	ListProgress(ctx context.Context) ([]*models.ProgressRecord, error)
	ListProgressByStatus(ctx context.Context, statuses ...models.ProgressStatus) ([]*models.ProgressRecord, error)

	// ListStale returns non-terminal records not written since before cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]*models.ProgressRecord, error)
}

// StorageManager - owns the database connection and hands out storages
type StorageManager interface {
	ProgressStorage() ProgressStorage

	// RunGarbageCollection reclaims space after bulk deletes. Returns false
	// when there was nothing to reclaim.
	RunGarbageCollection(discardRatio float64) (bool, error)

	Close() error
}
