package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/progresswatch/internal/models"
)

// ProgressService is the producer-side API. The job runner is its only
// writer; consumers may only read and delete.
type ProgressService interface {
	Update(ctx context.Context, record *models.ProgressRecord) error
	MarkComplete(ctx context.Context, sessionID string) error
	MarkError(ctx context.Context, sessionID string, errMsg string) error
	Get(ctx context.Context, sessionID string) (*models.ProgressRecord, error)
	Delete(ctx context.Context, sessionID string) error
	ListCandidates(ctx context.Context) ([]models.Candidate, error)
	IsStale(record *models.ProgressRecord, now time.Time) bool
}

// ProgressTransport is what a consumer runtime sees of the durable store.
// GetStatus returns ErrSessionNotFound for the synthetic not_found status.
type ProgressTransport interface {
	GetStatus(ctx context.Context, sessionID string) (*models.ProgressRecord, error)
	ListActiveCandidates(ctx context.Context) ([]models.Candidate, error)
	Delete(ctx context.Context, sessionID string) error
}

// ProgressSubscriber is the optional push variant of the transport.
// The stream is closed when ctx is cancelled or the session reaches a
// terminal state; a final StreamEvent carrying Err reports exhausted
// reconnects.
type ProgressSubscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan StreamEvent, error)
}

// StreamEvent is one item of a push stream: either a record, a not-found
// signal, or a transport failure.
type StreamEvent struct {
	Record   *models.ProgressRecord
	NotFound bool
	Err      error
}
