package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/progresswatch/internal/interfaces"
	"github.com/ternarybob/progresswatch/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type response struct {
	record *models.ProgressRecord
	err    error
}

// fakeTransport replays scripted responses; the last one repeats.
type fakeTransport struct {
	mu         sync.Mutex
	responses  map[string][]response
	calls      map[string]int
	candidates []models.Candidate
	listErr    error
	deleted    []string
	deleteErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: make(map[string][]response),
		calls:     make(map[string]int),
	}
}

func (f *fakeTransport) script(sessionID string, rs ...response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[sessionID] = append(f.responses[sessionID], rs...)
}

func (f *fakeTransport) set(sessionID string, r response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[sessionID] = []response{r}
}

func (f *fakeTransport) Calls(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[sessionID]
}

func (f *fakeTransport) GetStatus(ctx context.Context, sessionID string) (*models.ProgressRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[sessionID]++
	rs := f.responses[sessionID]
	if len(rs) == 0 {
		return nil, interfaces.ErrSessionNotFound
	}
	r := rs[0]
	if len(rs) > 1 {
		f.responses[sessionID] = rs[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.record.Clone(), nil
}

func (f *fakeTransport) ListActiveCandidates(ctx context.Context) ([]models.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candidates, f.listErr
}

func (f *fakeTransport) Delete(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeTransport) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeSubscriber struct {
	stream chan interfaces.StreamEvent
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, sessionID string) (<-chan interfaces.StreamEvent, error) {
	return f.stream, nil
}

func rec(sessionID string, status models.ProgressStatus, progress, processed, total int, message string, updated time.Time) *models.ProgressRecord {
	r := &models.ProgressRecord{
		SessionID:      sessionID,
		Status:         status,
		Progress:       progress,
		ProcessedItems: processed,
		TotalItems:     total,
		Message:        message,
		Active:         status.IsActive(),
	}
	r.Touch(updated)
	return r
}
