package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/progresswatch/internal/common"
	"github.com/ternarybob/progresswatch/internal/interfaces"
	"github.com/ternarybob/progresswatch/internal/models"
)

// recordingProgress keeps every write so tests can inspect the sequence
type recordingProgress struct {
	mu      sync.Mutex
	current map[string]*models.ProgressRecord
	history []models.ProgressRecord
}

func newRecordingProgress() *recordingProgress {
	return &recordingProgress{current: make(map[string]*models.ProgressRecord)}
}

func (p *recordingProgress) Update(ctx context.Context, record *models.ProgressRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := record.Clone()
	r.Active = !r.Status.IsTerminal()
	if err := r.Validate(); err != nil {
		return err
	}
	p.current[r.SessionID] = r
	p.history = append(p.history, *r.Clone())
	return nil
}

func (p *recordingProgress) finish(sessionID string, apply func(r *models.ProgressRecord)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.current[sessionID]
	if !ok {
		return nil
	}
	apply(r)
	r.Active = false
	p.history = append(p.history, *r.Clone())
	return nil
}

func (p *recordingProgress) MarkComplete(ctx context.Context, sessionID string) error {
	return p.finish(sessionID, func(r *models.ProgressRecord) {
		r.Status = models.ProgressStatusCompleted
		r.Progress = 100
	})
}

func (p *recordingProgress) MarkError(ctx context.Context, sessionID string, errMsg string) error {
	return p.finish(sessionID, func(r *models.ProgressRecord) {
		r.Status = models.ProgressStatusError
		r.Error = errMsg
	})
}

func (p *recordingProgress) Get(ctx context.Context, sessionID string) (*models.ProgressRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.current[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return r.Clone(), nil
}

func (p *recordingProgress) Delete(ctx context.Context, sessionID string) error {
	return nil
}

func (p *recordingProgress) ListCandidates(ctx context.Context) ([]models.Candidate, error) {
	return nil, nil
}

func (p *recordingProgress) IsStale(record *models.ProgressRecord, now time.Time) bool {
	return false
}

func (p *recordingProgress) messages(sessionID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, r := range p.history {
		if r.SessionID == sessionID {
			out = append(out, r.Message)
		}
	}
	return out
}

func (p *recordingProgress) waitTerminal(t *testing.T, sessionID string) *models.ProgressRecord {
	t.Helper()
	var final *models.ProgressRecord
	require.Eventually(t, func() bool {
		r, err := p.Get(context.Background(), sessionID)
		if err != nil || !r.Status.IsTerminal() {
			return false
		}
		final = r
		return true
	}, 5*time.Second, 5*time.Millisecond)
	return final
}

// funcProcessor adapts a function to ItemProcessor
type funcProcessor func(ctx context.Context, label string, report ReportFunc) error

func (f funcProcessor) Process(ctx context.Context, label string, report ReportFunc) error {
	return f(ctx, label, report)
}

func newTestRunner(progress interfaces.ProgressService, processor ItemProcessor) *Runner {
	r := NewRunner(progress, processor, &common.RunnerConfig{Concurrency: 2, MaxItems: 10}, arbor.NewLogger())
	r.Start()
	return r
}

func TestRunner_CompletesBatch(t *testing.T) {
	progress := newRecordingProgress()
	r := newTestRunner(progress, NewStagedProcessor(0))
	defer r.Stop()

	id, err := r.Submit(context.Background(), []string{"a.pdf", "b.mp3"})
	require.NoError(t, err)

	final := progress.waitTerminal(t, id)
	assert.Equal(t, models.ProgressStatusCompleted, final.Status)
	assert.Equal(t, 2, final.ProcessedItems)
	assert.Equal(t, 2, final.TotalItems)
	assert.False(t, final.Active)

	msgs := progress.messages(id)
	assert.Equal(t, "Queued 2 items", msgs[0])
	assert.Contains(t, msgs, "Processing a.pdf")
	assert.Contains(t, msgs, "Completed a.pdf")
	assert.Contains(t, msgs, "Transcribing b.mp3")
	assert.Contains(t, msgs, "Completed b.mp3")
	assert.NotContains(t, msgs, "Transcribing a.pdf")
}

func TestRunner_ManifestDeclaredUpfront(t *testing.T) {
	progress := newRecordingProgress()
	release := make(chan struct{})
	r := newTestRunner(progress, funcProcessor(func(ctx context.Context, label string, report ReportFunc) error {
		<-release
		return nil
	}))
	defer r.Stop()

	id, err := r.Submit(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	rec, err := progress.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, rec.ItemManifest)
	assert.Equal(t, 3, rec.TotalItems)
	assert.True(t, rec.Active)

	close(release)
	progress.waitTerminal(t, id)
}

func TestRunner_ItemErrorIsSkipped(t *testing.T) {
	progress := newRecordingProgress()
	r := newTestRunner(progress, funcProcessor(func(ctx context.Context, label string, report ReportFunc) error {
		if label == "bad.doc" {
			return errors.New("unsupported format")
		}
		return nil
	}))
	defer r.Stop()

	id, err := r.Submit(context.Background(), []string{"bad.doc", "good.txt"})
	require.NoError(t, err)

	final := progress.waitTerminal(t, id)
	assert.Equal(t, models.ProgressStatusCompleted, final.Status)
	assert.Equal(t, 2, final.ProcessedItems)
	assert.Contains(t, progress.messages(id), "Skipped bad.doc: unsupported format")
	assert.Contains(t, progress.messages(id), "Completed good.txt")
}

func TestRunner_ProcessorCannotReportTerminalStatus(t *testing.T) {
	progress := newRecordingProgress()
	r := newTestRunner(progress, funcProcessor(func(ctx context.Context, label string, report ReportFunc) error {
		report(models.ProgressStatusCompleted, 150, "done early")
		return nil
	}))
	defer r.Stop()

	id, err := r.Submit(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	progress.waitTerminal(t, id)

	progress.mu.Lock()
	defer progress.mu.Unlock()
	for _, rec := range progress.history {
		if rec.Message == "done early" {
			assert.Equal(t, models.ProgressStatusProcessing, rec.Status)
			assert.Equal(t, 100, rec.Progress)
		}
	}
}

func TestRunner_StopFailsRunningBatch(t *testing.T) {
	progress := newRecordingProgress()
	started := make(chan struct{})
	r := newTestRunner(progress, funcProcessor(func(ctx context.Context, label string, report ReportFunc) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	id, err := r.Submit(context.Background(), []string{"slow"})
	require.NoError(t, err)
	<-started

	r.Stop()

	final := progress.waitTerminal(t, id)
	assert.Equal(t, models.ProgressStatusError, final.Status)
	assert.True(t, strings.HasPrefix(final.Error, "batch cancelled"), final.Error)

	_, err = r.Submit(context.Background(), []string{"late"})
	assert.ErrorIs(t, err, ErrRunnerStopped)
}

func TestRunner_SubmitValidation(t *testing.T) {
	r := newTestRunner(newRecordingProgress(), NewStagedProcessor(0))
	defer r.Stop()

	_, err := r.Submit(context.Background(), nil)
	assert.Error(t, err)

	_, err = r.Submit(context.Background(), make([]string, 11))
	assert.Error(t, err)
}

func TestStagedProcessor_HonoursCancellation(t *testing.T) {
	p := NewStagedProcessor(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	var reports int
	done := make(chan error, 1)
	go func() {
		done <- p.Process(ctx, "a.mp3", func(models.ProgressStatus, int, string) { reports++ })
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, reports)
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not return after cancel")
	}
}

func TestIsMedia(t *testing.T) {
	assert.True(t, IsMedia("talk.MP3"))
	assert.True(t, IsMedia("clip.mov"))
	assert.False(t, IsMedia("notes.pdf"))
	assert.False(t, IsMedia("README"))
}
