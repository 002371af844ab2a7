package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/progresswatch/internal/models"
)

var t0 = time.Unix(1_700_000_000, 0)

func labels(view *models.ViewModel) []string {
	out := make([]string, len(view.Items))
	for i, it := range view.Items {
		out[i] = it.Label
	}
	return out
}

func statuses(view *models.ViewModel) []models.ItemStatus {
	out := make([]models.ItemStatus, len(view.Items))
	for i, it := range view.Items {
		out[i] = it.Status
	}
	return out
}

func TestEffectiveStatus(t *testing.T) {
	cases := []struct {
		name   string
		record models.ProgressRecord
		want   models.ItemStatus
	}{
		{"error wins", models.ProgressRecord{Status: models.ProgressStatusError, Progress: 100, Message: "Completed a"}, models.ItemStatusError},
		{"completed message", models.ProgressRecord{Status: models.ProgressStatusProcessing, Message: "COMPLETED a.pdf"}, models.ItemStatusCompleted},
		{"skipped message", models.ProgressRecord{Status: models.ProgressStatusTranscribing, Message: "Skipped a.pdf: bad"}, models.ItemStatusCompleted},
		{"completed status", models.ProgressRecord{Status: models.ProgressStatusCompleted}, models.ItemStatusCompleted},
		{"full progress", models.ProgressRecord{Status: models.ProgressStatusProcessing, Progress: 100}, models.ItemStatusCompleted},
		{"transcribing", models.ProgressRecord{Status: models.ProgressStatusTranscribing, Progress: 85}, models.ItemStatusTranscribing},
		{"processing", models.ProgressRecord{Status: models.ProgressStatusProcessing, Progress: 20, Message: "Processing a.pdf"}, models.ItemStatusProcessing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := tc.record
			assert.Equal(t, tc.want, EffectiveStatus(&r))
		})
	}
}

func TestCreateSession_SeedLabels(t *testing.T) {
	withManifest := &models.ProgressRecord{SessionID: "s", ItemManifest: []string{"a.pdf", " ", "b.pdf"}, CurrentItemLabel: "x"}
	view, _ := Apply(nil, withManifest, t0)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, labels(view))

	withLabel := &models.ProgressRecord{SessionID: "s", CurrentItemLabel: "x.mp3"}
	view, _ = Apply(nil, withLabel, t0)
	assert.Equal(t, []string{"x.mp3"}, labels(view))

	bare := &models.ProgressRecord{SessionID: "s"}
	view, _ = Apply(nil, bare, t0)
	assert.Equal(t, []string{models.PlaceholderItemLabel}, labels(view))
	assert.Equal(t, t0, view.StartTime)
}

func TestReconcileCurrentItem_LabelMatching(t *testing.T) {
	view := CreateSession("s", 2, []string{"a.pdf", "b.pdf"}, t0)
	record := &models.ProgressRecord{Status: models.ProgressStatusProcessing, Message: "Processing b.pdf", Progress: 40}

	kind := ReconcileCurrentItem(view, record)

	assert.Equal(t, MatchLabel, kind)
	assert.Equal(t, models.ItemStatusPending, view.Items[0].Status)
	assert.Equal(t, models.ItemStatusProcessing, view.Items[1].Status)
	assert.Equal(t, 40, view.Items[1].Progress)
}

func TestReconcileCurrentItem_LongestLabelWins(t *testing.T) {
	view := CreateSession("s", 2, []string{"a.pdf", "data.pdf"}, t0)
	record := &models.ProgressRecord{Status: models.ProgressStatusProcessing, Message: "Processing data.pdf", Progress: 10}

	ReconcileCurrentItem(view, record)

	assert.Equal(t, []models.ItemStatus{models.ItemStatusPending, models.ItemStatusProcessing}, statuses(view))
}

func TestReconcileCurrentItem_CurrentLabelFallback(t *testing.T) {
	view := CreateSession("s", 2, []string{"a.pdf", "b.pdf"}, t0)
	record := &models.ProgressRecord{Status: models.ProgressStatusTranscribing, Message: "Transcribing audio", CurrentItemLabel: "b.pdf", Progress: 85}

	assert.Equal(t, MatchLabel, ReconcileCurrentItem(view, record))
	assert.Equal(t, models.ItemStatusTranscribing, view.Items[1].Status)
}

func TestReconcileCurrentItem_FallbackAdvancement(t *testing.T) {
	view := CreateSession("s", 2, []string{"a.pdf", "b.pdf"}, t0)
	record := &models.ProgressRecord{Status: models.ProgressStatusProcessing, Message: "Processing c.pdf", Progress: 5}

	kind := ReconcileCurrentItem(view, record)

	assert.Equal(t, MatchNextPending, kind)
	assert.Equal(t, models.ItemStatusProcessing, view.Items[0].Status)
	assert.Equal(t, 5, view.Items[0].Progress)
	assert.Equal(t, models.ItemStatusPending, view.Items[1].Status)
}

func TestReconcileCurrentItem_Continuity(t *testing.T) {
	view := CreateSession("s", 3, []string{"a.pdf", "b.pdf", "c.pdf"}, t0)
	view.Items[1].Status = models.ItemStatusProcessing

	kind := ReconcileCurrentItem(view, &models.ProgressRecord{Status: models.ProgressStatusProcessing, Message: "Converting", Progress: 60})

	assert.Equal(t, MatchContinuity, kind)
	assert.Equal(t, 60, view.Items[1].Progress)
	assert.Equal(t, models.ItemStatusPending, view.Items[0].Status)
}

func TestReconcileCurrentItem_AmbiguousFallback(t *testing.T) {
	view := CreateSession("s", 2, []string{"a.pdf", "b.pdf"}, t0)
	view.Items[0].Status = models.ItemStatusError
	view.Items[1].Status = models.ItemStatusError

	kind := ReconcileCurrentItem(view, &models.ProgressRecord{Status: models.ProgressStatusProcessing, Message: "Processing z.pdf", Progress: 10})

	assert.Equal(t, MatchFallback, kind)
	assert.True(t, kind.Ambiguous())
	assert.Equal(t, models.ItemStatusProcessing, view.Items[0].Status)
}

func TestReconcileCurrentItem_SingleItemFastPath(t *testing.T) {
	view := CreateSession("s", 1, []string{"only.pdf"}, t0)
	kind := ReconcileCurrentItem(view, &models.ProgressRecord{Status: models.ProgressStatusProcessing, Message: "Uploading something else", Progress: 20})

	assert.Equal(t, MatchSingle, kind)
	assert.Equal(t, models.ItemStatusProcessing, view.Items[0].Status)
}

func TestReconcileCurrentItem_CompletedIsFinal(t *testing.T) {
	view := CreateSession("s", 2, []string{"a.pdf", "b.pdf"}, t0)
	ReconcileCurrentItem(view, &models.ProgressRecord{Status: models.ProgressStatusProcessing, Message: "Completed a.pdf", Progress: 100})
	require.Equal(t, models.ItemStatusCompleted, view.Items[0].Status)

	// An older record arriving late must not reopen the item
	ReconcileCurrentItem(view, &models.ProgressRecord{Status: models.ProgressStatusProcessing, Message: "Processing a.pdf", Progress: 30})
	assert.Equal(t, models.ItemStatusCompleted, view.Items[0].Status)
	assert.Equal(t, 100, view.Items[0].Progress)
}

func TestReconcileCurrentItem_AdvanceRetiresPrevious(t *testing.T) {
	view := CreateSession("s", 3, []string{"a.pdf", "b.pdf", "c.pdf"}, t0)
	ReconcileCurrentItem(view, &models.ProgressRecord{Status: models.ProgressStatusProcessing, Message: "Processing a.pdf", Progress: 50})
	ReconcileCurrentItem(view, &models.ProgressRecord{Status: models.ProgressStatusProcessing, Message: "Processing c.pdf", Progress: 10})

	assert.Equal(t, []models.ItemStatus{
		models.ItemStatusCompleted,
		models.ItemStatusPending,
		models.ItemStatusProcessing,
	}, statuses(view))

	// Going back demotes the later item instead of completing it
	ReconcileCurrentItem(view, &models.ProgressRecord{Status: models.ProgressStatusProcessing, Message: "Processing b.pdf", Progress: 10})
	assert.Equal(t, []models.ItemStatus{
		models.ItemStatusCompleted,
		models.ItemStatusProcessing,
		models.ItemStatusPending,
	}, statuses(view))
}

func TestEnsurePendingLabels_Idempotent(t *testing.T) {
	view := CreateSession("s", 3, []string{"a.pdf"}, t0)
	EnsurePendingLabels(view, []string{"a.pdf", "b.pdf", "c.pdf"})
	EnsurePendingLabels(view, []string{"c.pdf", "b.pdf", ""})

	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, labels(view))
	assert.Len(t, view.CurrentItems(), 0)
}

func TestUpdateTotals_RelabelsPlaceholder(t *testing.T) {
	view := CreateSession("s", 0, nil, t0)
	require.Equal(t, models.PlaceholderItemLabel, view.Items[0].Label)

	UpdateTotals(view, 0, "ignored.pdf")
	assert.Equal(t, models.PlaceholderItemLabel, view.Items[0].Label, "unchanged total keeps placeholder")

	UpdateTotals(view, 1, "real.pdf")
	assert.Equal(t, 1, view.TotalItems)
	assert.Equal(t, "real.pdf", view.Items[0].Label)

	UpdateTotals(view, 2, "other.pdf")
	assert.Equal(t, "real.pdf", view.Items[0].Label, "only the placeholder is renamed")
}

func TestBackfillCompletedByCount(t *testing.T) {
	manifest := []string{"a.pdf", "b.pdf", "c.pdf"}
	view := CreateSession("s", 3, manifest, t0)

	BackfillCompletedByCount(view, manifest, 2)

	assert.Equal(t, []models.ItemStatus{
		models.ItemStatusCompleted,
		models.ItemStatusCompleted,
		models.ItemStatusPending,
	}, statuses(view))
	assert.Equal(t, 100, view.Items[0].Progress)
	assert.Equal(t, 100, view.Items[1].Progress)
	assert.Equal(t, 0, view.Items[2].Progress)

	// Counts beyond the manifest are clamped
	BackfillCompletedByCount(view, manifest, 10)
	assert.Equal(t, 3, view.CountByStatus(models.ItemStatusCompleted))
}

func TestApply_BackfillOnAttach(t *testing.T) {
	record := &models.ProgressRecord{
		SessionID:      "s",
		Status:         models.ProgressStatusProcessing,
		TotalItems:     3,
		ProcessedItems: 2,
		ItemManifest:   []string{"a.pdf", "b.pdf", "c.pdf"},
		Message:        "Processing c.pdf",
		Progress:       30,
	}

	view, kind := Apply(nil, record, t0)

	assert.Equal(t, MatchLabel, kind)
	assert.Equal(t, []models.ItemStatus{
		models.ItemStatusCompleted,
		models.ItemStatusCompleted,
		models.ItemStatusProcessing,
	}, statuses(view))
	assert.Equal(t, 2, view.ProcessedItems)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	view := CreateSession("s", 2, []string{"a.pdf", "b.pdf"}, t0)
	before := view.Clone()

	_, _ = Apply(view, &models.ProgressRecord{SessionID: "s", Status: models.ProgressStatusProcessing, Message: "Processing a.pdf", Progress: 20, TotalItems: 2}, t0)

	assert.Equal(t, before, view)
}

func TestApply_LearnsLabelsWithoutManifest(t *testing.T) {
	first := &models.ProgressRecord{SessionID: "s", Status: models.ProgressStatusProcessing, TotalItems: 3}
	view, _ := Apply(nil, first, t0)
	require.Equal(t, []string{models.PlaceholderItemLabel}, labels(view))

	view, _ = Apply(view, &models.ProgressRecord{SessionID: "s", Status: models.ProgressStatusProcessing, TotalItems: 3, CurrentItemLabel: "a.pdf", Message: "Processing a.pdf", Progress: 10}, t0)
	assert.Equal(t, []string{"a.pdf"}, labels(view))

	view, _ = Apply(view, &models.ProgressRecord{SessionID: "s", Status: models.ProgressStatusProcessing, TotalItems: 3, ProcessedItems: 1, CurrentItemLabel: "b.pdf", Message: "Processing b.pdf", Progress: 10}, t0)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, labels(view))
	assert.Equal(t, []models.ItemStatus{models.ItemStatusCompleted, models.ItemStatusProcessing}, statuses(view))
	assert.Equal(t, 1, view.ProcessedItems)
}

// jobSequence is a producer run over three items, with a duplicated and an
// out-of-order record mixed in.
func jobSequence() []*models.ProgressRecord {
	manifest := []string{"a.pdf", "b.mp3", "c.pdf"}
	mk := func(status models.ProgressStatus, progress, processed int, label, message string) *models.ProgressRecord {
		return &models.ProgressRecord{
			SessionID:        "s",
			Status:           status,
			Progress:         progress,
			TotalItems:       3,
			ProcessedItems:   processed,
			CurrentItemLabel: label,
			ItemManifest:     manifest,
			Message:          message,
		}
	}
	return []*models.ProgressRecord{
		mk(models.ProgressStatusProcessing, 0, 0, "a.pdf", "Processing a.pdf"),
		mk(models.ProgressStatusProcessing, 40, 0, "a.pdf", "Processing a.pdf"),
		mk(models.ProgressStatusProcessing, 100, 1, "a.pdf", "Completed a.pdf"),
		mk(models.ProgressStatusProcessing, 40, 0, "a.pdf", "Processing a.pdf"), // late
		mk(models.ProgressStatusProcessing, 20, 1, "b.mp3", "Processing b.mp3"),
		mk(models.ProgressStatusTranscribing, 85, 1, "b.mp3", "Transcribing b.mp3"),
		mk(models.ProgressStatusTranscribing, 85, 1, "b.mp3", "Transcribing b.mp3"), // duplicate
		mk(models.ProgressStatusProcessing, 100, 2, "b.mp3", "Skipped b.mp3: unsupported codec"),
		mk(models.ProgressStatusProcessing, 60, 2, "c.pdf", "Processing c.pdf"),
		mk(models.ProgressStatusCompleted, 100, 3, "c.pdf", "Completed c.pdf"),
	}
}

func TestApply_IdempotentReapplication(t *testing.T) {
	var view *models.ViewModel
	for _, r := range jobSequence() {
		once, _ := Apply(view, r, t0)
		twice, _ := Apply(once, r, t0)
		assert.Equal(t, once, twice, "message %q", r.Message)
		view = once
	}
}

func TestApply_Invariants(t *testing.T) {
	var view *models.ViewModel
	lastCompleted := 0

	for _, r := range jobSequence() {
		view, _ = Apply(view, r, t0)

		assert.LessOrEqual(t, len(view.CurrentItems()), 1, "single current item after %q", r.Message)

		completed := view.CountByStatus(models.ItemStatusCompleted)
		assert.GreaterOrEqual(t, completed, lastCompleted, "completed count decreased after %q", r.Message)
		assert.Equal(t, completed, view.ProcessedItems)
		lastCompleted = completed

		assert.Len(t, view.Items, 3)
	}

	assert.Equal(t, 3, view.ProcessedItems)
	assert.Equal(t, []models.ItemStatus{
		models.ItemStatusCompleted,
		models.ItemStatusCompleted,
		models.ItemStatusCompleted,
	}, statuses(view))
}
