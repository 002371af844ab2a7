// -----------------------------------------------------------------------
// Reconciler - merges progress records into a consumer view model
// -----------------------------------------------------------------------

package tracker

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/progresswatch/internal/models"
)

// MatchKind records how ReconcileCurrentItem chose its target item.
type MatchKind int

const (
	MatchNone        MatchKind = iota // empty view, nothing updated
	MatchSingle                       // view has exactly one item
	MatchLabel                        // message or current label names an item
	MatchContinuity                   // the one in-flight item keeps the update
	MatchNextPending                  // advanced to the first pending item
	MatchFallback                     // nothing matched, first item used
)

func (k MatchKind) String() string {
	switch k {
	case MatchSingle:
		return "single"
	case MatchLabel:
		return "label"
	case MatchContinuity:
		return "continuity"
	case MatchNextPending:
		return "next_pending"
	case MatchFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Ambiguous reports a degraded match.
func (k MatchKind) Ambiguous() bool {
	return k == MatchFallback
}

// CreateSession initialises a view model with every seed label pending.
func CreateSession(sessionID string, totalItems int, seedLabels []string, start time.Time) *models.ViewModel {
	view := &models.ViewModel{
		SessionID:  sessionID,
		TotalItems: totalItems,
		StartTime:  start,
		Items:      make([]models.Item, 0, len(seedLabels)),
	}
	if len(seedLabels) == 0 {
		seedLabels = []string{models.PlaceholderItemLabel}
	}
	for _, label := range seedLabels {
		appendPending(view, label)
	}
	return view
}

func appendPending(view *models.ViewModel, label string) {
	view.Items = append(view.Items, models.Item{
		Identity: fmt.Sprintf("%s#%d", view.SessionID, len(view.Items)),
		Label:    label,
		Status:   models.ItemStatusPending,
	})
}

// EffectiveStatus derives the per-item status a record implies.
func EffectiveStatus(record *models.ProgressRecord) models.ItemStatus {
	msg := strings.ToLower(strings.TrimSpace(record.Message))

	switch {
	case record.Status == models.ProgressStatusError:
		return models.ItemStatusError
	case strings.HasPrefix(msg, "completed"),
		strings.HasPrefix(msg, "skipped"),
		record.Status == models.ProgressStatusCompleted,
		record.Progress >= 100:
		return models.ItemStatusCompleted
	case record.Status == models.ProgressStatusTranscribing:
		return models.ItemStatusTranscribing
	default:
		return models.ItemStatusProcessing
	}
}

// findTarget picks the item a record speaks about.
func findTarget(view *models.ViewModel, record *models.ProgressRecord) (int, MatchKind) {
	if len(view.Items) == 0 {
		return -1, MatchNone
	}
	if len(view.Items) == 1 {
		return 0, MatchSingle
	}

	if idx := matchLabel(view, record); idx >= 0 {
		return idx, MatchLabel
	}

	if current := view.CurrentItems(); len(current) == 1 {
		return current[0], MatchContinuity
	}

	for i, it := range view.Items {
		if it.Status == models.ItemStatusPending {
			return i, MatchNextPending
		}
	}

	return 0, MatchFallback
}

// matchLabel finds the item whose label the message mentions. The longest
// label wins so "a.pdf" does not capture "Processing data.pdf". An exact
// current item label is the second chance.
func matchLabel(view *models.ViewModel, record *models.ProgressRecord) int {
	best, bestLen := -1, 0
	if record.Message != "" {
		for i, it := range view.Items {
			if it.Label == "" || len(it.Label) <= bestLen {
				continue
			}
			if strings.Contains(record.Message, it.Label) {
				best, bestLen = i, len(it.Label)
			}
		}
	}
	if best >= 0 {
		return best
	}
	if label := strings.TrimSpace(record.CurrentItemLabel); label != "" {
		return view.IndexOfLabel(label)
	}
	return -1
}

// ReconcileCurrentItem applies the record's current-item fields to one item.
// Completed items are final, and promoting an item to in-flight retires any
// other in-flight item.
func ReconcileCurrentItem(view *models.ViewModel, record *models.ProgressRecord) MatchKind {
	idx, kind := findTarget(view, record)
	if idx < 0 {
		return kind
	}

	effective := EffectiveStatus(record)
	target := &view.Items[idx]

	if target.Status == models.ItemStatusCompleted && effective != models.ItemStatusCompleted {
		return kind
	}

	target.Status = effective
	target.Progress = clampProgress(record.Progress)
	if effective == models.ItemStatusCompleted {
		target.Progress = 100
	}
	target.Message = record.Message
	target.Error = record.Error

	if effective.IsCurrent() {
		retireOthers(view, idx)
	}
	return kind
}

// retireOthers keeps a single in-flight item. Items before the new current
// one were passed by the producer and count as done; items after it go back
// to pending.
func retireOthers(view *models.ViewModel, current int) {
	for i := range view.Items {
		if i == current || !view.Items[i].Status.IsCurrent() {
			continue
		}
		if i < current {
			view.Items[i].Status = models.ItemStatusCompleted
			view.Items[i].Progress = 100
		} else {
			view.Items[i].Status = models.ItemStatusPending
			view.Items[i].Progress = 0
		}
	}
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// EnsurePendingLabels appends any label not yet present as a pending item.
func EnsurePendingLabels(view *models.ViewModel, labels []string) {
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" || view.IndexOfLabel(label) >= 0 {
			continue
		}
		appendPending(view, label)
	}
}

// UpdateTotals copies the job-level total. When the total changes and the
// only item is still the placeholder, it is renamed after the current item.
func UpdateTotals(view *models.ViewModel, totalItems int, currentLabel string) {
	changed := view.TotalItems != totalItems
	view.TotalItems = totalItems

	label := strings.TrimSpace(currentLabel)
	if changed && label != "" && len(view.Items) == 1 && view.Items[0].Label == models.PlaceholderItemLabel {
		view.Items[0].Label = label
	}
}

// BackfillCompletedByCount marks the first processedItems manifest entries
// completed. Used on (re)attachment when only counters are known.
func BackfillCompletedByCount(view *models.ViewModel, manifest []string, processedItems int) {
	if processedItems <= 0 || len(manifest) == 0 {
		return
	}
	n := processedItems
	if n > len(manifest) {
		n = len(manifest)
	}
	for _, label := range manifest[:n] {
		idx := view.IndexOfLabel(strings.TrimSpace(label))
		if idx < 0 || view.Items[idx].Status == models.ItemStatusError {
			continue
		}
		view.Items[idx].Status = models.ItemStatusCompleted
		view.Items[idx].Progress = 100
	}
}

func addCurrentLabel(view *models.ViewModel, label string) {
	label = strings.TrimSpace(label)
	if label == "" || view.IndexOfLabel(label) >= 0 {
		return
	}
	if len(view.Items) == 1 && view.Items[0].Label == models.PlaceholderItemLabel {
		view.Items[0].Label = label
		return
	}
	appendPending(view, label)
}

// Apply merges record into view and returns the new view. view may be nil,
// in which case a session is created from the record and history is
// backfilled from its counters. The input view is never modified.
func Apply(view *models.ViewModel, record *models.ProgressRecord, now time.Time) (*models.ViewModel, MatchKind) {
	var next *models.ViewModel
	if view == nil {
		next = CreateSession(record.SessionID, record.TotalItems, record.SeedLabels(), now)
		BackfillCompletedByCount(next, record.ItemManifest, record.ProcessedItems)
	} else {
		next = view.Clone()
	}

	EnsurePendingLabels(next, record.ItemManifest)
	UpdateTotals(next, record.TotalItems, record.CurrentItemLabel)

	// Without a manifest the producer names items one at a time
	if len(record.ItemManifest) == 0 && len(next.Items) < record.TotalItems {
		addCurrentLabel(next, record.CurrentItemLabel)
	}

	kind := ReconcileCurrentItem(next, record)
	next.ProcessedItems = next.CountByStatus(models.ItemStatusCompleted)

	return next, kind
}
