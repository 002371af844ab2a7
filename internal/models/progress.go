// -----------------------------------------------------------------------
// Progress Record - durable, producer-authored snapshot of one job
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ProgressStatus is the job-level status carried by a ProgressRecord.
type ProgressStatus string

const (
	ProgressStatusProcessing   ProgressStatus = "processing"
	ProgressStatusTranscribing ProgressStatus = "transcribing"
	ProgressStatusCompleted    ProgressStatus = "completed"
	ProgressStatusError        ProgressStatus = "error"
	// ProgressStatusNotFound is synthesised by the transport and never persisted.
	ProgressStatusNotFound ProgressStatus = "not_found"

	// Control frames of the push stream, never persisted.
	ProgressStatusConnecting ProgressStatus = "connecting"
	ProgressStatusWaiting    ProgressStatus = "waiting"
)

// IsControl reports statuses that only appear on the push stream.
func (s ProgressStatus) IsControl() bool {
	return s == ProgressStatusConnecting || s == ProgressStatusWaiting
}

// IsActive reports whether the producer is still working on the job.
func (s ProgressStatus) IsActive() bool {
	return s == ProgressStatusProcessing || s == ProgressStatusTranscribing
}

// IsTerminal reports whether no further updates are expected.
func (s ProgressStatus) IsTerminal() bool {
	return s == ProgressStatusCompleted || s == ProgressStatusError
}

// ProgressRecord is the unit of truth for one job, keyed by SessionID.
// Progress is the percentage of the current item only; the job-level
// position is carried by TotalItems/ProcessedItems.
type ProgressRecord struct {
	SessionID        string         `json:"session_id" badgerhold:"key" validate:"required"`
	Status           ProgressStatus `json:"status" badgerhold:"index" validate:"required,oneof=processing transcribing completed error"`
	Progress         int            `json:"progress" validate:"min=0,max=100"`
	TotalItems       int            `json:"total_items" validate:"min=0"`
	ProcessedItems   int            `json:"processed_items" validate:"min=0,ltefield=TotalItems"`
	CurrentItemLabel string         `json:"current_item_label,omitempty"`
	ItemManifest     []string       `json:"item_manifest,omitempty"`
	Message          string         `json:"message,omitempty"`
	Error            string         `json:"error,omitempty"`
	Active           bool           `json:"active"`
	// LastUpdated is unix time in seconds, stamped by the durable store on write.
	LastUpdated float64 `json:"last_updated"`
}

var recordValidator = validator.New()

// Validate checks the record invariants before it is persisted.
func (r *ProgressRecord) Validate() error {
	if err := recordValidator.Struct(r); err != nil {
		return fmt.Errorf("invalid progress record %q: %w", r.SessionID, err)
	}
	return nil
}

// UpdatedAt converts LastUpdated to a time.Time.
func (r *ProgressRecord) UpdatedAt() time.Time {
	sec, frac := math.Modf(r.LastUpdated)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Touch stamps LastUpdated with the given time.
func (r *ProgressRecord) Touch(now time.Time) {
	r.LastUpdated = float64(now.UnixNano()) / 1e9
}

// Age returns how long ago the producer last wrote the record.
func (r *ProgressRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.UpdatedAt())
}

// IsStale reports whether the record has not been written within threshold.
// Boundary is exclusive: exactly threshold old is not stale.
func (r *ProgressRecord) IsStale(now time.Time, threshold time.Duration) bool {
	return r.Age(now) > threshold
}

// IsComplete is the single completion predicate. A completed status alone
// does not finish a job with items remaining, but counters reaching the
// total do, even before the status flips.
func (r *ProgressRecord) IsComplete() bool {
	if r.TotalItems <= 0 {
		return r.Status == ProgressStatusCompleted
	}
	return r.ProcessedItems >= r.TotalItems
}

// SeedLabels returns the labels a fresh view model is created with:
// the manifest when known, else the current item, else a placeholder.
func (r *ProgressRecord) SeedLabels() []string {
	if len(r.ItemManifest) > 0 {
		labels := make([]string, 0, len(r.ItemManifest))
		for _, l := range r.ItemManifest {
			if l = strings.TrimSpace(l); l != "" {
				labels = append(labels, l)
			}
		}
		if len(labels) > 0 {
			return labels
		}
	}
	if label := strings.TrimSpace(r.CurrentItemLabel); label != "" {
		return []string{label}
	}
	return []string{PlaceholderItemLabel}
}

// Clone returns a deep copy so callers can mutate freely.
func (r *ProgressRecord) Clone() *ProgressRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.ItemManifest != nil {
		c.ItemManifest = append([]string(nil), r.ItemManifest...)
	}
	return &c
}

// Candidate is one entry of the job listing used by session discovery.
// Progress is nil when the listed job carries no embedded progress metadata.
type Candidate struct {
	ExternalID string          `json:"id"`
	Progress   *ProgressRecord `json:"progress,omitempty"`
}
