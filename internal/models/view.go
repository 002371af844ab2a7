package models

import "time"

// PlaceholderItemLabel is used when the producer has not named any item yet.
const PlaceholderItemLabel = "Processing files..."

// ItemStatus is the consumer-side status of a single work item.
type ItemStatus string

const (
	ItemStatusPending      ItemStatus = "pending"
	ItemStatusProcessing   ItemStatus = "processing"
	ItemStatusTranscribing ItemStatus = "transcribing"
	ItemStatusCompleted    ItemStatus = "completed"
	ItemStatusError        ItemStatus = "error"
)

// IsCurrent reports whether the item is the one in flight.
func (s ItemStatus) IsCurrent() bool {
	return s == ItemStatusProcessing || s == ItemStatusTranscribing
}

// Item is one row of a reconstructed job timeline. Identity is assigned by
// the consumer; the producer never reports per-item ids.
type Item struct {
	Identity string     `json:"identity"`
	Label    string     `json:"label"`
	Status   ItemStatus `json:"status"`
	Progress int        `json:"progress"`
	Message  string     `json:"message,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// ViewModel is the consumer-side approximation of a job, rebuilt from a
// sequence of ProgressRecords.
type ViewModel struct {
	SessionID      string    `json:"session_id"`
	TotalItems     int       `json:"total_items"`
	ProcessedItems int       `json:"processed_items"`
	StartTime      time.Time `json:"start_time"`
	Items          []Item    `json:"items"`
}

// Clone returns a deep copy.
func (v *ViewModel) Clone() *ViewModel {
	if v == nil {
		return nil
	}
	c := *v
	c.Items = append([]Item(nil), v.Items...)
	return &c
}

// CountByStatus returns how many items have the given status.
func (v *ViewModel) CountByStatus(status ItemStatus) int {
	n := 0
	for _, it := range v.Items {
		if it.Status == status {
			n++
		}
	}
	return n
}

// CurrentItems returns the indexes of items in processing/transcribing.
func (v *ViewModel) CurrentItems() []int {
	var idx []int
	for i, it := range v.Items {
		if it.Status.IsCurrent() {
			idx = append(idx, i)
		}
	}
	return idx
}

// IndexOfLabel returns the index of the first item with exactly label, or -1.
func (v *ViewModel) IndexOfLabel(label string) int {
	for i, it := range v.Items {
		if it.Label == label {
			return i
		}
	}
	return -1
}
