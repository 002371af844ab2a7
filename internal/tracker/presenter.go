package tracker

import (
	"fmt"
	"io"
	"strings"

	"github.com/ternarybob/progresswatch/internal/models"
)

// Presentation is a renderable summary of a view model.
type Presentation struct {
	SessionID       string        `json:"session_id"`
	TotalItems      int           `json:"total_items"`
	ProcessedItems  int           `json:"processed_items"`
	LatestCompleted *models.Item  `json:"latest_completed,omitempty"`
	Current         *models.Item  `json:"current,omitempty"`
	NextPending     []models.Item `json:"next_pending"`
	Failed          []models.Item `json:"failed,omitempty"`
	RemainingCount  int           `json:"remaining_count"` // pending items beyond NextPending
}

// Present maps a view model to what a user sees: the most recently
// completed item, the one in flight, the next pendingPreview pending items
// and a count of the rest.
func Present(view *models.ViewModel, pendingPreview int) Presentation {
	p := Presentation{
		SessionID:      view.SessionID,
		TotalItems:     view.TotalItems,
		ProcessedItems: view.ProcessedItems,
		NextPending:    []models.Item{},
	}

	pending := 0
	for i := range view.Items {
		it := view.Items[i]
		switch {
		case it.Status == models.ItemStatusCompleted:
			p.LatestCompleted = &it
		case it.Status.IsCurrent():
			if p.Current == nil {
				p.Current = &it
			}
		case it.Status == models.ItemStatusError:
			p.Failed = append(p.Failed, it)
		case it.Status == models.ItemStatusPending:
			if len(p.NextPending) < pendingPreview {
				p.NextPending = append(p.NextPending, it)
			} else {
				pending++
			}
		}
	}
	p.RemainingCount = pending

	return p
}

// Render writes a plain-text rendering of p.
func (p Presentation) Render(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %d/%d items\n", p.SessionID, p.ProcessedItems, p.TotalItems)
	if p.LatestCompleted != nil {
		fmt.Fprintf(&b, "  done     %s\n", p.LatestCompleted.Label)
	}
	if p.Current != nil {
		fmt.Fprintf(&b, "  %-8s %s %d%%", p.Current.Status, p.Current.Label, p.Current.Progress)
		if p.Current.Message != "" {
			fmt.Fprintf(&b, " (%s)", p.Current.Message)
		}
		b.WriteString("\n")
	}
	for _, it := range p.Failed {
		fmt.Fprintf(&b, "  error    %s: %s\n", it.Label, it.Error)
	}
	for _, it := range p.NextPending {
		fmt.Fprintf(&b, "  pending  %s\n", it.Label)
	}
	if p.RemainingCount > 0 {
		fmt.Fprintf(&b, "  ... and %d more\n", p.RemainingCount)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
