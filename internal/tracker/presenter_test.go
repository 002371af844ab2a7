package tracker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/progresswatch/internal/models"
)

func TestPresent(t *testing.T) {
	view := CreateSession("s", 7, []string{"a", "b", "c", "d", "e", "f", "g"}, t0)
	view.Items[0].Status = models.ItemStatusCompleted
	view.Items[1].Status = models.ItemStatusCompleted
	view.Items[2].Status = models.ItemStatusTranscribing
	view.Items[2].Progress = 85
	view.Items[3].Status = models.ItemStatusError
	view.Items[3].Error = "unsupported"
	view.ProcessedItems = 2

	p := Present(view, 2)

	require.NotNil(t, p.LatestCompleted)
	assert.Equal(t, "b", p.LatestCompleted.Label)
	require.NotNil(t, p.Current)
	assert.Equal(t, "c", p.Current.Label)
	require.Len(t, p.NextPending, 2)
	assert.Equal(t, "e", p.NextPending[0].Label)
	assert.Equal(t, "f", p.NextPending[1].Label)
	assert.Equal(t, 1, p.RemainingCount)
	require.Len(t, p.Failed, 1)
	assert.Equal(t, "d", p.Failed[0].Label)

	var out strings.Builder
	require.NoError(t, p.Render(&out))
	text := out.String()
	assert.Contains(t, text, "2/7 items")
	assert.Contains(t, text, "transcribing c 85%")
	assert.Contains(t, text, "... and 1 more")
}

func TestPresent_FreshView(t *testing.T) {
	view := CreateSession("s", 1, nil, t0)
	p := Present(view, 3)

	assert.Nil(t, p.LatestCompleted)
	assert.Nil(t, p.Current)
	require.Len(t, p.NextPending, 1)
	assert.Equal(t, models.PlaceholderItemLabel, p.NextPending[0].Label)
	assert.Zero(t, p.RemainingCount)
}
