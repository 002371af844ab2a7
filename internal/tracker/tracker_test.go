package tracker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/progresswatch/internal/models"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.CompletionGrace = 30 * time.Millisecond
	cfg.RequestTimeout = time.Second
	return cfg
}

func TestTracker_EndToEndCompletion(t *testing.T) {
	transport := newFakeTransport()
	now := time.Now()
	for _, p := range []int{0, 30, 60, 90} {
		transport.script("s1", response{record: rec("s1", models.ProgressStatusProcessing, p, 0, 1, "Processing a.pdf", now)})
	}
	transport.script("s1", response{record: rec("s1", models.ProgressStatusCompleted, 100, 1, 1, "Completed a.pdf", now)})

	tr := NewTracker(transport, fastConfig(), arbor.NewLogger())
	defer tr.StopAll()

	var (
		mu        sync.Mutex
		completes int
		final     *models.ViewModel
		removed   atomic.Bool
	)
	unsubscribe := tr.Subscribe(func(id string, view *models.ViewModel) {
		if view == nil {
			removed.Store(true)
		}
	})
	defer unsubscribe()

	tr.StartObserving("s1", func(view *models.ViewModel) {
		mu.Lock()
		completes++
		final = view
		mu.Unlock()
	}, func(f *Failure) {
		t.Errorf("unexpected failure: %v", f)
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return completes == 1
	}, 2*time.Second, 5*time.Millisecond)

	calls := transport.Calls("s1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, transport.Calls("s1"), "no poll after completion")

	mu.Lock()
	assert.Equal(t, 1, completes)
	require.NotNil(t, final)
	require.Len(t, final.Items, 1)
	assert.Equal(t, models.ItemStatusCompleted, final.Items[0].Status)
	assert.Equal(t, 1, final.ProcessedItems)
	mu.Unlock()

	require.Eventually(t, removed.Load, 2*time.Second, 5*time.Millisecond)
	assert.Nil(t, tr.GetViewModel("s1"))
	assert.False(t, tr.IsObserving("s1"))
}

func TestTracker_ErrorScenario(t *testing.T) {
	transport := newFakeTransport()
	r := rec("s1", models.ProgressStatusError, 0, 0, 2, "Processing a.pdf", time.Now())
	r.Error = "disk full"
	transport.set("s1", response{record: r})

	tr := NewTracker(transport, fastConfig(), arbor.NewLogger())
	defer tr.StopAll()

	var errorsSeen []string
	var mu sync.Mutex
	tr.StartObserving("s1", func(*models.ViewModel) {
		t.Error("unexpected completion")
	}, func(f *Failure) {
		mu.Lock()
		errorsSeen = append(errorsSeen, f.Message)
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errorsSeen) == 1
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, transport.Calls("s1"))
	mu.Lock()
	assert.Equal(t, []string{"disk full"}, errorsSeen)
	mu.Unlock()
}

func TestTracker_StartObservingReplacesExisting(t *testing.T) {
	transport := newFakeTransport()
	transport.set("s1", response{record: rec("s1", models.ProgressStatusProcessing, 10, 0, 2, "Processing a.pdf", time.Now())})

	cfg := fastConfig()
	cfg.PollInterval = time.Hour
	tr := NewTracker(transport, cfg, arbor.NewLogger())
	defer tr.StopAll()

	first := tr.StartObserving("s1", nil, nil)
	second := tr.StartObserving("s1", nil, nil)

	assert.Equal(t, StateStopped, first.State())
	assert.NotEqual(t, StateStopped, second.State())
	assert.Equal(t, 1, tr.ObserverCount())
}

func TestTracker_SubscribeAndUnsubscribe(t *testing.T) {
	transport := newFakeTransport()
	transport.set("s1", response{record: rec("s1", models.ProgressStatusProcessing, 10, 0, 2, "Processing a.pdf", time.Now())})

	cfg := fastConfig()
	cfg.PollInterval = time.Hour
	tr := NewTracker(transport, cfg, arbor.NewLogger())
	defer tr.StopAll()

	var notified atomic.Int32
	unsubscribe := tr.Subscribe(func(id string, view *models.ViewModel) {
		assert.Equal(t, "s1", id)
		notified.Add(1)
	})

	tr.StartObserving("s1", nil, nil)
	require.Eventually(t, func() bool { return notified.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	view := tr.GetViewModel("s1")
	require.NotNil(t, view)
	assert.Equal(t, []string{"s1"}, tr.Sessions())

	// Mutating the returned copy does not leak into the registry
	view.Items[0].Label = "changed"
	assert.NotEqual(t, "changed", tr.GetViewModel("s1").Items[0].Label)

	unsubscribe()
	unsubscribe()
	tr.Dismiss("s1")
	assert.Nil(t, tr.GetViewModel("s1"))
	assert.Equal(t, int32(1), notified.Load())
}

func TestTracker_StopAll(t *testing.T) {
	transport := newFakeTransport()
	cfg := fastConfig()
	tr := NewTracker(transport, cfg, arbor.NewLogger())

	a := tr.StartObserving("a", nil, nil)
	b := tr.StartObserving("b", nil, nil)
	tr.StopAll()

	assert.Equal(t, StateStopped, a.State())
	assert.Equal(t, StateStopped, b.State())
	assert.Zero(t, tr.ObserverCount())

	time.Sleep(10 * time.Millisecond) // let an in-flight fetch finish
	callsA := transport.Calls("a")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, callsA, transport.Calls("a"))
}

func TestTracker_CountsAmbiguousMatches(t *testing.T) {
	transport := newFakeTransport()
	cfg := fastConfig()
	cfg.PollInterval = time.Hour
	tr := NewTracker(transport, cfg, arbor.NewLogger())
	defer tr.StopAll()

	base := &models.ProgressRecord{SessionID: "s1", Status: models.ProgressStatusError, TotalItems: 2, ItemManifest: []string{"a.pdf", "b.pdf"}}
	tr.apply("s1", base)
	tr.apply("s1", &models.ProgressRecord{SessionID: "s1", Status: models.ProgressStatusError, TotalItems: 2, Message: "Processing b.pdf"})
	require.Zero(t, tr.AmbiguousMatches("s1"))

	// Both items errored, nothing pending: the update can only land on the first item
	tr.apply("s1", &models.ProgressRecord{SessionID: "s1", Status: models.ProgressStatusProcessing, TotalItems: 2, Message: "Processing z.pdf"})
	assert.Equal(t, 1, tr.AmbiguousMatches("s1"))
}
