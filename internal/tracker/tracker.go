// -----------------------------------------------------------------------
// Tracker - consumer-side session registry
// -----------------------------------------------------------------------

package tracker

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/progresswatch/internal/interfaces"
	"github.com/ternarybob/progresswatch/internal/models"
)

// Listener is notified after every view model change. view is nil when the
// session was removed from the registry.
type Listener func(sessionID string, view *models.ViewModel)

// CompleteFunc receives the final view of a completed session.
type CompleteFunc func(view *models.ViewModel)

// ErrorFunc receives the failure that ended observation of a session.
type ErrorFunc func(failure *Failure)

// Option configures a Tracker
type Option func(*Tracker)

// WithSubscriber enables the push variant for observers
func WithSubscriber(subscriber interfaces.ProgressSubscriber) Option {
	return func(t *Tracker) {
		t.subscriber = subscriber
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker is the session registry of one consumer runtime. It owns the
// view models, one observer per session id, and the change listeners.
// Create one per runtime and call StopAll on teardown.
type Tracker struct {
	transport  interfaces.ProgressTransport
	subscriber interfaces.ProgressSubscriber
	config     Config
	logger     arbor.ILogger
	now        func() time.Time

	mu           sync.Mutex
	views        map[string]*models.ViewModel
	observers    map[string]*Observer
	removals     map[string]*time.Timer
	ambiguous    map[string]int
	listeners    map[int]Listener
	nextListener int
}

// NewTracker creates an empty registry
func NewTracker(transport interfaces.ProgressTransport, config Config, logger arbor.ILogger, opts ...Option) *Tracker {
	t := &Tracker{
		transport: transport,
		config:    config,
		logger:    logger,
		now:       time.Now,
		views:     make(map[string]*models.ViewModel),
		observers: make(map[string]*Observer),
		removals:  make(map[string]*time.Timer),
		ambiguous: make(map[string]int),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetViewModel returns a copy of the session's view model, or nil
func (t *Tracker) GetViewModel(sessionID string) *models.ViewModel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.views[sessionID].Clone()
}

// Sessions returns the ids that currently have a view model, sorted
func (t *Tracker) Sessions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.views))
	for id := range t.views {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsObserving reports whether an observer is registered for sessionID
func (t *Tracker) IsObserving(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.observers[sessionID]
	return ok
}

// ObserverCount returns the number of registered observers
func (t *Tracker) ObserverCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.observers)
}

// AmbiguousMatches returns how many updates for sessionID fell back to the
// first item because nothing else matched.
func (t *Tracker) AmbiguousMatches(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ambiguous[sessionID]
}

// Subscribe registers a change listener and returns its unsubscribe func
func (t *Tracker) Subscribe(listener Listener) func() {
	t.mu.Lock()
	id := t.nextListener
	t.nextListener++
	t.listeners[id] = listener
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			t.mu.Unlock()
		})
	}
}

// StartObserving attaches a new observer to sessionID, replacing any
// existing one. onComplete and onError may be nil. They run on the
// observer's goroutine and must not stop or replace their own session
// synchronously.
func (t *Tracker) StartObserving(sessionID string, onComplete CompleteFunc, onError ErrorFunc) *Observer {
	return t.startObserving(sessionID, nil, onComplete, onError)
}

// startObserving optionally seeds the view model from a known record
// before the first cycle, as discovery does.
func (t *Tracker) startObserving(sessionID string, seed *models.ProgressRecord, onComplete CompleteFunc, onError ErrorFunc) *Observer {
	var obs *Observer
	obs = newObserver(sessionID, t.transport, t.pushSubscriber(), t.config, observerHooks{
		apply: func(record *models.ProgressRecord) {
			t.apply(sessionID, record)
		},
		complete: func() {
			if onComplete != nil {
				onComplete(t.GetViewModel(sessionID))
			}
			t.scheduleRemoval(obs)
		},
		fail: func(f *Failure) {
			if onError != nil {
				onError(f)
			}
			t.scheduleRemoval(obs)
		},
	}, t.now, t.logger)

	t.mu.Lock()
	old := t.observers[sessionID]
	t.observers[sessionID] = obs
	if timer, ok := t.removals[sessionID]; ok {
		timer.Stop()
		delete(t.removals, sessionID)
	}
	t.mu.Unlock()

	if old != nil {
		old.Stop()
		t.logger.Debug().Str("session_id", sessionID).Msg("Replaced existing observer")
	}

	if seed != nil {
		t.apply(sessionID, seed)
	}

	obs.Start()
	return obs
}

func (t *Tracker) pushSubscriber() interfaces.ProgressSubscriber {
	if t.config.Push {
		return t.subscriber
	}
	return nil
}

// StopObserving stops and forgets the session's observer. The view model
// is kept until it is dismissed.
func (t *Tracker) StopObserving(sessionID string) {
	t.mu.Lock()
	obs := t.observers[sessionID]
	delete(t.observers, sessionID)
	if timer, ok := t.removals[sessionID]; ok {
		timer.Stop()
		delete(t.removals, sessionID)
	}
	t.mu.Unlock()

	if obs != nil {
		obs.Stop()
	}
}

// Dismiss stops observation and drops the view model
func (t *Tracker) Dismiss(sessionID string) {
	t.StopObserving(sessionID)

	t.mu.Lock()
	_, existed := t.views[sessionID]
	delete(t.views, sessionID)
	delete(t.ambiguous, sessionID)
	t.mu.Unlock()

	if existed {
		t.notify(sessionID, nil)
	}
}

// StopAll stops every observer and pending removal. It is the runtime
// teardown hook.
func (t *Tracker) StopAll() {
	t.mu.Lock()
	observers := make([]*Observer, 0, len(t.observers))
	for _, obs := range t.observers {
		observers = append(observers, obs)
	}
	for _, timer := range t.removals {
		timer.Stop()
	}
	t.observers = make(map[string]*Observer)
	t.removals = make(map[string]*time.Timer)
	t.mu.Unlock()

	for _, obs := range observers {
		obs.Stop()
	}

	t.logger.Debug().Int("observers", len(observers)).Msg("Stopped all observers")
}

// apply reconciles a record into the registry and notifies listeners on change
func (t *Tracker) apply(sessionID string, record *models.ProgressRecord) {
	t.mu.Lock()
	current := t.views[sessionID]
	next, kind := Apply(current, record, t.now())
	if kind.Ambiguous() {
		t.ambiguous[sessionID]++
	}
	changed := !reflect.DeepEqual(current, next)
	if changed {
		t.views[sessionID] = next
	}
	t.mu.Unlock()

	if kind.Ambiguous() {
		t.logger.WithCorrelationId(sessionID).Warn().
			Str("session_id", sessionID).
			Str("kind", string(KindReconciliationAmbiguity)).
			Str("message", record.Message).
			Str("current_item_label", record.CurrentItemLabel).
			Msg("No item matched progress update - applied to first item")
	}

	if changed {
		t.notify(sessionID, next.Clone())
	}
}

// scheduleRemoval drops the session after the completion grace, provided
// obs is still the registered observer by then.
func (t *Tracker) scheduleRemoval(obs *Observer) {
	id := obs.SessionID()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.observers[id] != obs {
		return
	}
	if timer, ok := t.removals[id]; ok {
		timer.Stop()
	}
	t.removals[id] = time.AfterFunc(t.config.CompletionGrace, func() {
		t.remove(obs)
	})
}

func (t *Tracker) remove(obs *Observer) {
	id := obs.SessionID()

	t.mu.Lock()
	if t.observers[id] != obs {
		t.mu.Unlock()
		return
	}
	delete(t.observers, id)
	delete(t.removals, id)
	delete(t.views, id)
	delete(t.ambiguous, id)
	t.mu.Unlock()

	t.logger.Debug().Str("session_id", id).Msg("Session removed from registry")
	t.notify(id, nil)
}

func (t *Tracker) notify(sessionID string, view *models.ViewModel) {
	t.mu.Lock()
	listeners := make([]Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.mu.Unlock()

	for _, l := range listeners {
		l(sessionID, view)
	}
}
