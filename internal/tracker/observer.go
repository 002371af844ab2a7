// -----------------------------------------------------------------------
// Observer - per-session poll/stream loop
// -----------------------------------------------------------------------

package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/progresswatch/internal/common"
	"github.com/ternarybob/progresswatch/internal/interfaces"
	"github.com/ternarybob/progresswatch/internal/models"
)

// ObserverState is the lifecycle state of an Observer.
type ObserverState int32

const (
	StateIdle ObserverState = iota
	StateActive
	StateReconciling
	StateStopped
)

func (s ObserverState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateReconciling:
		return "reconciling"
	default:
		return "stopped"
	}
}

// observerHooks connect an observer to its registry.
type observerHooks struct {
	apply    func(record *models.ProgressRecord)
	complete func()
	fail     func(f *Failure)
}

// Observer drives one session: it fetches (or receives) records, detects
// staleness, completion and failure, and hands records to the registry.
// Cycles run on a single goroutine and never overlap.
type Observer struct {
	sessionID  string
	transport  interfaces.ProgressTransport
	subscriber interfaces.ProgressSubscriber
	config     Config
	hooks      observerHooks
	logger     arbor.ILogger
	now        func() time.Time

	state   atomic.Int32
	fetches atomic.Int64

	// held while a terminal callback runs; Stop waits on it
	callbackMu sync.Mutex

	mu          sync.Mutex
	cancel      context.CancelFunc
	startedAt   time.Time
	lastSuccess time.Time
	latest      interfaces.StreamEvent // last push event, replayed on ticks
}

func newObserver(sessionID string, transport interfaces.ProgressTransport, subscriber interfaces.ProgressSubscriber, config Config, hooks observerHooks, now func() time.Time, logger arbor.ILogger) *Observer {
	return &Observer{
		sessionID:  sessionID,
		transport:  transport,
		subscriber: subscriber,
		config:     config,
		hooks:      hooks,
		now:        now,
		logger:     logger.WithCorrelationId(sessionID),
	}
}

// SessionID returns the observed session id
func (o *Observer) SessionID() string {
	return o.sessionID
}

// State returns the current lifecycle state
func (o *Observer) State() ObserverState {
	return ObserverState(o.state.Load())
}

// Fetches returns how many records were requested or received so far
func (o *Observer) Fetches() int64 {
	return o.fetches.Load()
}

// begin moves idle -> active and stamps the grace window.
func (o *Observer) begin() bool {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateActive)) {
		return false
	}
	now := o.now()
	o.mu.Lock()
	o.startedAt = now
	o.lastSuccess = now
	o.latest = interfaces.StreamEvent{NotFound: true}
	o.mu.Unlock()
	return true
}

// Start runs the first cycle immediately and then one per poll interval.
// Starting an observer that is not idle is a no-op.
func (o *Observer) Start() {
	if !o.begin() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	// Stop may have won the race before cancel was stored
	if o.State() == StateStopped {
		cancel()
		return
	}

	o.logger.Debug().
		Str("session_id", o.sessionID).
		Dur("interval", o.config.PollInterval).
		Bool("push", o.subscriber != nil).
		Msg("Observer started")

	common.SafeGo(o.logger, "observer:"+o.sessionID, func() {
		o.run(ctx)
	})
}

// Stop cancels the loop. Callable from any state, any number of times.
// No callback runs after it returns: a terminal callback already in flight
// is waited for, so callbacks must not stop their own observer synchronously.
func (o *Observer) Stop() {
	prev := ObserverState(o.state.Swap(int32(StateStopped)))
	if prev == StateStopped {
		o.callbackMu.Lock()
		o.callbackMu.Unlock()
		return
	}

	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	o.logger.Debug().Str("session_id", o.sessionID).Str("from", prev.String()).Msg("Observer stopped")
}

func (o *Observer) run(ctx context.Context) {
	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	var stream <-chan interfaces.StreamEvent
	if o.subscriber != nil {
		s, err := o.subscriber.Subscribe(ctx, o.sessionID)
		if err != nil {
			o.logger.Warn().Err(err).Str("session_id", o.sessionID).Msg("Push subscribe failed - polling instead")
		} else {
			stream = s
		}
	}

	if stream == nil {
		o.pollCycle(ctx)
	}

	for o.State() != StateStopped {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				o.logger.Debug().Str("session_id", o.sessionID).Msg("Push stream closed - polling instead")
				stream = nil
				continue
			}
			o.mu.Lock()
			o.latest = ev
			o.mu.Unlock()
			o.pushCycle(ev)
		case <-ticker.C:
			if stream != nil {
				// A silent stream still has to age out
				o.mu.Lock()
				ev := o.latest
				o.mu.Unlock()
				o.cycle(eventResult(ev))
			} else {
				o.pollCycle(ctx)
			}
		}
	}
}

func (o *Observer) pollCycle(ctx context.Context) {
	o.cycle(func() (*models.ProgressRecord, error) {
		o.fetches.Add(1)
		reqCtx, cancel := context.WithTimeout(ctx, o.config.RequestTimeout)
		defer cancel()
		return o.transport.GetStatus(reqCtx, o.sessionID)
	})
}

func (o *Observer) pushCycle(ev interfaces.StreamEvent) {
	o.fetches.Add(1)
	o.cycle(eventResult(ev))
}

func eventResult(ev interfaces.StreamEvent) func() (*models.ProgressRecord, error) {
	return func() (*models.ProgressRecord, error) {
		switch {
		case ev.Err != nil:
			return nil, ev.Err
		case ev.NotFound || ev.Record == nil:
			return nil, interfaces.ErrSessionNotFound
		default:
			return ev.Record, nil
		}
	}
}

// cycle runs one acquire-and-evaluate step. It is skipped unless the
// observer is active, which also rules out overlapping cycles.
func (o *Observer) cycle(acquire func() (*models.ProgressRecord, error)) {
	if !o.state.CompareAndSwap(int32(StateActive), int32(StateReconciling)) {
		return
	}

	record, err := acquire()
	o.evaluate(record, err, o.now())

	o.state.CompareAndSwap(int32(StateReconciling), int32(StateActive))
}

func (o *Observer) evaluate(record *models.ProgressRecord, err error, now time.Time) {
	o.mu.Lock()
	startedAt, lastSuccess := o.startedAt, o.lastSuccess
	o.mu.Unlock()

	notFound := errors.Is(err, interfaces.ErrSessionNotFound) ||
		(err == nil && (record == nil || record.Status == models.ProgressStatusNotFound))

	switch {
	case notFound:
		if elapsed := now.Sub(startedAt); elapsed <= o.config.StartupGrace {
			o.logger.Trace().
				Str("session_id", o.sessionID).
				Str("kind", string(KindNotYetInitialized)).
				Dur("elapsed", elapsed).
				Msg("Session not created yet")
			return
		}
		o.finish(nil, abandoned(o.sessionID, "session not found after startup grace"))

	case err != nil:
		if o.State() == StateStopped {
			return
		}
		outage := now.Sub(lastSuccess)
		if outage > o.config.LiveStaleThreshold {
			o.finish(nil, transportFailure(o.sessionID, err))
			return
		}
		o.logger.Warn().
			Err(err).
			Str("session_id", o.sessionID).
			Dur("since_last_success", outage).
			Msg("Progress fetch failed - retrying")

	default:
		o.mu.Lock()
		o.lastSuccess = now
		o.mu.Unlock()

		// a completed status with items remaining still ages out
		if record.Status != models.ProgressStatusError && !record.IsComplete() && record.IsStale(now, o.config.LiveStaleThreshold) {
			o.logger.Warn().
				Str("session_id", o.sessionID).
				Dur("age", record.Age(now)).
				Msg("Progress record stale - treating session as abandoned")
			o.finish(nil, abandoned(o.sessionID, "record not updated within live threshold"))
			return
		}

		if o.State() != StateReconciling {
			return
		}
		o.hooks.apply(record)

		switch {
		case record.Status == models.ProgressStatusError:
			msg := record.Error
			if msg == "" {
				msg = record.Message
			}
			o.finish(nil, producerError(o.sessionID, msg))
		case record.IsComplete():
			o.finish(o.hooks.complete, nil)
		}
	}
}

// finish stops the observer and fires exactly one terminal callback, unless
// Stop got there first.
func (o *Observer) finish(onComplete func(), failure *Failure) {
	o.callbackMu.Lock()
	defer o.callbackMu.Unlock()

	if !o.state.CompareAndSwap(int32(StateReconciling), int32(StateStopped)) {
		return
	}

	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if failure != nil {
		o.logger.Info().
			Str("session_id", o.sessionID).
			Str("kind", string(failure.Kind)).
			Str("error", failure.Message).
			Msg("Observation ended with failure")
		o.hooks.fail(failure)
		return
	}

	o.logger.Info().Str("session_id", o.sessionID).Msg("Observation completed")
	if onComplete != nil {
		onComplete()
	}
}
