package tracker

import (
	"context"
	"errors"

	"github.com/ternarybob/progresswatch/internal/interfaces"
	"golang.org/x/sync/errgroup"
)

// DiscoveryResult summarises one discovery pass.
type DiscoveryResult struct {
	Attached []string
	Deleted  []string
	Ignored  []string
	Err      error // listing failure; the pass itself never fails
}

// Discover lists candidate sessions and reattaches observers to the ones
// still running. Stale non-terminal records are deleted best-effort.
// Sessions already observed are left alone, so repeated runs are safe.
func (t *Tracker) Discover(ctx context.Context, onComplete CompleteFunc, onError ErrorFunc) DiscoveryResult {
	result := DiscoveryResult{}

	listCtx, cancel := context.WithTimeout(ctx, t.config.RequestTimeout)
	candidates, err := t.transport.ListActiveCandidates(listCtx)
	cancel()
	if err != nil {
		t.logger.Warn().Err(err).Msg("Session discovery could not list candidates")
		result.Err = err
		return result
	}

	now := t.now()
	var stale []string

	for _, c := range candidates {
		record := c.Progress
		switch {
		case record == nil || record.SessionID == "":
			result.Ignored = append(result.Ignored, c.ExternalID)

		case record.Status.IsActive() && !record.IsStale(now, t.config.StoreStaleThreshold):
			if t.IsObserving(record.SessionID) {
				result.Ignored = append(result.Ignored, record.SessionID)
				continue
			}
			t.logger.WithCorrelationId(record.SessionID).Info().
				Str("session_id", record.SessionID).
				Str("status", string(record.Status)).
				Int("processed_items", record.ProcessedItems).
				Int("total_items", record.TotalItems).
				Msg("Reattaching to active session")
			t.startObserving(record.SessionID, record.Clone(), onComplete, onError)
			result.Attached = append(result.Attached, record.SessionID)

		case !record.Status.IsTerminal() && record.IsStale(now, t.config.StoreStaleThreshold):
			stale = append(stale, record.SessionID)

		default:
			result.Ignored = append(result.Ignored, record.SessionID)
		}
	}

	result.Deleted = t.deleteStale(ctx, stale)

	t.logger.Info().
		Int("candidates", len(candidates)).
		Int("attached", len(result.Attached)).
		Int("deleted", len(result.Deleted)).
		Int("ignored", len(result.Ignored)).
		Msg("Session discovery finished")

	return result
}

// deleteStale removes abandoned records with bounded concurrency and
// returns the ids that were actually removed (or already gone).
func (t *Tracker) deleteStale(ctx context.Context, ids []string) []string {
	if len(ids) == 0 {
		return nil
	}

	workers := t.config.DiscoveryWorkers
	if workers < 1 {
		workers = 1
	}

	deleted := make([]bool, len(ids))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(ctx, t.config.RequestTimeout)
			defer cancel()

			err := t.transport.Delete(reqCtx, id)
			if err != nil && !errors.Is(err, interfaces.ErrSessionNotFound) {
				t.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to delete stale session")
				return nil
			}
			t.logger.Info().Str("session_id", id).Msg("Deleted stale session")
			deleted[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]string, 0, len(ids))
	for i, ok := range deleted {
		if ok {
			out = append(out, ids[i])
		}
	}
	return out
}
