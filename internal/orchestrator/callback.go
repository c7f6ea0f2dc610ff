package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/impara/comicgen/internal/domain"
	"github.com/impara/comicgen/internal/providers/inference"
	"github.com/impara/comicgen/internal/tracker"
)

// OnCallback applies an inference API completion to the item owning its
// handle, then re-advances the job. Unknown or already-consumed handles are
// logged no-ops: with at-least-once webhook delivery a duplicate must not
// double-count progress or re-trigger composition. Only structural problems
// (malformed payload, missing job, storage failure) return an error.
func (o *Orchestrator) OnCallback(ctx context.Context, cb inference.Callback) error {
	if strings.TrimSpace(cb.Handle) == "" {
		return fmt.Errorf("%w: missing handle", domain.ErrCallback)
	}

	ref, err := o.store.GetHandle(ctx, cb.Handle)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			o.logger.Debug().Str("handle", cb.Handle).Msg("orchestrator: callback for unknown or consumed handle ignored")
			return nil
		}
		return fmt.Errorf("resolve handle: %w", err)
	}

	terminal := false
	_, err = o.mutate(ctx, ref.JobID, func(s *domain.Strip) (bool, error) {
		if s.Status.Terminal() {
			// A late callback for a job that already failed for an
			// unrelated reason is legitimate traffic.
			o.logger.Debug().Str("job_id", s.ID).Str("handle", cb.Handle).Msg("orchestrator: callback on terminal job ignored")
			terminal = true
			return false, nil
		}
		item := itemFor(s, ref)
		if item == nil {
			return false, fmt.Errorf("%w: handle %s names unknown item %s/%s", domain.ErrCallback, cb.Handle, ref.Phase, ref.ItemID)
		}
		if item.Status == domain.ItemCompleted || item.Status == domain.ItemFailed {
			// Handle record outlived the item settle (crash window);
			// treat like a duplicate.
			terminal = true
			return false, nil
		}
		return true, o.applyOutcome(s, ref, cb)
	})
	if err != nil {
		return err
	}

	if delErr := o.store.DeleteHandle(ctx, cb.Handle); delErr != nil {
		o.logger.Error().Err(delErr).Str("handle", cb.Handle).Msg("orchestrator: delete consumed handle failed")
	}
	if terminal {
		return nil
	}
	return o.Advance(ctx, ref.JobID)
}

func itemFor(s *domain.Strip, ref domain.HandleRef) *domain.ItemState {
	ps := s.Phase(ref.Phase)
	if ps == nil {
		return nil
	}
	return ps.Items[ref.ItemID]
}

// applyOutcome merges one callback into its item and the affected domain
// records. Caller holds the job lock.
func (o *Orchestrator) applyOutcome(s *domain.Strip, ref domain.HandleRef, cb inference.Callback) error {
	now := o.now()

	if !cb.Succeeded() {
		reason := cb.Error
		if reason == "" {
			reason = "generation failed"
		}
		if _, err := tracker.ApplyItem(s, ref.Phase, ref.ItemID, tracker.Update{Status: domain.ItemFailed, Error: reason}, now); err != nil {
			return err
		}
		if c := s.Character(ref.ItemID); c != nil && ref.Phase == domain.PhaseCharacters {
			c.Status = domain.ItemFailed
		}
		if p := s.Panel(ref.ItemID); p != nil && ref.Phase == domain.PhaseBackgrounds {
			p.Status = domain.ItemFailed
		}
		if strictPhase(ref.Phase) {
			o.applyFailure(s, ref.Phase, aggregateFailure(s.Phase(ref.Phase)))
		}
		return nil
	}

	switch ref.Phase {
	case domain.PhaseNLP:
		segments, err := inference.DecodeSegments(cb.Output)
		if err != nil {
			return o.failOutcome(s, ref, err, now)
		}
		s.Panels = make([]*domain.Panel, 0, domain.PanelCount)
		for i, id := range tracker.PanelIDs() {
			s.Panels = append(s.Panels, &domain.Panel{ID: id, Description: segments[i], Status: domain.ItemPending})
		}
		_, err = tracker.ApplyItem(s, ref.Phase, ref.ItemID, tracker.Update{Status: domain.ItemCompleted, Result: "segmented"}, now)
		return err

	case domain.PhaseCharacters:
		url, err := inference.DecodeImageURL(cb.Output)
		if err != nil {
			return o.failOutcome(s, ref, err, now)
		}
		if c := s.Character(ref.ItemID); c != nil {
			c.Status = domain.ItemCompleted
			c.CartoonifyURL = url
		}
		_, err = tracker.ApplyItem(s, ref.Phase, ref.ItemID, tracker.Update{Status: domain.ItemCompleted, Result: url}, now)
		return err

	case domain.PhaseBackgrounds:
		url, err := inference.DecodeImageURL(cb.Output)
		if err != nil {
			return o.failOutcome(s, ref, err, now)
		}
		if p := s.Panel(ref.ItemID); p != nil {
			p.Status = domain.ItemCompleted
			p.BackgroundURL = url
		}
		_, err = tracker.ApplyItem(s, ref.Phase, ref.ItemID, tracker.Update{Status: domain.ItemCompleted, Result: url}, now)
		return err
	}
	return fmt.Errorf("%w: callback for non-dispatched phase %s", domain.ErrCallback, ref.Phase)
}

// failOutcome settles an item whose successful callback carried an unusable
// result, applying the same strict-phase policy as a reported failure.
func (o *Orchestrator) failOutcome(s *domain.Strip, ref domain.HandleRef, cause error, now time.Time) error {
	if _, err := tracker.ApplyItem(s, ref.Phase, ref.ItemID, tracker.Update{Status: domain.ItemFailed, Error: cause.Error()}, now); err != nil {
		return err
	}
	if strictPhase(ref.Phase) {
		o.applyFailure(s, ref.Phase, aggregateFailure(s.Phase(ref.Phase)))
	}
	return nil
}
