package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/impara/comicgen/internal/domain"
	"github.com/impara/comicgen/internal/tracker"
)

// SweepStalled fails items that have sat in processing longer than olderThan
// without a callback, then re-advances the affected jobs. It is polling
// infrastructure invoked on a schedule by the server binary, not part of the
// event-driven core; running it redundantly is safe.
func (o *Orchestrator) SweepStalled(ctx context.Context, olderThan time.Duration) {
	ids, err := o.store.ListActive(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("orchestrator: sweep could not list active jobs")
		return
	}
	cutoff := o.now().Add(-olderThan)

	for _, jobID := range ids {
		var consumed []string
		changed := false
		_, err := o.mutate(ctx, jobID, func(s *domain.Strip) (bool, error) {
			if s.Status.Terminal() {
				return false, nil
			}
			for _, name := range domain.PhaseOrder {
				ps := s.Phase(name)
				if ps == nil {
					continue
				}
				for _, item := range ps.Items {
					if item.Status != domain.ItemProcessing || !item.UpdatedAt.Before(cutoff) {
						continue
					}
					reason := fmt.Sprintf("timed out after %s waiting for callback", olderThan)
					if _, err := tracker.ApplyItem(s, name, item.ID, tracker.Update{Status: domain.ItemFailed, Error: reason}, o.now()); err != nil {
						return false, err
					}
					if item.Handle != "" {
						consumed = append(consumed, item.Handle)
					}
					changed = true
					o.logger.Warn().
						Str("job_id", jobID).
						Str("phase", string(name)).
						Str("item", item.ID).
						Msg("orchestrator: stalled item timed out")
					if strictPhase(name) {
						o.applyFailure(s, name, aggregateFailure(ps))
					}
				}
			}
			return changed, nil
		})
		if err != nil {
			o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: sweep failed for job")
			continue
		}
		for _, handle := range consumed {
			if err := o.store.DeleteHandle(ctx, handle); err != nil {
				o.logger.Error().Err(err).Str("handle", handle).Msg("orchestrator: sweep could not drop handle")
			}
		}
		if changed {
			if err := o.Advance(ctx, jobID); err != nil {
				o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: post-sweep advance failed")
			}
		}
	}
}
