package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/impara/comicgen/internal/compose"
	"github.com/impara/comicgen/internal/domain"
	"github.com/impara/comicgen/internal/tracker"
)

// dispatchItem is one claimed unit of work leaving the lock for a submission
// or composition call.
type dispatchItem struct {
	ID      string
	Payload string // character image, panel description, or background url
}

// dispatchPlan is what Advance decided to do for a job. It is computed, and
// its items claimed, under the job lock; the side effects run outside it.
type dispatchPlan struct {
	phase      domain.PhaseName
	story      string
	opts       domain.Options
	items      []dispatchItem
	characters []*domain.Character // completed cast, for composition
}

// Advance re-evaluates a job after any state-affecting event and dispatches
// the next runnable phase. It is idempotent and safe to call at any time:
// when nothing is runnable it returns without side effects.
func (o *Orchestrator) Advance(ctx context.Context, jobID string) error {
	var plan *dispatchPlan
	_, err := o.mutate(ctx, jobID, func(s *domain.Strip) (bool, error) {
		if s.Status.Terminal() {
			o.logger.Debug().Str("job_id", jobID).Str("status", string(s.Status)).Msg("orchestrator: advance on terminal job ignored")
			return false, nil
		}
		if s.Status == domain.JobStatusInit {
			s.Status = domain.JobStatusProcessing
		}
		plan = o.claimNext(s)
		return plan != nil, nil
	})
	if err != nil {
		return err
	}
	if plan == nil {
		return nil
	}

	switch plan.phase {
	case domain.PhaseNLP:
		o.dispatchNLP(ctx, jobID, plan)
	case domain.PhaseCharacters, domain.PhaseBackgrounds:
		o.dispatchParallel(ctx, jobID, plan)
	case domain.PhaseComposition:
		o.runComposition(ctx, jobID, plan)
	}
	return nil
}

// claimNext finds the first phase in pipeline order that is still pending
// with its prerequisite completed, marks it and its items processing, and
// returns the dispatch plan. Caller holds the job lock.
func (o *Orchestrator) claimNext(s *domain.Strip) *dispatchPlan {
	prevCompleted := true
	for _, name := range domain.PhaseOrder {
		ps := s.Phase(name)
		if ps == nil {
			return nil
		}
		if ps.Status == domain.PhasePending && prevCompleted {
			return o.claimPhase(s, ps)
		}
		prevCompleted = ps.Status == domain.PhaseCompleted
	}
	return nil
}

func (o *Orchestrator) claimPhase(s *domain.Strip, ps *domain.PhaseState) *dispatchPlan {
	plan := &dispatchPlan{phase: ps.Name, story: s.Story, opts: s.Options}

	ids := make([]string, 0, len(ps.Items))
	for id := range ps.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := o.now()
	for _, id := range ids {
		item := ps.Items[id]
		if item.Status != domain.ItemPending {
			continue
		}
		item.Status = domain.ItemProcessing
		item.UpdatedAt = now

		di := dispatchItem{ID: id}
		switch ps.Name {
		case domain.PhaseCharacters:
			if c := s.Character(id); c != nil {
				di.Payload = c.Image
				c.Status = domain.ItemProcessing
			}
		case domain.PhaseBackgrounds:
			if p := s.Panel(id); p != nil {
				di.Payload = p.Description
				p.Status = domain.ItemProcessing
			}
		case domain.PhaseComposition:
			if p := s.Panel(id); p != nil {
				di.Payload = p.BackgroundURL
			}
		}
		plan.items = append(plan.items, di)
	}
	if len(plan.items) == 0 {
		return nil
	}

	ps.Status = domain.PhaseProcessing
	if ps.Name == domain.PhaseComposition {
		plan.characters = s.CompletedCharacters()
	}
	o.logger.Info().
		Str("job_id", s.ID).
		Str("phase", string(ps.Name)).
		Int("items", len(plan.items)).
		Msg("orchestrator: dispatching phase")
	return plan
}

// dispatchNLP issues the single segmentation submission.
func (o *Orchestrator) dispatchNLP(ctx context.Context, jobID string, plan *dispatchPlan) {
	handle, err := o.submitter.SubmitSegmentation(ctx, plan.story)
	o.recordSubmission(ctx, jobID, domain.PhaseNLP, domain.NLPItemID, handle, err)
}

// dispatchParallel issues one submission per claimed item concurrently.
// Items are mutually independent; each outcome is merged under the job lock
// on its own so racing merges cannot drop one another.
func (o *Orchestrator) dispatchParallel(ctx context.Context, jobID string, plan *dispatchPlan) {
	var wg sync.WaitGroup
	for _, item := range plan.items {
		wg.Add(1)
		go func(item dispatchItem) {
			defer wg.Done()
			var handle string
			var err error
			switch plan.phase {
			case domain.PhaseCharacters:
				handle, err = o.submitter.SubmitCartoonify(ctx, item.Payload, item.ID)
			case domain.PhaseBackgrounds:
				handle, err = o.submitter.SubmitBackground(ctx, item.Payload, plan.opts, item.ID)
			}
			o.recordSubmission(ctx, jobID, plan.phase, item.ID, handle, err)
		}(item)
	}
	wg.Wait()
}

// recordSubmission persists the outcome of one submission call: the external
// handle on success, or a permanently failed item once the client's retry
// budget is spent. One character's failed submission does not abort its
// siblings; under the strict phase policy it does fail the job.
func (o *Orchestrator) recordSubmission(ctx context.Context, jobID string, phase domain.PhaseName, itemID, handle string, submitErr error) {
	if submitErr != nil {
		o.logger.Error().Err(submitErr).
			Str("job_id", jobID).
			Str("phase", string(phase)).
			Str("item", itemID).
			Msg("orchestrator: submission failed")
		o.failItem(ctx, jobID, phase, itemID, submitErr.Error())
		return
	}

	// Index first: the callback may arrive before the item write lands.
	ref := domain.HandleRef{JobID: jobID, Phase: phase, ItemID: itemID}
	if err := o.store.PutHandle(ctx, handle, ref); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Str("handle", handle).Msg("orchestrator: handle index write failed")
		o.failItem(ctx, jobID, phase, itemID, "handle index write failed: "+err.Error())
		return
	}
	_, err := o.mutate(ctx, jobID, func(s *domain.Strip) (bool, error) {
		if s.Status.Terminal() {
			return false, nil
		}
		if _, err := tracker.ApplyItem(s, phase, itemID, tracker.Update{Handle: handle}, o.now()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Str("item", itemID).Msg("orchestrator: record submission failed")
	}
}

// failItem marks one item permanently failed and, in strict phases, fails
// the job with the phase's aggregated errors.
func (o *Orchestrator) failItem(ctx context.Context, jobID string, phase domain.PhaseName, itemID, reason string) {
	_, err := o.mutate(ctx, jobID, func(s *domain.Strip) (bool, error) {
		if s.Status.Terminal() {
			return false, nil
		}
		if _, err := tracker.ApplyItem(s, phase, itemID, tracker.Update{Status: domain.ItemFailed, Error: reason}, o.now()); err != nil {
			return false, err
		}
		if c := s.Character(itemID); c != nil && phase == domain.PhaseCharacters {
			c.Status = domain.ItemFailed
		}
		if p := s.Panel(itemID); p != nil && phase == domain.PhaseBackgrounds {
			p.Status = domain.ItemFailed
		}
		if strictPhase(phase) {
			o.applyFailure(s, phase, aggregateFailure(s.Phase(phase)))
		}
		return true, nil
	})
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Str("item", itemID).Msg("orchestrator: record item failure failed")
	}
}

// runComposition composes every panel, applies the lenient completion rule,
// and settles the job. Compose calls run outside the lock; the claimed
// composition items keep a concurrent Advance from re-entering.
func (o *Orchestrator) runComposition(ctx context.Context, jobID string, plan *dispatchPlan) {
	placements := make([]compose.Placement, 0, len(plan.characters))
	for _, c := range plan.characters {
		placements = append(placements, compose.Placement{Source: c.CartoonifyURL})
	}

	results := make([]domain.PanelResult, 0, len(plan.items))
	var panelURLs []string
	for _, item := range plan.items {
		url, err := o.composer.ComposePanel(ctx, jobID, item.ID, item.Payload, placements)
		if err != nil {
			o.logger.Warn().Err(err).Str("job_id", jobID).Str("panel", item.ID).Msg("orchestrator: panel composition failed")
			results = append(results, domain.PanelResult{PanelID: item.ID, Error: err.Error()})
			continue
		}
		results = append(results, domain.PanelResult{PanelID: item.ID, ComposedURL: url})
		panelURLs = append(panelURLs, url)
	}

	stripURL := ""
	if len(panelURLs) > 0 {
		url, err := o.composer.ComposeStrip(ctx, jobID, panelURLs)
		if err != nil {
			// Strip tiling failure does not void the composed panels.
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("orchestrator: strip composition failed")
		} else {
			stripURL = url
		}
	}

	_, err := o.mutate(ctx, jobID, func(s *domain.Strip) (bool, error) {
		if s.Status.Terminal() {
			return false, nil
		}
		o.settleComposition(s, results, stripURL)
		return true, nil
	})
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: record composition failed")
	}
}

// settleComposition merges panel results and moves the job to its terminal
// state: completed when at least one panel composed, failed when none did.
// The first successfully composed panel's URL doubles as the job output URL.
// Caller holds the job lock.
func (o *Orchestrator) settleComposition(s *domain.Strip, results []domain.PanelResult, stripURL string) {
	now := o.now()
	var errs []string
	firstURL := ""
	for _, r := range results {
		status := domain.ItemCompleted
		update := tracker.Update{Status: status, Result: r.ComposedURL}
		if r.Error != "" {
			status = domain.ItemFailed
			update = tracker.Update{Status: status, Error: r.Error}
			errs = append(errs, fmt.Sprintf("%s: %s", r.PanelID, r.Error))
		}
		if _, err := tracker.ApplyItem(s, domain.PhaseComposition, r.PanelID, update, now); err != nil {
			o.logger.Error().Err(err).Str("job_id", s.ID).Str("panel", r.PanelID).Msg("orchestrator: unknown composition item")
			continue
		}
		if p := s.Panel(r.PanelID); p != nil {
			p.Status = status
			p.ComposedURL = r.ComposedURL
		}
		if firstURL == "" && r.ComposedURL != "" {
			firstURL = r.ComposedURL
		}
	}

	if firstURL == "" {
		o.applyFailure(s, domain.PhaseComposition, strings.Join(errs, "; "))
		return
	}
	s.Status = domain.JobStatusCompleted
	s.Output = &domain.Output{URL: firstURL, StripURL: stripURL, Panels: results, Errors: errs}
	o.logger.Info().
		Str("job_id", s.ID).
		Int("panels_ok", len(results)-len(errs)).
		Int("panels_failed", len(errs)).
		Msg("orchestrator: job completed")
}
