// Package orchestrator drives a strip job through its pipeline: nlp
// segmentation, character cartoonification, panel backgrounds, and final
// composition. All progress is reaction to an inbound event (job creation, a
// webhook callback, or the stalled-item sweep); there is no scheduler loop.
//
// The concurrency discipline is read-modify-write behind a per-job mutex.
// Submission and composition calls, the only blocking operations, always run
// outside that lock; the items they serve are claimed processing beforehand
// so a redundant Advance cannot dispatch them twice.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/impara/comicgen/internal/compose"
	"github.com/impara/comicgen/internal/domain"
	"github.com/impara/comicgen/internal/infra"
	"github.com/impara/comicgen/internal/store"
	"github.com/impara/comicgen/internal/tracker"
)

// Submitter starts long-running generation work on the inference API and
// returns an opaque handle for later callback correlation.
type Submitter interface {
	SubmitSegmentation(ctx context.Context, story string) (string, error)
	SubmitCartoonify(ctx context.Context, image, characterID string) (string, error)
	SubmitBackground(ctx context.Context, description string, opts domain.Options, panelID string) (string, error)
}

// Composer produces the composed panel and strip artifacts.
type Composer interface {
	ComposePanel(ctx context.Context, jobID, panelID, backgroundURL string, placements []compose.Placement) (string, error)
	ComposeStrip(ctx context.Context, jobID string, panelURLs []string) (string, error)
}

// Orchestrator is the strip job state machine. All collaborators are
// injected; it holds no job state in memory across calls.
type Orchestrator struct {
	store     store.Store
	submitter Submitter
	composer  Composer
	logger    infra.Logger
	locks     *keyedMutex
	now       func() time.Time
}

// New wires an Orchestrator from its collaborators.
func New(st store.Store, submitter Submitter, composer Composer, logger infra.Logger) *Orchestrator {
	return &Orchestrator{
		store:     st,
		submitter: submitter,
		composer:  composer,
		logger:    logger,
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// JobSummary is the caller-facing view returned by StartJob and Status.
type JobSummary struct {
	JobID     string           `json:"job_id"`
	Status    domain.JobStatus `json:"status"`
	Progress  int              `json:"progress"`
	OutputURL string           `json:"output_url,omitempty"`
	Error     string           `json:"error,omitempty"`
	Output    *domain.Output   `json:"output,omitempty"`
}

func summarize(s *domain.Strip) JobSummary {
	sum := JobSummary{JobID: s.ID, Status: s.Status, Progress: s.Progress}
	if s.Output != nil {
		sum.OutputURL = s.Output.URL
		sum.Output = s.Output
	}
	if s.Failure != nil {
		sum.Error = fmt.Sprintf("%s: %s", s.Failure.Phase, s.Failure.Reason)
	}
	return sum
}

// StartJob validates the input, persists a new job, and triggers the first
// advance. A failure to progress past creation leaves the job retrievable in
// failed state; only validation and storage errors surface to the caller.
func (o *Orchestrator) StartJob(ctx context.Context, story string, characters []*domain.Character, opts domain.Options) (JobSummary, error) {
	if err := validateInput(story, characters); err != nil {
		return JobSummary{}, err
	}

	now := o.now()
	s := &domain.Strip{
		ID:         uuid.NewString(),
		Status:     domain.JobStatusInit,
		Story:      strings.TrimSpace(story),
		Options:    opts,
		Characters: characters,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, c := range s.Characters {
		c.Status = domain.ItemPending
	}
	tracker.InitPhases(s, now)

	if err := o.store.PutStrip(ctx, s); err != nil {
		return JobSummary{}, fmt.Errorf("persist new job: %w", err)
	}
	o.logger.Info().Str("job_id", s.ID).Int("characters", len(characters)).Msg("orchestrator: job created")

	if err := o.Advance(ctx, s.ID); err != nil {
		// Progression failed after the job exists; record the failure so
		// the caller can observe it through the status surface.
		o.logger.Error().Err(err).Str("job_id", s.ID).Msg("orchestrator: initial advance failed")
		if failErr := o.Fail(ctx, s.ID, domain.PhaseNLP, err.Error()); failErr != nil {
			o.logger.Error().Err(failErr).Str("job_id", s.ID).Msg("orchestrator: could not record failure")
		}
	}

	current, err := o.store.GetStrip(ctx, s.ID)
	if err != nil {
		return JobSummary{}, err
	}
	return summarize(current), nil
}

func validateInput(story string, characters []*domain.Character) error {
	if strings.TrimSpace(story) == "" {
		return &domain.ValidationError{Field: "story"}
	}
	if len(characters) == 0 {
		return &domain.ValidationError{Field: "characters"}
	}
	for i, c := range characters {
		switch {
		case strings.TrimSpace(c.ID) == "":
			return &domain.ValidationError{Field: fmt.Sprintf("characters[%d].id", i)}
		case strings.TrimSpace(c.Name) == "":
			return &domain.ValidationError{Field: fmt.Sprintf("characters[%d].name", i)}
		case strings.TrimSpace(c.Image) == "":
			return &domain.ValidationError{Field: fmt.Sprintf("characters[%d].image", i)}
		}
	}
	return nil
}

// Status returns the caller-facing view of a job.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (JobSummary, error) {
	s, err := o.store.GetStrip(ctx, jobID)
	if err != nil {
		return JobSummary{}, err
	}
	return summarize(s), nil
}

// Fail moves a job to its terminal failed state. Calls against an already
// terminal job are logged no-ops.
func (o *Orchestrator) Fail(ctx context.Context, jobID string, phase domain.PhaseName, reason string) error {
	_, err := o.mutate(ctx, jobID, func(s *domain.Strip) (bool, error) {
		if s.Status.Terminal() {
			o.logger.Debug().Str("job_id", jobID).Msg("orchestrator: fail on terminal job ignored")
			return false, nil
		}
		o.applyFailure(s, phase, reason)
		return true, nil
	})
	return err
}

// applyFailure records terminal failure state. Caller holds the job lock.
func (o *Orchestrator) applyFailure(s *domain.Strip, phase domain.PhaseName, reason string) {
	if s.Status.Terminal() {
		return
	}
	s.Status = domain.JobStatusFailed
	s.Failure = &domain.Failure{Phase: phase, Reason: reason, FailedAt: o.now()}
	o.logger.Warn().
		Str("job_id", s.ID).
		Str("phase", string(phase)).
		Str("reason", reason).
		Msg("orchestrator: job failed")
}

// mutate runs fn on the current job state under the per-job lock and persists
// the result when fn asks for a write. The write error propagates: a state
// change that could not be recorded must not be acted upon.
func (o *Orchestrator) mutate(ctx context.Context, jobID string, fn func(*domain.Strip) (bool, error)) (*domain.Strip, error) {
	unlock := o.locks.Lock(jobID)
	defer unlock()

	s, err := o.store.GetStrip(ctx, jobID)
	if err != nil {
		return nil, err
	}
	write, err := fn(s)
	if err != nil {
		return s, err
	}
	if !write {
		return s, nil
	}
	s.UpdatedAt = o.now()
	if err := o.store.PutStrip(ctx, s); err != nil {
		return s, fmt.Errorf("persist job %s: %w", jobID, err)
	}
	return s, nil
}

// strictPhase reports whether a single failed item fails the whole job.
// Composition is the lenient exception: one composed panel is enough.
func strictPhase(name domain.PhaseName) bool {
	return name != domain.PhaseComposition
}

// aggregateFailure summarizes a phase's failed items into one reason string.
func aggregateFailure(ps *domain.PhaseState) string {
	failed := tracker.FailedItems(ps)
	parts := make([]string, 0, len(failed))
	for _, it := range failed {
		msg := it.Error
		if msg == "" {
			msg = "failed"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", it.ID, msg))
	}
	return strings.Join(parts, "; ")
}
