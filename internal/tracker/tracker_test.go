package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impara/comicgen/internal/domain"
)

func newStrip(characters ...string) *domain.Strip {
	s := &domain.Strip{
		ID:     "job-1",
		Status: domain.JobStatusInit,
		Story:  "A hero saves the city.",
	}
	for _, id := range characters {
		s.Characters = append(s.Characters, &domain.Character{ID: id, Name: id, Image: "data:image/png;base64,xx"})
	}
	InitPhases(s, time.Now())
	return s
}

func TestInitPhasesSeedsAllItems(t *testing.T) {
	s := newStrip("c1", "c2")

	require.Len(t, s.Phases, 4)
	assert.Len(t, s.Phase(domain.PhaseNLP).Items, 1)
	assert.Len(t, s.Phase(domain.PhaseCharacters).Items, 2)
	assert.Len(t, s.Phase(domain.PhaseBackgrounds).Items, domain.PanelCount)
	assert.Len(t, s.Phase(domain.PhaseComposition).Items, domain.PanelCount)
	assert.Equal(t, 0, s.Progress)

	for _, ps := range s.Phases {
		assert.Equal(t, domain.PhasePending, ps.Status)
		for _, item := range ps.Items {
			assert.Equal(t, domain.ItemPending, item.Status)
		}
	}
}

func TestApplyItemCompletesPhase(t *testing.T) {
	s := newStrip("c1")
	now := time.Now()

	item, err := ApplyItem(s, domain.PhaseNLP, domain.NLPItemID, Update{Status: domain.ItemCompleted, Result: "segmented"}, now)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemCompleted, item.Status)
	assert.Equal(t, domain.PhaseCompleted, s.Phase(domain.PhaseNLP).Status)

	// 1 of 10 items done (1 nlp + 1 character + 4 backgrounds + 4 composition).
	assert.Equal(t, 10, s.Progress)
}

func TestApplyItemUnknownTargets(t *testing.T) {
	s := newStrip("c1")

	_, err := ApplyItem(s, domain.PhaseCharacters, "nope", Update{Status: domain.ItemCompleted}, time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = ApplyItem(s, domain.PhaseName("bogus"), "c1", Update{Status: domain.ItemCompleted}, time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProgressMonotonicAcrossUpdates(t *testing.T) {
	s := newStrip("c1", "c2", "c3")
	now := time.Now()
	last := s.Progress

	steps := []struct {
		phase  domain.PhaseName
		itemID string
		status domain.ItemStatus
	}{
		{domain.PhaseNLP, domain.NLPItemID, domain.ItemCompleted},
		{domain.PhaseCharacters, "c2", domain.ItemProcessing},
		{domain.PhaseCharacters, "c2", domain.ItemCompleted},
		{domain.PhaseCharacters, "c1", domain.ItemCompleted},
		{domain.PhaseCharacters, "c3", domain.ItemFailed},
		{domain.PhaseBackgrounds, "panel-1", domain.ItemCompleted},
		{domain.PhaseBackgrounds, "panel-3", domain.ItemCompleted},
	}
	for _, step := range steps {
		_, err := ApplyItem(s, step.phase, step.itemID, Update{Status: step.status}, now)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s.Progress, last, "progress regressed at %s/%s", step.phase, step.itemID)
		last = s.Progress
	}
}

func TestStrictPhaseFailsOnAnyItem(t *testing.T) {
	s := newStrip("c1", "c2")
	now := time.Now()

	_, err := ApplyItem(s, domain.PhaseCharacters, "c1", Update{Status: domain.ItemFailed, Error: "boom"}, now)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFailed, s.Phase(domain.PhaseCharacters).Status)

	failed := FailedItems(s.Phase(domain.PhaseCharacters))
	require.Len(t, failed, 1)
	assert.Equal(t, "c1", failed[0].ID)
	assert.Equal(t, "boom", failed[0].Error)
}

func TestCompositionPhaseIsLenient(t *testing.T) {
	s := newStrip("c1")
	now := time.Now()

	// Two panels compose, two fail: the phase still completes.
	for i, status := range []domain.ItemStatus{domain.ItemCompleted, domain.ItemFailed, domain.ItemCompleted, domain.ItemFailed} {
		_, err := ApplyItem(s, domain.PhaseComposition, PanelIDs()[i], Update{Status: status}, now)
		require.NoError(t, err)
	}
	assert.Equal(t, domain.PhaseCompleted, s.Phase(domain.PhaseComposition).Status)
}

func TestCompositionPhaseAllFailed(t *testing.T) {
	s := newStrip("c1")
	now := time.Now()

	for _, id := range PanelIDs() {
		_, err := ApplyItem(s, domain.PhaseComposition, id, Update{Status: domain.ItemFailed, Error: "fetch"}, now)
		require.NoError(t, err)
	}
	assert.Equal(t, domain.PhaseFailed, s.Phase(domain.PhaseComposition).Status)
}

func TestEmptyPhaseNeverAutoCompletes(t *testing.T) {
	s := newStrip("c1")
	s.Phase(domain.PhaseCharacters).Items = map[string]*domain.ItemState{}

	recomputePhase(s.Phase(domain.PhaseCharacters))
	assert.Equal(t, domain.PhasePending, s.Phase(domain.PhaseCharacters).Status)
}

func TestRecomputeHandlesNoItems(t *testing.T) {
	s := &domain.Strip{ID: "empty"}
	Recompute(s)
	assert.Equal(t, 0, s.Progress)
}
