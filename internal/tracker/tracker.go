// Package tracker holds the pure state-merge helpers for strip jobs: phase
// initialization, per-item updates, and progress recomputation. All functions
// mutate the passed Strip in place and perform a single linear recompute;
// persistence and locking are the orchestrator's concern.
package tracker

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/impara/comicgen/internal/domain"
)

// Update is a partial merge into one item's slot. Zero-valued fields are
// left untouched.
type Update struct {
	Status domain.ItemStatus
	Handle string
	Result string
	Error  string
}

// InitPhases seeds every pipeline phase with pending items at job creation.
// Item ids are known up front (one story item, one item per character, one
// per fixed panel slot), so the progress denominator stays constant for the
// life of the job and progress can only grow.
func InitPhases(s *domain.Strip, now time.Time) {
	s.Phases = make(map[domain.PhaseName]*domain.PhaseState, len(domain.PhaseOrder))

	charIDs := make([]string, 0, len(s.Characters))
	for _, c := range s.Characters {
		charIDs = append(charIDs, c.ID)
	}

	s.Phases[domain.PhaseNLP] = newPhase(domain.PhaseNLP, []string{domain.NLPItemID}, now)
	s.Phases[domain.PhaseCharacters] = newPhase(domain.PhaseCharacters, charIDs, now)
	s.Phases[domain.PhaseBackgrounds] = newPhase(domain.PhaseBackgrounds, PanelIDs(), now)
	s.Phases[domain.PhaseComposition] = newPhase(domain.PhaseComposition, PanelIDs(), now)
	s.Progress = 0
}

// PanelIDs returns the fixed panel slot ids, panel-1 through panel-4.
func PanelIDs() []string {
	ids := make([]string, domain.PanelCount)
	for i := range ids {
		ids[i] = fmt.Sprintf("panel-%d", i+1)
	}
	return ids
}

func newPhase(name domain.PhaseName, itemIDs []string, now time.Time) *domain.PhaseState {
	items := make(map[string]*domain.ItemState, len(itemIDs))
	for _, id := range itemIDs {
		items[id] = &domain.ItemState{ID: id, Status: domain.ItemPending, UpdatedAt: now}
	}
	return &domain.PhaseState{Name: name, Status: domain.PhasePending, Items: items}
}

// ApplyItem merges an update into one item, recomputes the owning phase's
// aggregate status, and refreshes job progress. It returns the updated item.
func ApplyItem(s *domain.Strip, phase domain.PhaseName, itemID string, u Update, now time.Time) (*domain.ItemState, error) {
	ps := s.Phase(phase)
	if ps == nil {
		return nil, fmt.Errorf("phase %q: %w", phase, domain.ErrNotFound)
	}
	item, ok := ps.Items[itemID]
	if !ok {
		return nil, fmt.Errorf("phase %q item %q: %w", phase, itemID, domain.ErrNotFound)
	}

	if u.Status != "" {
		item.Status = u.Status
	}
	if u.Handle != "" {
		item.Handle = u.Handle
	}
	if u.Result != "" {
		item.Result = u.Result
	}
	if u.Error != "" {
		item.Error = u.Error
	}
	item.UpdatedAt = now

	recomputePhase(ps)
	Recompute(s)
	s.UpdatedAt = now
	return item, nil
}

// recomputePhase derives the aggregate phase status from its items. The
// composition phase is lenient: one composed panel is enough to call it
// completed. All other phases complete only when every item completed and
// fail as soon as any item failed. A phase with no items never
// auto-completes.
func recomputePhase(ps *domain.PhaseState) {
	if len(ps.Items) == 0 {
		return
	}
	var completed, failed, pending int
	for _, it := range ps.Items {
		switch it.Status {
		case domain.ItemCompleted:
			completed++
		case domain.ItemFailed:
			failed++
		case domain.ItemPending:
			pending++
		}
	}

	settled := completed+failed == len(ps.Items)
	if ps.Name == domain.PhaseComposition {
		switch {
		case settled && completed > 0:
			ps.Status = domain.PhaseCompleted
		case settled:
			ps.Status = domain.PhaseFailed
		case pending < len(ps.Items):
			ps.Status = domain.PhaseProcessing
		}
		return
	}

	switch {
	case completed == len(ps.Items):
		ps.Status = domain.PhaseCompleted
	case failed > 0:
		ps.Status = domain.PhaseFailed
	case pending < len(ps.Items):
		ps.Status = domain.PhaseProcessing
	}
}

// Recompute refreshes the cached progress percentage from item completion
// ratios. Completed items never revert, and the item set is fixed at
// creation, so successive recomputations are monotonically non-decreasing.
func Recompute(s *domain.Strip) {
	var total, completed int
	for _, ps := range s.Phases {
		for _, it := range ps.Items {
			total++
			if it.Status == domain.ItemCompleted {
				completed++
			}
		}
	}
	if total == 0 {
		s.Progress = 0
		return
	}
	s.Progress = int(math.Round(100 * float64(completed) / float64(total)))
}

// FailedItems lists the items of a phase that ended in failure, for error
// aggregation.
func FailedItems(ps *domain.PhaseState) []*domain.ItemState {
	var out []*domain.ItemState
	for _, id := range sortedItemIDs(ps) {
		if it := ps.Items[id]; it.Status == domain.ItemFailed {
			out = append(out, it)
		}
	}
	return out
}

func sortedItemIDs(ps *domain.PhaseState) []string {
	ids := make([]string, 0, len(ps.Items))
	for id := range ps.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
