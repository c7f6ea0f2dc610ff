package domain

import "time"

// JobStatus enumerates strip job lifecycle states. Transitions only move
// forward: init -> processing -> completed|failed.
type JobStatus string

const (
	JobStatusInit       JobStatus = "init"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether a job status accepts no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// PhaseName enumerates the pipeline stages in dispatch order.
type PhaseName string

const (
	PhaseNLP         PhaseName = "nlp"
	PhaseCharacters  PhaseName = "characters"
	PhaseBackgrounds PhaseName = "backgrounds"
	PhaseComposition PhaseName = "composition"
)

// PhaseOrder is the strict pipeline sequence; phase N never dispatches before
// phase N-1 is completed.
var PhaseOrder = []PhaseName{PhaseNLP, PhaseCharacters, PhaseBackgrounds, PhaseComposition}

// PhaseStatus enumerates aggregate phase states.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseProcessing PhaseStatus = "processing"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
)

// ItemStatus enumerates per-item states within a phase.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// PanelCount is the fixed strip length. The NLP phase must segment every
// story into exactly this many panel descriptions.
const PanelCount = 4

// NLPItemID is the id of the single segmentation item in the nlp phase.
const NLPItemID = "story"

// Options carries the caller-selected rendering knobs.
type Options struct {
	Style      string `json:"style,omitempty"`
	Background string `json:"background,omitempty"`
}

// Character is one cast member of a strip, processed exactly once and reused
// in every composed panel.
type Character struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Image         string     `json:"image"`
	Status        ItemStatus `json:"status"`
	CartoonifyURL string     `json:"cartoonify_url,omitempty"`
}

// Panel is one of the fixed four scenes making up a strip.
type Panel struct {
	ID            string     `json:"id"`
	Description   string     `json:"description,omitempty"`
	BackgroundURL string     `json:"background_url,omitempty"`
	ComposedURL   string     `json:"composed_url,omitempty"`
	Status        ItemStatus `json:"status"`
}

// ItemState is one unit of parallel work inside a phase: a character to
// cartoonify, a panel needing a background, or a panel to compose.
type ItemState struct {
	ID        string     `json:"id"`
	Status    ItemStatus `json:"status"`
	Handle    string     `json:"external_handle,omitempty"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// PhaseState tracks one pipeline stage and its items.
type PhaseState struct {
	Name   PhaseName             `json:"name"`
	Status PhaseStatus           `json:"status"`
	Items  map[string]*ItemState `json:"items"`
}

// PanelResult records one composition attempt, success or failure.
type PanelResult struct {
	PanelID     string `json:"panel_id"`
	ComposedURL string `json:"composed_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Output is the final artifact reference once a job completes.
type Output struct {
	URL      string        `json:"url"`
	StripURL string        `json:"strip_url,omitempty"`
	Panels   []PanelResult `json:"panels,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
}

// Failure records the terminal failure of a job.
type Failure struct {
	Phase    PhaseName `json:"phase"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// Strip is the durable record of one comic-generation job. The StateStore is
// its sole owner; every operation re-reads, mutates, and writes back.
// Progress is a cache derived from phase item completion and is never treated
// as a source of truth.
type Strip struct {
	ID         string                    `json:"id"`
	Status     JobStatus                 `json:"status"`
	Story      string                    `json:"story"`
	Options    Options                   `json:"options"`
	Characters []*Character              `json:"characters"`
	Panels     []*Panel                  `json:"panels,omitempty"`
	Phases     map[PhaseName]*PhaseState `json:"phases"`
	Progress   int                       `json:"progress"`
	Output     *Output                   `json:"output,omitempty"`
	Failure    *Failure                  `json:"failure,omitempty"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// Phase returns the named phase state, creating nothing.
func (s *Strip) Phase(name PhaseName) *PhaseState {
	if s.Phases == nil {
		return nil
	}
	return s.Phases[name]
}

// Character returns the cast member with the given id, or nil.
func (s *Strip) Character(id string) *Character {
	for _, c := range s.Characters {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Panel returns the panel with the given id, or nil.
func (s *Strip) Panel(id string) *Panel {
	for _, p := range s.Panels {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// CompletedCharacters returns the cast members whose cartoonify result is
// available, in declaration order. Every composed panel uses all of them.
func (s *Strip) CompletedCharacters() []*Character {
	out := make([]*Character, 0, len(s.Characters))
	for _, c := range s.Characters {
		if c.Status == ItemCompleted && c.CartoonifyURL != "" {
			out = append(out, c)
		}
	}
	return out
}

// HandleRef locates the item that owns a pending external handle.
type HandleRef struct {
	JobID  string    `json:"job_id"`
	Phase  PhaseName `json:"phase"`
	ItemID string    `json:"item_id"`
}
