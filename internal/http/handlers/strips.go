package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/impara/comicgen/internal/domain"
)

type characterRequest struct {
	ID    string `json:"id"    validate:"required"`
	Name  string `json:"name"  validate:"required"`
	Image string `json:"image" validate:"required"`
}

type createStripRequest struct {
	Story      string             `json:"story"      validate:"required"`
	Characters []characterRequest `json:"characters" validate:"required,min=1,dive"`
	Style      string             `json:"style"`
	Background string             `json:"background"`
}

// StripsCreate accepts a story plus cast and starts a generation job. The
// job is created before the first phase dispatches, so even an immediate
// progression failure leaves a retrievable job in failed state.
func (a *App) StripsCreate(w http.ResponseWriter, r *http.Request) {
	var req createStripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "validation_error", validationMessage(err))
		return
	}

	characters := make([]*domain.Character, 0, len(req.Characters))
	for _, c := range req.Characters {
		characters = append(characters, &domain.Character{ID: c.ID, Name: c.Name, Image: c.Image})
	}
	opts := domain.Options{Style: req.Style, Background: req.Background}

	summary, err := a.Orchestrator.StartJob(r.Context(), req.Story, characters, opts)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			a.error(w, http.StatusBadRequest, "validation_error", ve.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("handlers: start job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}
	a.json(w, http.StatusAccepted, summary)
}

// StripsStatus is the polling surface: status, progress, and the output or
// failure summary. Internal detail stays in the operational log.
func (a *App) StripsStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	summary, err := a.Orchestrator.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: status lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, summary)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return fmt.Sprintf("field %q failed %q validation", f.Namespace(), f.Tag())
	}
	return "invalid payload"
}
