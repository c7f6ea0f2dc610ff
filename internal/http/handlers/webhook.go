package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/impara/comicgen/internal/domain"
	"github.com/impara/comicgen/internal/providers/inference"
)

// InferenceCallback is the webhook ingress for the inference API. It
// acknowledges promptly: the upstream caller cannot act on our processing
// problems, so anything past payload decoding is logged rather than reflected
// in the response.
func (a *App) InferenceCallback(w http.ResponseWriter, r *http.Request) {
	var cb inference.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	if err := a.Orchestrator.OnCallback(r.Context(), cb); err != nil {
		if errors.Is(err, domain.ErrCallback) {
			a.Logger.Warn().Err(err).Str("handle", cb.Handle).Msg("handlers: unattributable callback")
		} else {
			a.Logger.Error().Err(err).Str("handle", cb.Handle).Msg("handlers: callback processing failed")
		}
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
