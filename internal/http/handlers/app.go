package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/impara/comicgen/internal/infra"
	"github.com/impara/comicgen/internal/orchestrator"
)

// App is the handler container: thin controllers over the orchestrator.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Logger       infra.Logger
	validate     *validator.Validate
}

// NewApp wires the handler container.
func NewApp(orc *orchestrator.Orchestrator, logger infra.Logger) *App {
	return &App{
		Orchestrator: orc,
		Logger:       logger,
		validate:     validator.New(),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
