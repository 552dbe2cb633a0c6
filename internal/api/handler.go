// Package api provides the non-chat HTTP handlers of the Studia API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/studia/internal/domain"
	"github.com/go-chi/chi/v5"
)

// ProfileStatus reports whether onboarding produced a profile.
type ProfileStatus interface {
	Exists() bool
}

// ProgressReporter summarizes the learner's topic scores.
type ProgressReporter interface {
	Summary(ctx context.Context) (domain.ProgressSummary, error)
}

// Researcher runs company research and job description analysis.
type Researcher interface {
	ResearchCompany(ctx context.Context, company string) (domain.ResearchResult, error)
	ParseJD(ctx context.Context, jdText string) (domain.ResearchResult, error)
}

// Handler serves the study endpoints.
type Handler struct {
	profile  ProfileStatus
	progress ProgressReporter
	research Researcher
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(profile ProfileStatus, progress ProgressReporter, research Researcher) *Handler {
	return &Handler{
		profile:  profile,
		progress: progress,
		research: research,
	}
}

// RegisterRoutes registers the study routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/profile/status", h.ProfileStatus)
	r.Get("/progress", h.Progress)
	r.Post("/research", h.Research)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
