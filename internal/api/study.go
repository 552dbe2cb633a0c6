package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/studia/internal/domain"
	"github.com/ashureev/studia/internal/llm"
)

// defaultMaxFormSize bounds POST /research bodies.
const defaultMaxFormSize = 1 << 20

// ProfileStatus handles GET /profile/status for onboarding routing.
func (h *Handler) ProfileStatus(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]bool{"exists": h.profile.Exists()})
}

// Progress handles GET /progress.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	summary, err := h.progress.Summary(r.Context())
	if err != nil {
		slog.Error("failed to summarize progress", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	JSON(w, http.StatusOK, summary)
}

// Research handles POST /research with form fields type (company or jd)
// and value. An unknown type yields an empty result.
func (h *Handler) Research(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxFormSize)
	if err := r.ParseForm(); err != nil {
		Error(w, http.StatusBadRequest, "invalid form body")
		return
	}
	kind := strings.ToLower(strings.TrimSpace(r.PostForm.Get("type")))
	value := strings.TrimSpace(r.PostForm.Get("value"))
	if kind == "" || value == "" {
		Error(w, http.StatusBadRequest, "type and value are required")
		return
	}

	var (
		result domain.ResearchResult
		err    error
	)
	switch kind {
	case "company":
		result, err = h.research.ResearchCompany(r.Context(), value)
	case "jd":
		result, err = h.research.ParseJD(r.Context(), value)
	default:
		JSON(w, http.StatusOK, domain.ResearchResult{TopicsToPrioritise: []string{}})
		return
	}
	if err != nil {
		slog.Error("research failed", "type", kind, "error", err)
		status := http.StatusInternalServerError
		if llm.IsBackendError(err) {
			status = http.StatusBadGateway
		}
		Error(w, status, err.Error())
		return
	}
	if result.TopicsToPrioritise == nil {
		result.TopicsToPrioritise = []string{}
	}
	JSON(w, http.StatusOK, result)
}
