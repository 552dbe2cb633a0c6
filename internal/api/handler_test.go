//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ashureev/studia/internal/domain"
	"github.com/ashureev/studia/internal/llm"
	"github.com/go-chi/chi/v5"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

type fakeProfile bool

func (f fakeProfile) Exists() bool { return bool(f) }

type fakeProgress struct{}

func (fakeProgress) Summary(context.Context) (domain.ProgressSummary, error) {
	return domain.ProgressSummary{
		Weak:          []domain.ProgressEntry{{ID: "dsa.dp", Label: "DP", Score: 0.2}},
		Strong:        []domain.ProgressEntry{},
		SuggestedNext: "dsa.dp",
	}, nil
}

type fakeResearch struct {
	err error
}

func (f fakeResearch) ResearchCompany(_ context.Context, company string) (domain.ResearchResult, error) {
	if f.err != nil {
		return domain.ResearchResult{}, f.err
	}
	return domain.ResearchResult{Summary: company + " runs three rounds"}, nil
}

func (f fakeResearch) ParseJD(_ context.Context, text string) (domain.ResearchResult, error) {
	return domain.ResearchResult{Summary: "jd", GapAnalysis: text, TopicsToPrioritise: []string{"sd.rl"}}, nil
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestProfileStatus(t *testing.T) {
	t.Parallel()

	for _, exists := range []bool{true, false} {
		rec := httptest.NewRecorder()
		newRouter(NewHandler(fakeProfile(exists), fakeProgress{}, fakeResearch{})).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profile/status", nil))

		var got map[string]bool
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if got["exists"] != exists {
			t.Fatalf("expected exists=%v, got %v", exists, got)
		}
	}
}

func TestProgress(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newRouter(NewHandler(fakeProfile(true), fakeProgress{}, fakeResearch{})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got domain.ProgressSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.SuggestedNext != "dsa.dp" || len(got.Weak) != 1 {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestResearch(t *testing.T) {
	t.Parallel()

	backendErr := &llm.BackendError{Backend: "fake", Op: "generate", Err: errors.New("down")}
	tests := []struct {
		name        string
		research    fakeResearch
		form        url.Values
		wantStatus  int
		wantSummary string
	}{
		{name: "company", form: url.Values{"type": {"company"}, "value": {"Acme"}}, wantStatus: http.StatusOK, wantSummary: "Acme runs three rounds"},
		{name: "jd", form: url.Values{"type": {"JD"}, "value": {"Go, Kafka"}}, wantStatus: http.StatusOK, wantSummary: "jd"},
		{name: "unknown type", form: url.Values{"type": {"podcast"}, "value": {"x"}}, wantStatus: http.StatusOK, wantSummary: ""},
		{name: "missing value", form: url.Values{"type": {"company"}}, wantStatus: http.StatusBadRequest},
		{name: "backend down", research: fakeResearch{err: backendErr}, form: url.Values{"type": {"company"}, "value": {"Acme"}}, wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/research", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			newRouter(NewHandler(fakeProfile(true), fakeProgress{}, tt.research)).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var got domain.ResearchResult
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if got.Summary != tt.wantSummary {
				t.Fatalf("summary = %q, want %q", got.Summary, tt.wantSummary)
			}
			if got.TopicsToPrioritise == nil {
				t.Fatal("topics_to_prioritise must never be null")
			}
		})
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	t.Parallel()

	down := errors.New("down")
	tests := []struct {
		name       string
		repo       Pinger
		model      Pinger
		wantCode   int
		wantStatus string
	}{
		{name: "healthy", repo: fakePinger{}, model: fakePinger{}, wantCode: http.StatusOK, wantStatus: "healthy"},
		{name: "model down", repo: fakePinger{}, model: fakePinger{err: down}, wantCode: http.StatusOK, wantStatus: "degraded"},
		{name: "database down", repo: fakePinger{err: down}, model: fakePinger{}, wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := chi.NewRouter()
			NewHealthHandler(tt.repo, tt.model, 0).RegisterHealth(r)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			var got struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Fatalf("status = %q, want %q", got.Status, tt.wantStatus)
			}
		})
	}
}
