package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/studia/internal/domain"
	"github.com/ashureev/studia/internal/store"
)

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	results map[string][]string
	fail    map[string]bool
}

func (f *fakeSearcher) Search(_ context.Context, query string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.fail[query] {
		return nil, errors.New("rate limited")
	}
	out := f.results[query]
	return out[:min(len(out), limit)], nil
}

type fakeCompleter struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (f *fakeCompleter) CompleteOnce(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]*store.ResearchEntry
}

func (m *memCache) GetResearch(_ context.Context, key string) (*store.ResearchEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[key], nil
}

func (m *memCache) PutResearch(_ context.Context, e *store.ResearchEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Key] = e
	return nil
}

type staticProfile struct{ p *domain.Profile }

func (s staticProfile) Load() (*domain.Profile, error) { return s.p, nil }

func TestResearchCompanyCapsSnippetsAndCaches(t *testing.T) {
	t.Parallel()

	queries := companyQueries("Acme")
	search := &fakeSearcher{
		results: map[string][]string{
			queries[0]: {"a1", "a2", "a3"},
			queries[1]: {"b1", "b2", "b3"},
			queries[2]: {"c1"},
		},
		fail: map[string]bool{queries[3]: true},
	}
	model := &fakeCompleter{reply: "Acme does three rounds"}
	cache := &memCache{entries: map[string]*store.ResearchEntry{}}
	svc := NewService(search, model, cache, nil, nil, Config{MaxSources: 2, CacheTTL: 24 * time.Hour}, nil)

	result, err := svc.ResearchCompany(context.Background(), "  Acme ")
	if err != nil {
		t.Fatalf("ResearchCompany failed: %v", err)
	}
	if result.Summary != "Acme does three rounds" || result.TopicsToPrioritise == nil {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(search.queries) != 2 {
		t.Fatalf("expected queries capped at MaxSources, got %v", search.queries)
	}
	prompt := model.prompts[0]
	if !strings.Contains(prompt, "a1\n\na2\n\na3\n\nb1") || strings.Contains(prompt, "b2") {
		t.Fatalf("expected 4 snippets in query order, got prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "under 300 words") {
		t.Fatal("expected word bound in prompt")
	}
	if cache.entries["acme"] == nil {
		t.Fatal("expected result cached under lower-cased key")
	}

	again, err := svc.ResearchCompany(context.Background(), "ACME")
	if err != nil {
		t.Fatalf("cached ResearchCompany failed: %v", err)
	}
	if again.Summary != result.Summary || len(model.prompts) != 1 {
		t.Fatalf("expected cache hit, prompts=%d", len(model.prompts))
	}
}

func TestResearchCompanyExpiredCache(t *testing.T) {
	t.Parallel()

	cache := &memCache{entries: map[string]*store.ResearchEntry{
		"acme": {Key: "acme", Result: domain.ResearchResult{Summary: "stale"}, FetchedAt: time.Now().Add(-8 * 24 * time.Hour)},
	}}
	search := &fakeSearcher{}
	model := &fakeCompleter{reply: "unused"}
	svc := NewService(search, model, cache, nil, nil, Config{MaxSources: 4, CacheTTL: 7 * 24 * time.Hour}, nil)

	result, err := svc.ResearchCompany(context.Background(), "Acme")
	if err != nil {
		t.Fatalf("ResearchCompany failed: %v", err)
	}
	if result.Summary != NoData {
		t.Fatalf("expected %q, got %q", NoData, result.Summary)
	}
	if len(model.prompts) != 0 {
		t.Fatal("model must not be called without snippets")
	}
	if len(search.queries) != 4 {
		t.Fatalf("expected 4 queries, got %d", len(search.queries))
	}
}

func TestResearchCompanyModelFailure(t *testing.T) {
	t.Parallel()

	q := companyQueries("Acme")[0]
	search := &fakeSearcher{results: map[string][]string{q: {"x"}}}
	svc := NewService(search, &fakeCompleter{err: errors.New("backend down")}, nil, nil, nil, Config{MaxSources: 1}, nil)

	if _, err := svc.ResearchCompany(context.Background(), "Acme"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := svc.ResearchCompany(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty company")
	}
}

func TestParseJD(t *testing.T) {
	t.Parallel()

	curriculum := []domain.Topic{{ID: "dsa.dp"}, {ID: "sd.rate_limiter"}, {ID: "py.gil"}}
	model := &fakeCompleter{reply: "Focus on sd.rate_limiter and then dsa.dp. " + strings.Repeat("x", 600)}
	profile := staticProfile{p: &domain.Profile{Name: "Sam", NeedsDepth: []string{"system design"}}}
	svc := NewService(&fakeSearcher{}, model, nil, profile, curriculum, Config{}, nil)

	result, err := svc.ParseJD(context.Background(), "We need Go, Kafka and rate limiting experience.")
	if err != nil {
		t.Fatalf("ParseJD failed: %v", err)
	}
	if len([]rune(result.Summary)) != 500 {
		t.Fatalf("expected 500-rune summary, got %d", len([]rune(result.Summary)))
	}
	if result.GapAnalysis != model.reply {
		t.Fatal("gap analysis must carry the full reply")
	}
	if len(result.TopicsToPrioritise) != 2 || result.TopicsToPrioritise[0] != "dsa.dp" || result.TopicsToPrioritise[1] != "sd.rate_limiter" {
		t.Fatalf("unexpected topics %v", result.TopicsToPrioritise)
	}

	prompt := model.prompts[0]
	for _, want := range []string{"Kafka", `"name": "Sam"`, "dsa.dp, sd.rate_limiter, py.gil"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("expected %q in prompt:\n%s", want, prompt)
		}
	}

	if _, err := svc.ParseJD(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty job description")
	}
}
