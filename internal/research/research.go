// Package research summarizes company interview processes from web snippets
// and analyses job descriptions against the learner profile.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/studia/internal/domain"
	"github.com/ashureev/studia/internal/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// NoData is the summary reported when no snippets were found.
const NoData = "No data found."

const (
	snippetsPerQuery = 3
	maxPromptText    = 8000
	maxProfileJSON   = 2000
	jdSummaryRunes   = 500
)

// Completer runs a single-shot model completion.
type Completer interface {
	CompleteOnce(ctx context.Context, prompt string) (string, error)
}

// Cache stores research results.
type Cache interface {
	GetResearch(ctx context.Context, key string) (*store.ResearchEntry, error)
	PutResearch(ctx context.Context, entry *store.ResearchEntry) error
}

// ProfileLoader provides the learner profile.
type ProfileLoader interface {
	Load() (*domain.Profile, error)
}

// Config bounds research.
type Config struct {
	MaxSources int
	CacheTTL   time.Duration
}

// Service performs company research and job description analysis.
type Service struct {
	search     Searcher
	model      Completer
	cache      Cache
	profile    ProfileLoader
	curriculum []domain.Topic
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
	inflight   singleflight.Group
}

// NewService creates a research service. cache may be nil.
func NewService(search Searcher, model Completer, cache Cache, profile ProfileLoader, curriculum []domain.Topic, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		search:     search,
		model:      model,
		cache:      cache,
		profile:    profile,
		curriculum: curriculum,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

func companyQueries(company string) []string {
	return []string{
		fmt.Sprintf("site:leetcode.com/discuss %s interview experience", company),
		fmt.Sprintf("site:teamblind.com %s interview", company),
		fmt.Sprintf("%s software engineer interview questions site:glassdoor.com", company),
		fmt.Sprintf("%s interview prep questions site:github.com", company),
	}
}

// ResearchCompany summarizes the interview process at company. Results are
// cached per lower-cased company name.
func (s *Service) ResearchCompany(ctx context.Context, company string) (domain.ResearchResult, error) {
	company = strings.TrimSpace(company)
	key := strings.ToLower(company)
	if key == "" {
		return domain.ResearchResult{}, errors.New("company is required")
	}

	if cached, ok := s.cached(ctx, key); ok {
		return cached, nil
	}

	v, err, _ := s.inflight.Do(key, func() (any, error) {
		return s.researchCompany(ctx, company, key)
	})
	if err != nil {
		return domain.ResearchResult{}, err
	}
	return v.(domain.ResearchResult), nil
}

func (s *Service) cached(ctx context.Context, key string) (domain.ResearchResult, bool) {
	if s.cache == nil {
		return domain.ResearchResult{}, false
	}
	entry, err := s.cache.GetResearch(ctx, key)
	if err != nil {
		s.logger.Warn("Research cache lookup failed", "key", key, "error", err)
		return domain.ResearchResult{}, false
	}
	if entry == nil || (s.cfg.CacheTTL > 0 && s.now().Sub(entry.FetchedAt) >= s.cfg.CacheTTL) {
		return domain.ResearchResult{}, false
	}
	s.logger.Debug("Research cache hit", "key", key, "fetched_at", entry.FetchedAt)
	return normalize(entry.Result), true
}

func (s *Service) researchCompany(ctx context.Context, company, key string) (domain.ResearchResult, error) {
	queries := companyQueries(company)
	queries = queries[:min(len(queries), s.cfg.MaxSources)]

	found := make([][]string, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			snippets, err := s.search.Search(gctx, q, snippetsPerQuery)
			if err != nil {
				s.logger.Warn("Research query failed", "company", company, "query", q, "error", err)
				return nil
			}
			found[i] = snippets
			return nil
		})
	}
	_ = g.Wait()

	var snippets []string
	for _, group := range found {
		snippets = append(snippets, group...)
	}
	snippets = snippets[:min(len(snippets), 2*s.cfg.MaxSources)]

	summary := NoData
	if text := strings.Join(snippets, "\n\n"); text != "" {
		out, err := s.model.CompleteOnce(ctx, companyPrompt(company, text))
		if err != nil {
			return domain.ResearchResult{}, fmt.Errorf("summarise research: %w", err)
		}
		summary = out
	}

	result := domain.ResearchResult{Summary: summary, TopicsToPrioritise: []string{}}
	s.logger.Info("Company research complete", "company", company, "snippets", len(snippets), "summary_chars", len(summary))

	if s.cache != nil {
		entry := &store.ResearchEntry{Key: key, Kind: "company", Result: result, FetchedAt: s.now()}
		if err := s.cache.PutResearch(ctx, entry); err != nil {
			s.logger.Warn("Research cache write failed", "key", key, "error", err)
		}
	}
	return result, nil
}

func companyPrompt(company, text string) string {
	return fmt.Sprintf(`Summarise the interview process at %s for backend/AI engineering roles.
Cover: number of rounds, types of rounds, technical topics commonly asked,
difficulty level, any patterns or tips. Be specific and concise.
Keep it under 300 words.

Raw content:
%s`, company, truncate(text, maxPromptText))
}

// ParseJD extracts requirements from a job description and cross-references
// them with the learner profile. Curriculum topic IDs named in the analysis
// are reported in TopicsToPrioritise.
func (s *Service) ParseJD(ctx context.Context, jdText string) (domain.ResearchResult, error) {
	jdText = strings.TrimSpace(jdText)
	if jdText == "" {
		return domain.ResearchResult{}, errors.New("job description is required")
	}

	profileJSON := "{}"
	if s.profile != nil {
		p, err := s.profile.Load()
		if err != nil {
			return domain.ResearchResult{}, fmt.Errorf("load profile: %w", err)
		}
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return domain.ResearchResult{}, fmt.Errorf("encode profile: %w", err)
		}
		profileJSON = truncate(string(data), maxProfileJSON)
	}

	resp, err := s.model.CompleteOnce(ctx, s.jdPrompt(jdText, profileJSON))
	if err != nil {
		return domain.ResearchResult{}, fmt.Errorf("analyse job description: %w", err)
	}

	return domain.ResearchResult{
		Summary:            truncate(resp, jdSummaryRunes),
		GapAnalysis:        resp,
		TopicsToPrioritise: s.mentionedTopics(resp),
	}, nil
}

func (s *Service) jdPrompt(jdText, profileJSON string) string {
	ids := make([]string, 0, len(s.curriculum))
	for _, t := range s.curriculum {
		ids = append(ids, t.ID)
	}
	topicList := "python.internals.gil, dsa.dp.2d_patterns, system_design.rate_limiter, ml.llm.rag_pipeline"
	if len(ids) > 0 {
		topicList = strings.Join(ids, ", ")
	}

	return fmt.Sprintf(`Extract from this job description:
- Required technical skills
- Nice-to-have skills
- Seniority signals
- Tech stack mentioned

Job description:
%s

Then cross-reference against this profile:
%s

Provide gap analysis: what should the candidate focus on given this JD?
Output format: summary (2-3 sentences), topics_to_prioritise (list of topic IDs from: %s)
Keep response under 200 words.`, truncate(jdText, maxPromptText), profileJSON, topicList)
}

func (s *Service) mentionedTopics(text string) []string {
	out := []string{}
	for _, t := range s.curriculum {
		if strings.Contains(text, t.ID) {
			out = append(out, t.ID)
		}
	}
	return out
}

func normalize(r domain.ResearchResult) domain.ResearchResult {
	if r.TopicsToPrioritise == nil {
		r.TopicsToPrioritise = []string{}
	}
	return r
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
