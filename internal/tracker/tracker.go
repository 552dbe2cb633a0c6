// Package tracker keeps per-topic progress scores against the curriculum
// and derives the weak/strong study summary.
package tracker

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/studia/internal/domain"
	"github.com/ashureev/studia/internal/store"
)

const (
	weakBelow     = 0.4
	strongAtLeast = 0.7
	summaryLimit  = 10
)

// ScoreStore persists topic scores.
type ScoreStore interface {
	ListTopicScores(ctx context.Context) ([]store.TopicScore, error)
	UpsertTopicScore(ctx context.Context, score store.TopicScore) error
}

// ProfileLoader provides the learner profile used to pick the next topic.
type ProfileLoader interface {
	Load() (*domain.Profile, error)
}

// Tracker scores curriculum topics.
type Tracker struct {
	scores     ScoreStore
	profile    ProfileLoader
	curriculum []domain.Topic
	byID       map[string]domain.Topic
	logger     *slog.Logger
	now        func() time.Time

	mu sync.Mutex // serializes read-modify-write score updates
}

// New creates a tracker over the given curriculum.
func New(scores ScoreStore, curriculum []domain.Topic, profile ProfileLoader, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	byID := make(map[string]domain.Topic, len(curriculum))
	for _, t := range curriculum {
		byID[t.ID] = t
	}
	return &Tracker{
		scores:     scores,
		profile:    profile,
		curriculum: curriculum,
		byID:       byID,
		logger:     logger,
		now:        time.Now,
	}
}

// Curriculum returns the topics whose category contains category, ignoring
// case. An empty category returns every topic.
func (t *Tracker) Curriculum(_ context.Context, category string) ([]domain.Topic, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	out := make([]domain.Topic, 0, len(t.curriculum))
	for _, topic := range t.curriculum {
		if category == "" || strings.Contains(strings.ToLower(topic.Category), category) {
			out = append(out, topic)
		}
	}
	return out, nil
}

// Progress returns an entry for every curriculum topic in curriculum order,
// followed by scored topics no longer in the curriculum.
func (t *Tracker) Progress(ctx context.Context) ([]domain.ProgressEntry, error) {
	stored, err := t.scores.ListTopicScores(ctx)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	byID := make(map[string]store.TopicScore, len(stored))
	for _, s := range stored {
		byID[s.TopicID] = s
	}

	entries := make([]domain.ProgressEntry, 0, len(t.curriculum)+len(stored))
	for _, topic := range t.curriculum {
		entry := domain.ProgressEntry{ID: topic.ID, Label: topic.Label, Score: domain.DefaultScore}
		if s, ok := byID[topic.ID]; ok {
			entry.Score = s.Score
			entry.LastVisited = s.LastVisited
		}
		entries = append(entries, entry)
	}
	for _, s := range stored {
		if _, ok := t.byID[s.TopicID]; ok {
			continue
		}
		entries = append(entries, domain.ProgressEntry{ID: s.TopicID, Label: s.TopicID, Score: s.Score, LastVisited: s.LastVisited})
	}
	return entries, nil
}

// Summary returns the weakest and strongest topics and the suggested next
// topic.
func (t *Tracker) Summary(ctx context.Context) (domain.ProgressSummary, error) {
	entries, err := t.Progress(ctx)
	if err != nil {
		return domain.ProgressSummary{}, err
	}

	weak := []domain.ProgressEntry{}
	strong := []domain.ProgressEntry{}
	scores := make(map[string]float64, len(entries))
	for _, e := range entries {
		scores[e.ID] = e.Score
		switch {
		case e.Score < weakBelow:
			weak = append(weak, e)
		case e.Score >= strongAtLeast:
			strong = append(strong, e)
		}
	}
	slices.SortStableFunc(weak, func(a, b domain.ProgressEntry) int { return cmp.Compare(a.Score, b.Score) })
	slices.SortStableFunc(strong, func(a, b domain.ProgressEntry) int { return cmp.Compare(b.Score, a.Score) })

	summary := domain.ProgressSummary{
		Weak:          weak[:min(len(weak), summaryLimit)],
		Strong:        strong[:min(len(strong), summaryLimit)],
		SuggestedNext: t.suggestNext(scores),
	}
	if summary.SuggestedNext == "" && len(weak) > 0 {
		summary.SuggestedNext = weak[0].ID
	}
	return summary, nil
}

// suggestNext picks the lowest-scored curriculum topic matching the
// profile's needs_depth areas.
func (t *Tracker) suggestNext(scores map[string]float64) string {
	if t.profile == nil {
		return ""
	}
	p, err := t.profile.Load()
	if err != nil {
		t.logger.Debug("Profile unavailable for topic suggestion", "error", err)
		return ""
	}

	best := ""
	bestScore := math.Inf(1)
	for _, topic := range t.curriculum {
		if !topic.MatchesNeeds(p.NeedsDepth) {
			continue
		}
		score, ok := scores[topic.ID]
		if !ok {
			score = domain.DefaultScore
		}
		if score < bestScore {
			best, bestScore = topic.ID, score
		}
	}
	return best
}

// UpdateScore applies the assessment delta to a topic, clamping to [0, 1],
// and stamps the visit time.
func (t *Tracker) UpdateScore(ctx context.Context, topicID string, assessment domain.Assessment) error {
	a := domain.Assessment(strings.ToLower(strings.TrimSpace(string(assessment))))
	if !slices.Contains(domain.Assessments, string(a)) {
		return fmt.Errorf("unknown assessment: %s", assessment)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	stored, err := t.scores.ListTopicScores(ctx)
	if err != nil {
		return fmt.Errorf("load progress: %w", err)
	}
	current := domain.DefaultScore
	found := false
	for _, s := range stored {
		if s.TopicID == topicID {
			current, found = s.Score, true
			break
		}
	}
	if _, ok := t.byID[topicID]; !ok && !found {
		return fmt.Errorf("unknown topic: %s", topicID)
	}

	next := math.Round(math.Max(0, math.Min(1, current+a.Delta()))*100) / 100
	now := t.now()
	if err := t.scores.UpsertTopicScore(ctx, store.TopicScore{TopicID: topicID, Score: next, LastVisited: &now}); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}

	t.logger.Info("Topic score updated",
		"topic_id", topicID,
		"assessment", a,
		"previous", current,
		"score", next,
	)
	return nil
}
