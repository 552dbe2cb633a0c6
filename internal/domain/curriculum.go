package domain

import (
	"strings"
	"time"
)

// Topic is one entry of the curriculum taxonomy.
type Topic struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Category string   `json:"category,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// MatchesNeeds reports whether any word longer than three characters from
// needs appears in the topic keywords.
func (t Topic) MatchesNeeds(needs []string) bool {
	keywords := strings.ToLower(strings.Join(t.Keywords, " "))
	for _, nd := range needs {
		for _, word := range strings.Fields(strings.ToLower(nd)) {
			if len(word) > 3 && strings.Contains(keywords, word) {
				return true
			}
		}
	}
	return false
}

// ProgressEntry is the learner's score on a single topic.
type ProgressEntry struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Score       float64    `json:"score"`
	LastVisited *time.Time `json:"last_visited,omitempty"`
}

// DefaultScore is assigned to topics that have never been assessed.
const DefaultScore = 0.5

// Assessment is the model's judgement of understanding on a topic.
type Assessment string

const (
	AssessmentStrong  Assessment = "strong"
	AssessmentPartial Assessment = "partial"
	AssessmentWeak    Assessment = "weak"
)

// Assessments lists the accepted assessment values.
var Assessments = []string{string(AssessmentStrong), string(AssessmentPartial), string(AssessmentWeak)}

// Delta returns the score adjustment for the assessment.
func (a Assessment) Delta() float64 {
	switch Assessment(strings.ToLower(string(a))) {
	case AssessmentStrong:
		return 0.3
	case AssessmentPartial:
		return 0.1
	case AssessmentWeak:
		return -0.1
	default:
		return 0
	}
}

// ProgressSummary is the weak/strong overview returned by get_progress.
type ProgressSummary struct {
	Weak          []ProgressEntry `json:"weak"`
	Strong        []ProgressEntry `json:"strong"`
	SuggestedNext string          `json:"suggested_next"`
}

// ResearchResult is returned by company research and job description parsing.
type ResearchResult struct {
	Summary            string   `json:"summary"`
	GapAnalysis        string   `json:"gap_analysis"`
	TopicsToPrioritise []string `json:"topics_to_prioritise"`
}
