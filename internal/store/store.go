// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/studia/internal/domain"
)

// ResearchEntry is a cached research result.
type ResearchEntry struct {
	Key       string
	Kind      string
	Result    domain.ResearchResult
	FetchedAt time.Time
}

// TopicScore is the persisted score for one curriculum topic.
type TopicScore struct {
	TopicID     string
	Score       float64
	LastVisited *time.Time
}

// Repository defines the interface for persisting session, research and
// progress data.
type Repository interface {
	// GetSessionSnapshot retrieves the persisted state of a session.
	// It returns nil when the session has never been saved.
	GetSessionSnapshot(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error)

	// UpsertSessionSnapshot creates or updates a session snapshot.
	UpsertSessionSnapshot(ctx context.Context, snap *domain.SessionSnapshot) error

	// DeleteSessionSnapshot removes a session snapshot.
	DeleteSessionSnapshot(ctx context.Context, sessionID string) error

	// CleanupExpiredSnapshots removes snapshots not updated within ttl.
	CleanupExpiredSnapshots(ctx context.Context, ttl time.Duration) (int64, error)

	// GetResearch returns the cached research stored under key, or nil.
	GetResearch(ctx context.Context, key string) (*ResearchEntry, error)

	// PutResearch stores a research result under key.
	PutResearch(ctx context.Context, entry *ResearchEntry) error

	// ListTopicScores returns every persisted topic score.
	ListTopicScores(ctx context.Context) ([]TopicScore, error)

	// UpsertTopicScore creates or updates a topic score.
	UpsertTopicScore(ctx context.Context, score TopicScore) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
