package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/studia/internal/domain"
	"github.com/ashureev/studia/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS session_snapshots (
		session_id TEXT PRIMARY KEY,
		history_json TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		summarized_through INTEGER NOT NULL DEFAULT 0,
		research_company TEXT NOT NULL DEFAULT '',
		research_summary TEXT NOT NULL DEFAULT '',
		exchanges INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_snapshots_updated ON session_snapshots(updated_at);

	CREATE TABLE IF NOT EXISTS research_cache (
		cache_key TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		result_json TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS topic_progress (
		topic_id TEXT PRIMARY KEY,
		score REAL NOT NULL,
		last_visited INTEGER
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry runs fn under the write lock, retrying SQLite conflicts with
// exponential backoff: 50ms, 100ms, 200ms.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		s.writeMu.Lock()
		err = fn()
		s.writeMu.Unlock()
		if err == nil {
			return nil
		}
		if !shared.IsConflict(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("SQLite write conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// GetSessionSnapshot retrieves the persisted state of a session.
func (s *SQLiteStore) GetSessionSnapshot(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error) {
	query := `
		SELECT session_id, history_json, summary, summarized_through,
		       research_company, research_summary, exchanges, created_at, updated_at
		FROM session_snapshots WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var snap domain.SessionSnapshot
	var createdAt, updatedAt int64
	err := row.Scan(
		&snap.SessionID, &snap.HistoryJSON, &snap.Summary, &snap.SummarizedThrough,
		&snap.Research.Company, &snap.Research.Summary, &snap.Exchanges,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session snapshot: %w", err)
	}

	snap.CreatedAt = time.Unix(createdAt, 0)
	snap.UpdatedAt = time.Unix(updatedAt, 0)
	return &snap, nil
}

// UpsertSessionSnapshot creates or updates a session snapshot.
func (s *SQLiteStore) UpsertSessionSnapshot(ctx context.Context, snap *domain.SessionSnapshot) error {
	query := `
		INSERT INTO session_snapshots (
			session_id, history_json, summary, summarized_through,
			research_company, research_summary, exchanges, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			history_json = excluded.history_json,
			summary = excluded.summary,
			summarized_through = excluded.summarized_through,
			research_company = excluded.research_company,
			research_summary = excluded.research_summary,
			exchanges = excluded.exchanges,
			updated_at = excluded.updated_at`

	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return s.withRetry(ctx, "upsert_session_snapshot", func() error {
		_, err := s.db.ExecContext(ctx, query,
			snap.SessionID, snap.HistoryJSON, snap.Summary, snap.SummarizedThrough,
			snap.Research.Company, snap.Research.Summary, snap.Exchanges,
			createdAt.Unix(), time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert session snapshot: %w", err)
		}
		return nil
	})
}

// DeleteSessionSnapshot removes a session snapshot.
func (s *SQLiteStore) DeleteSessionSnapshot(ctx context.Context, sessionID string) error {
	return s.withRetry(ctx, "delete_session_snapshot", func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete session snapshot: %w", err)
		}
		return nil
	})
}

// CleanupExpiredSnapshots removes snapshots older than TTL.
func (s *SQLiteStore) CleanupExpiredSnapshots(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	var n int64
	err := s.withRetry(ctx, "cleanup_session_snapshots", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE updated_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("cleanup expired snapshots: %w", err)
		}
		n, err = result.RowsAffected()
		return err
	})
	return n, err
}

// GetResearch returns the cached research stored under key.
func (s *SQLiteStore) GetResearch(ctx context.Context, key string) (*ResearchEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT cache_key, kind, result_json, fetched_at FROM research_cache WHERE cache_key = ?`, key)

	var entry ResearchEntry
	var resultJSON string
	var fetchedAt int64
	err := row.Scan(&entry.Key, &entry.Kind, &resultJSON, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan research cache: %w", err)
	}
	if err := json.Unmarshal([]byte(resultJSON), &entry.Result); err != nil {
		return nil, fmt.Errorf("decode research cache %s: %w", key, err)
	}
	entry.FetchedAt = time.Unix(fetchedAt, 0)
	return &entry, nil
}

// PutResearch stores a research result.
func (s *SQLiteStore) PutResearch(ctx context.Context, entry *ResearchEntry) error {
	data, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("encode research result: %w", err)
	}
	fetchedAt := entry.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	query := `
		INSERT INTO research_cache (cache_key, kind, result_json, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			kind = excluded.kind,
			result_json = excluded.result_json,
			fetched_at = excluded.fetched_at`

	return s.withRetry(ctx, "put_research", func() error {
		if _, err := s.db.ExecContext(ctx, query, entry.Key, entry.Kind, string(data), fetchedAt.Unix()); err != nil {
			return fmt.Errorf("put research cache: %w", err)
		}
		return nil
	})
}

// ListTopicScores returns every persisted topic score.
func (s *SQLiteStore) ListTopicScores(ctx context.Context) ([]TopicScore, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT topic_id, score, last_visited FROM topic_progress ORDER BY topic_id`)
	if err != nil {
		return nil, fmt.Errorf("query topic progress: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close topic progress rows", "error", closeErr)
		}
	}()

	var scores []TopicScore
	for rows.Next() {
		var ts TopicScore
		var lastVisited sql.NullInt64
		if err := rows.Scan(&ts.TopicID, &ts.Score, &lastVisited); err != nil {
			return nil, fmt.Errorf("scan topic progress row: %w", err)
		}
		if lastVisited.Valid {
			t := time.Unix(lastVisited.Int64, 0)
			ts.LastVisited = &t
		}
		scores = append(scores, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic progress: %w", err)
	}
	return scores, nil
}

// UpsertTopicScore creates or updates a topic score.
func (s *SQLiteStore) UpsertTopicScore(ctx context.Context, score TopicScore) error {
	query := `
		INSERT INTO topic_progress (topic_id, score, last_visited)
		VALUES (?, ?, ?)
		ON CONFLICT(topic_id) DO UPDATE SET
			score = excluded.score,
			last_visited = COALESCE(excluded.last_visited, topic_progress.last_visited)`

	var lastVisited interface{}
	if score.LastVisited != nil {
		lastVisited = score.LastVisited.Unix()
	}

	return s.withRetry(ctx, "upsert_topic_score", func() error {
		if _, err := s.db.ExecContext(ctx, query, score.TopicID, score.Score, lastVisited); err != nil {
			return fmt.Errorf("upsert topic score: %w", err)
		}
		return nil
	})
}
