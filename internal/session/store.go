// Package session owns per-session conversation state and assembles the
// bounded context window sent to the model.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/studia/internal/domain"
)

// ErrBusy is returned by Acquire when ctx ends before the session's current
// turn finishes.
var ErrBusy = errors.New("session busy")

type state struct {
	turn chan struct{}

	mu                sync.Mutex
	history           []domain.Exchange
	summary           string
	summarizedThrough int
	research          domain.ResearchContext
	pending           int
	createdAt         time.Time
	lastUsed          time.Time
}

// Store is a concurrency-safe map of sessions. Sessions are created on first
// reference and live until evicted.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*state
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*state),
		now:      time.Now,
	}
}

func (s *Store) getOrCreate(key string) *state {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(key)
}

func (s *Store) getOrCreateLocked(key string) *state {
	st, ok := s.sessions[key]
	if !ok {
		now := s.now()
		st = &state{turn: make(chan struct{}, 1), createdAt: now, lastUsed: now}
		s.sessions[key] = st
	}
	return st
}

func (s *Store) lookup(key string) (*state, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[key]
	return st, ok
}

// Acquire serializes turns on key. The returned release func must be called
// exactly once when the turn ends. A session with a pending or running turn
// is never evicted.
func (s *Store) Acquire(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	st := s.getOrCreateLocked(key)
	st.mu.Lock()
	st.pending++
	st.mu.Unlock()
	s.mu.Unlock()

	done := func() {
		st.mu.Lock()
		st.pending--
		st.lastUsed = s.now()
		st.mu.Unlock()
	}

	select {
	case st.turn <- struct{}{}:
	case <-ctx.Done():
		done()
		return nil, fmt.Errorf("%w: %w", ErrBusy, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-st.turn
			done()
		})
	}, nil
}

// Append adds an exchange to the end of the session history.
func (s *Store) Append(key string, role domain.Role, content string) {
	st := s.getOrCreate(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.history = append(st.history, domain.Exchange{Role: role, Content: content})
	st.lastUsed = s.now()
}

// History returns a copy of the session history.
func (s *Store) History(key string) []domain.Exchange {
	st, ok := s.lookup(key)
	if !ok {
		return []domain.Exchange{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]domain.Exchange, len(st.history))
	copy(out, st.history)
	return out
}

// ResearchContext returns the research attached to the session.
func (s *Store) ResearchContext(key string) domain.ResearchContext {
	st, ok := s.lookup(key)
	if !ok {
		return domain.ResearchContext{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.research
}

// SetResearchContext attaches research to the session, replacing any
// previous company.
func (s *Store) SetResearchContext(key string, rc domain.ResearchContext) {
	st := s.getOrCreate(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.research = rc
}

// Summary returns the stored summary and the number of leading exchanges it
// covers.
func (s *Store) Summary(key string) (string, int) {
	st, ok := s.lookup(key)
	if !ok {
		return "", 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.summary, st.summarizedThrough
}

// advanceSummary stores summary as covering the first through exchanges if
// the pointer still equals from. It reports whether the update was applied.
func (s *Store) advanceSummary(key string, from, through int, summary string) bool {
	st := s.getOrCreate(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.summarizedThrough != from || through < from || through > len(st.history) {
		return false
	}
	st.summary = summary
	st.summarizedThrough = through
	return true
}

// InvalidateSummary clears the stored summary so the next assembly
// recomputes it.
func (s *Store) InvalidateSummary(key string) {
	st, ok := s.lookup(key)
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.summary = ""
	st.summarizedThrough = 0
}

// Snapshot captures the session for persistence.
func (s *Store) Snapshot(key string) (*domain.SessionSnapshot, error) {
	st, ok := s.lookup(key)
	if !ok {
		return nil, fmt.Errorf("session %s not found", key)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	history := st.history
	if history == nil {
		history = []domain.Exchange{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return &domain.SessionSnapshot{
		SessionID:         key,
		HistoryJSON:       string(data),
		Summary:           st.summary,
		SummarizedThrough: st.summarizedThrough,
		Research:          st.research,
		Exchanges:         len(st.history),
		CreatedAt:         st.createdAt,
		UpdatedAt:         st.lastUsed,
	}, nil
}

// Restore loads a persisted snapshot into a session that has no history yet.
// It reports whether the snapshot was applied.
func (s *Store) Restore(snap *domain.SessionSnapshot) (bool, error) {
	if snap == nil {
		return false, nil
	}
	var history []domain.Exchange
	if err := json.Unmarshal([]byte(snap.HistoryJSON), &history); err != nil {
		return false, fmt.Errorf("decode history for %s: %w", snap.SessionID, err)
	}

	st := s.getOrCreate(snap.SessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.history) > 0 {
		return false, nil
	}
	st.history = history
	st.summary = snap.Summary
	st.summarizedThrough = min(snap.SummarizedThrough, len(history))
	st.research = snap.Research
	if !snap.CreatedAt.IsZero() {
		st.createdAt = snap.CreatedAt
	}
	return true, nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// EvictIdle removes sessions unused for longer than ttl and returns how many
// were removed.
func (s *Store) EvictIdle(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, st := range s.sessions {
		st.mu.Lock()
		idle := st.pending == 0 && st.lastUsed.Before(cutoff)
		st.mu.Unlock()
		if idle {
			delete(s.sessions, key)
			evicted++
		}
	}
	return evicted
}

// StartEvictionWorker evicts idle sessions every interval until ctx is done.
func (s *Store) StartEvictionWorker(ctx context.Context, interval, ttl time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 || ttl <= 0 {
		logger.Info("Session eviction disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.Info("Session eviction worker started", "interval", interval, "ttl", ttl)
		for {
			select {
			case <-ctx.Done():
				logger.Info("Session eviction worker stopped")
				return
			case <-ticker.C:
				if n := s.EvictIdle(ttl); n > 0 {
					logger.Info("Evicted idle sessions", "count", n, "remaining", s.Len())
				}
			}
		}
	}()
}
