package shared

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsConflict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "busy message", err: errors.New("sqlite: SQLITE_BUSY (5)"), want: true},
		{name: "wrapped locked", err: fmt.Errorf("upsert snapshot: %w", errors.New("database is locked")), want: true},
		{name: "constraint", err: errors.New("UNIQUE constraint failed: topic_scores.topic_id"), want: false},
		{name: "missing table", err: errors.New("no such table: research_cache"), want: false},
	}
	for _, tt := range tests {
		if got := IsConflict(tt.err); got != tt.want {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestSQLiteCodeIgnoresForeignErrors(t *testing.T) {
	t.Parallel()

	if _, ok := SQLiteCode(errors.New("SQLITE_BUSY")); ok {
		t.Fatal("expected plain errors to carry no driver code")
	}
	if IsBusy(errors.New("database is locked")) {
		t.Fatal("locked message must not count as busy")
	}
	if !IsLocked(errors.New("database is locked")) {
		t.Fatal("expected locked message to be recognized")
	}
}
