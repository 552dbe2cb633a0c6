// Package agent runs chat turns for the study assistant: the tool-calling
// loop, the per-request chat service and its HTTP and WebSocket surface.
package agent

import (
	"errors"
)

// ErrProfileMissing is returned when a chat is attempted before onboarding
// produced a profile.
var ErrProfileMissing = errors.New("profile not set: complete onboarding first")

// ErrEmptyMessage is returned for a chat request with no text.
var ErrEmptyMessage = errors.New("message is required")

// ChatRequest is one user turn.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"-"`
	Channel   string `json:"-"`
	RequestID string `json:"-"`
}

// HistoryRecord is one exchange in the GET /session/history response.
type HistoryRecord struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
