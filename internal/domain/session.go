// Package domain contains core domain types for the Studia backend.
package domain

import "time"

// Role tags a message or exchange with its speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Exchange is one role-tagged conversational turn. Exchanges are immutable
// once appended to a session.
type Exchange struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ResearchContext is the company research attached to a session by the
// research_company tool.
type ResearchContext struct {
	Company string `json:"company"`
	Summary string `json:"summary"`
}

// IsZero reports whether no research has been attached.
func (r ResearchContext) IsZero() bool {
	return r.Company == "" && r.Summary == ""
}

// SessionSnapshot stores persisted session state.
type SessionSnapshot struct {
	SessionID         string
	HistoryJSON       string
	Summary           string
	SummarizedThrough int
	Research          ResearchContext
	Exchanges         int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
