package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/studia/internal/domain"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// Researcher performs company research and job description analysis.
type Researcher interface {
	ResearchCompany(ctx context.Context, company string) (domain.ResearchResult, error)
	ParseJD(ctx context.Context, jdText string) (domain.ResearchResult, error)
}

// ProgressTracker exposes the curriculum and the learner's topic scores.
type ProgressTracker interface {
	Summary(ctx context.Context) (domain.ProgressSummary, error)
	Curriculum(ctx context.Context, category string) ([]domain.Topic, error)
	UpdateScore(ctx context.Context, topicID string, assessment domain.Assessment) error
}

// ResearchContextSetter records research against a session.
type ResearchContextSetter interface {
	SetResearchContext(sessionKey string, rc domain.ResearchContext)
}

// Builtins are the collaborators behind the study-assistant tools.
type Builtins struct {
	Research Researcher
	Tracker  ProgressTracker
	Sessions ResearchContextSetter
}

// RegisterBuiltins adds the study-assistant tools to r.
func RegisterBuiltins(r *Registry, b Builtins) error {
	tools := []Tool{
		{
			Definition: mcptypes.NewTool("research_company",
				mcptypes.WithDescription("Research a company's interview process. Use when user mentions a company they are targeting."),
				mcptypes.WithString("company", mcptypes.Required(), mcptypes.Description("Company name")),
			),
			Handler: b.researchCompany,
		},
		{
			Definition: mcptypes.NewTool("parse_jd",
				mcptypes.WithDescription("Parse a job description and return gap analysis. Use when user pastes a JD."),
				mcptypes.WithString("jd_text", mcptypes.Required(), mcptypes.Description("Full job description text")),
			),
			Handler: b.parseJD,
		},
		{
			Definition: mcptypes.NewTool("get_progress",
				mcptypes.WithDescription("Get user's weak/strong topics and suggested next. Use when user asks what to study."),
			),
			Handler: b.getProgress,
		},
		{
			Definition: mcptypes.NewTool("lookup_curriculum",
				mcptypes.WithDescription("Look up topics in the curriculum. Use when user asks about available topics."),
				mcptypes.WithString("category", mcptypes.Description("Optional category filter")),
			),
			Handler: b.lookupCurriculum,
		},
		{
			Definition: mcptypes.NewTool("update_topic_score",
				mcptypes.WithDescription("Update a topic score after assessing understanding. Use when conversation about a topic concludes."),
				mcptypes.WithString("topic_id", mcptypes.Required(), mcptypes.Description("Curriculum topic ID")),
				mcptypes.WithString("assessment", mcptypes.Required(), mcptypes.Enum(domain.Assessments...)),
			),
			Handler: b.updateTopicScore,
		},
	}

	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (b Builtins) researchCompany(ctx context.Context, sessionKey string, req mcptypes.CallToolRequest) (any, error) {
	company, err := req.RequireString("company")
	if err != nil {
		return nil, err
	}
	company = strings.TrimSpace(company)

	result, err := b.Research.ResearchCompany(ctx, company)
	if err != nil {
		return nil, fmt.Errorf("research %s: %w", company, err)
	}
	if b.Sessions != nil {
		b.Sessions.SetResearchContext(sessionKey, domain.ResearchContext{Company: company, Summary: result.Summary})
	}
	return result, nil
}

func (b Builtins) parseJD(ctx context.Context, _ string, req mcptypes.CallToolRequest) (any, error) {
	text, err := req.RequireString("jd_text")
	if err != nil {
		return nil, err
	}
	return b.Research.ParseJD(ctx, text)
}

func (b Builtins) getProgress(ctx context.Context, _ string, _ mcptypes.CallToolRequest) (any, error) {
	return b.Tracker.Summary(ctx)
}

func (b Builtins) lookupCurriculum(ctx context.Context, _ string, req mcptypes.CallToolRequest) (any, error) {
	topics, err := b.Tracker.Curriculum(ctx, req.GetString("category", ""))
	if err != nil {
		return nil, err
	}
	return map[string]any{"topics": topics}, nil
}

func (b Builtins) updateTopicScore(ctx context.Context, _ string, req mcptypes.CallToolRequest) (any, error) {
	topicID, err := req.RequireString("topic_id")
	if err != nil {
		return nil, err
	}
	assessment, err := req.RequireString("assessment")
	if err != nil {
		return nil, err
	}
	if err := b.Tracker.UpdateScore(ctx, topicID, domain.Assessment(assessment)); err != nil {
		return nil, err
	}
	return map[string]string{"status": "updated"}, nil
}
