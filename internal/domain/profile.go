package domain

// Profile describes the learner the assistant is preparing.
type Profile struct {
	Name                     string   `json:"name"`
	CurrentRole              string   `json:"current_role"`
	Consulting               string   `json:"consulting"`
	ExperienceYears          float64  `json:"experience_years"`
	TargetRoles              []string `json:"target_roles"`
	TargetMarket             string   `json:"target_market"`
	StrongAreas              []string `json:"strong_areas"`
	NeedsDepth               []string `json:"needs_depth"`
	ExperienceHighlights     []string `json:"experience_highlights"`
	InterviewStylesToPrepare []string `json:"interview_styles_to_prepare"`
	StudyStyle               string   `json:"study_style"`
}
