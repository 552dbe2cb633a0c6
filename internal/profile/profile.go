// Package profile loads the learner profile and renders the system prompt
// built from it.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ashureev/studia/internal/domain"
	"github.com/tidwall/jsonc"
)

// ErrNotFound is returned when no profile has been written yet.
var ErrNotFound = errors.New("profile not set")

// Source reads the profile file on every call so edits apply without a
// restart.
type Source struct {
	path string
}

// NewSource creates a source for the profile at path.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Path returns the profile file path.
func (s *Source) Path() string {
	return s.path
}

// Exists reports whether the profile file is present.
func (s *Source) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Load reads and parses the profile. Comments and trailing commas are
// accepted.
func (s *Source) Load() (*domain.Profile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	return Parse(data)
}

// Parse decodes a JSON or JSONC profile document.
func Parse(data []byte) (*domain.Profile, error) {
	var p domain.Profile
	if err := json.Unmarshal(jsonc.ToJSON(data), &p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	return &p, nil
}

// Text renders the profile as the plain-text block embedded in prompts.
func Text(p *domain.Profile) string {
	lines := []string{
		"Name: " + p.Name,
		"Current role: " + p.CurrentRole,
		"Consulting: " + p.Consulting,
		"Experience: " + strconv.FormatFloat(p.ExperienceYears, 'f', -1, 64) + " years",
		"Target roles: " + strings.Join(p.TargetRoles, ", "),
		"Target market: " + p.TargetMarket,
		"Strong areas: " + strings.Join(p.StrongAreas, ", "),
		"Needs depth: " + strings.Join(p.NeedsDepth, ", "),
		"Experience highlights: " + strings.Join(p.ExperienceHighlights, "; "),
		"Interview styles: " + strings.Join(p.InterviewStylesToPrepare, ", "),
		"Study style: " + p.StudyStyle,
	}
	return strings.Join(lines, "\n")
}
