package settings

import (
	"strings"

	"ochsettings/internal/models"
)

// NextStep is a suggestion for an unsatisfied completeness check.
type NextStep struct {
	Field      string `json:"field"`
	Suggestion string `json:"suggestion"`
	Points     int    `json:"points"`
}

type completenessCheck struct {
	field      string
	weight     int
	suggestion string
	satisfied  func(s *models.UserSettings, hasPortfolioItems bool) bool
}

func nonEmpty(v string) bool { return strings.TrimSpace(v) != "" }

// Weights sum to 100. Order is the order NextSteps reports them in.
var completenessChecks = []completenessCheck{
	{"avatarUploaded", 15, "Upload a profile photo", func(s *models.UserSettings, _ bool) bool { return s.AvatarUploaded }},
	{"bioCompleted", 20, "Write your bio", func(s *models.UserSettings, _ bool) bool { return s.BioCompleted }},
	{"linkedinLinked", 15, "Link your LinkedIn account", func(s *models.UserSettings, _ bool) bool { return s.LinkedinLinked }},
	{"headline", 15, "Add a professional headline", func(s *models.UserSettings, _ bool) bool { return nonEmpty(s.Headline) }},
	{"track", 10, "Choose your career track", func(s *models.UserSettings, _ bool) bool { return s.Track != "" }},
	{"name", 10, "Add your full name", func(s *models.UserSettings, _ bool) bool { return nonEmpty(s.Name) }},
	{"portfolioItems", 10, "Get a portfolio item approved", func(_ *models.UserSettings, has bool) bool { return has }},
	{"location", 5, "Add your location", func(s *models.UserSettings, _ bool) bool { return nonEmpty(s.Location) }},
	{"timezoneSet", 5, "Set your timezone", func(s *models.UserSettings, _ bool) bool { return nonEmpty(s.TimezoneSet) }},
	{"portfolioVisibility", 5, "Make your portfolio visible on the marketplace", func(s *models.UserSettings, _ bool) bool {
		return s.PortfolioVisibility == models.VisibilityMarketplacePreview || s.PortfolioVisibility == models.VisibilityPublic
	}},
}

// CalculateCompleteness scores a settings record from 0 to 100.
// hasPortfolioItems comes from the caller; nil settings score 0.
func CalculateCompleteness(s *models.UserSettings, hasPortfolioItems bool) int {
	if s == nil {
		return 0
	}
	score := 0
	for _, c := range completenessChecks {
		if c.satisfied(s, hasPortfolioItems) {
			score += c.weight
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

// NextSteps lists every unsatisfied check with its point value.
func NextSteps(s *models.UserSettings, hasPortfolioItems bool) []NextStep {
	if s == nil {
		s = &models.UserSettings{}
		hasPortfolioItems = false
	}
	steps := make([]NextStep, 0, len(completenessChecks))
	for _, c := range completenessChecks {
		if c.satisfied(s, hasPortfolioItems) {
			continue
		}
		steps = append(steps, NextStep{Field: c.field, Suggestion: c.suggestion, Points: c.weight})
	}
	return steps
}

// completenessColumns are the storage columns that feed the score.
var completenessColumns = map[string]bool{
	"avatar_uploaded":      true,
	"bio_completed":        true,
	"linkedin_linked":      true,
	"headline":             true,
	"track":                true,
	"name":                 true,
	"location":             true,
	"timezone_set":         true,
	"portfolio_visibility": true,
}

// AffectsCompleteness reports whether any changed column feeds the score.
func AffectsCompleteness(changes map[string]any) bool {
	for k := range changes {
		if completenessColumns[k] {
			return true
		}
	}
	return false
}
