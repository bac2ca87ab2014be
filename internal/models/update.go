package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrInvalidUpdate = errors.New("invalid settings update")

// SettingsUpdate is a partial update in the external (camelCase) shape.
// A nil field is absent and must not be written.
type SettingsUpdate struct {
	Name               *string `json:"name,omitempty"`
	Headline           *string `json:"headline,omitempty"`
	Location           *string `json:"location,omitempty"`
	Track              *Track  `json:"track,omitempty"`
	AvatarUploaded     *bool   `json:"avatarUploaded,omitempty"`
	LinkedinLinked     *bool   `json:"linkedinLinked,omitempty"`
	BioCompleted       *bool   `json:"bioCompleted,omitempty"`
	TimezoneSet        *string `json:"timezoneSet,omitempty"`
	LanguagePreference *string `json:"languagePreference,omitempty"`

	PortfolioVisibility       *PortfolioVisibility `json:"portfolioVisibility,omitempty"`
	MarketplaceContactEnabled *bool                `json:"marketplaceContactEnabled,omitempty"`
	DataSharingConsent        map[string]bool      `json:"dataSharingConsent,omitempty"`

	NotificationsEmail      *bool           `json:"notificationsEmail,omitempty"`
	NotificationsPush       *bool           `json:"notificationsPush,omitempty"`
	NotificationsCategories map[string]bool `json:"notificationsCategories,omitempty"`

	AICoachStyle          *AICoachStyle          `json:"aiCoachStyle,omitempty"`
	HabitFrequency        *HabitFrequency        `json:"habitFrequency,omitempty"`
	ReflectionPromptStyle *ReflectionPromptStyle `json:"reflectionPromptStyle,omitempty"`

	Integrations map[string]string `json:"integrations,omitempty"`

	TwoFactorEnabled *bool           `json:"twoFactorEnabled,omitempty"`
	ActiveSessions   []ActiveSession `json:"activeSessions,omitempty"`
}

// Column is one storage column written by an update.
type Column struct {
	Name  string
	Value any
}

// ParseSettingsUpdate decodes a camelCase JSON body. Unknown fields, including
// the derived profileCompleteness, are rejected.
func ParseSettingsUpdate(r io.Reader) (SettingsUpdate, error) {
	var u SettingsUpdate
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		return SettingsUpdate{}, fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
	}
	if dec.More() {
		return SettingsUpdate{}, fmt.Errorf("%w: trailing data", ErrInvalidUpdate)
	}
	if err := u.Validate(); err != nil {
		return SettingsUpdate{}, err
	}
	return u, nil
}

// Validate checks enum-valued fields.
func (u SettingsUpdate) Validate() error {
	if u.Track != nil {
		switch *u.Track {
		case TrackDefender, TrackAttacker, TrackAnalyst, TrackArchitect, TrackManager, "":
		default:
			return fmt.Errorf("%w: track %q", ErrInvalidUpdate, *u.Track)
		}
	}
	if u.PortfolioVisibility != nil {
		switch *u.PortfolioVisibility {
		case VisibilityPrivate, VisibilityUnlisted, VisibilityMarketplacePreview, VisibilityPublic:
		default:
			return fmt.Errorf("%w: portfolioVisibility %q", ErrInvalidUpdate, *u.PortfolioVisibility)
		}
	}
	if u.AICoachStyle != nil {
		switch *u.AICoachStyle {
		case CoachMotivational, CoachDirect, CoachAnalytical:
		default:
			return fmt.Errorf("%w: aiCoachStyle %q", ErrInvalidUpdate, *u.AICoachStyle)
		}
	}
	if u.HabitFrequency != nil {
		switch *u.HabitFrequency {
		case HabitDaily, HabitWeekly:
		default:
			return fmt.Errorf("%w: habitFrequency %q", ErrInvalidUpdate, *u.HabitFrequency)
		}
	}
	if u.ReflectionPromptStyle != nil {
		switch *u.ReflectionPromptStyle {
		case ReflectionGuided, ReflectionFreeform, ReflectionStructured:
		default:
			return fmt.Errorf("%w: reflectionPromptStyle %q", ErrInvalidUpdate, *u.ReflectionPromptStyle)
		}
	}
	return nil
}

// Columns translates the present fields to storage columns, in schema order.
func (u SettingsUpdate) Columns() []Column {
	var cols []Column
	add := func(name string, v any) { cols = append(cols, Column{Name: name, Value: v}) }

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Headline != nil {
		add("headline", *u.Headline)
	}
	if u.Location != nil {
		add("location", *u.Location)
	}
	if u.Track != nil {
		add("track", string(*u.Track))
	}
	if u.AvatarUploaded != nil {
		add("avatar_uploaded", *u.AvatarUploaded)
	}
	if u.LinkedinLinked != nil {
		add("linkedin_linked", *u.LinkedinLinked)
	}
	if u.BioCompleted != nil {
		add("bio_completed", *u.BioCompleted)
	}
	if u.TimezoneSet != nil {
		add("timezone_set", *u.TimezoneSet)
	}
	if u.LanguagePreference != nil {
		add("language_preference", *u.LanguagePreference)
	}
	if u.PortfolioVisibility != nil {
		add("portfolio_visibility", string(*u.PortfolioVisibility))
	}
	if u.MarketplaceContactEnabled != nil {
		add("marketplace_contact_enabled", *u.MarketplaceContactEnabled)
	}
	if u.DataSharingConsent != nil {
		add("data_sharing_consent", NewJSONB(u.DataSharingConsent))
	}
	if u.NotificationsEmail != nil {
		add("notifications_email", *u.NotificationsEmail)
	}
	if u.NotificationsPush != nil {
		add("notifications_push", *u.NotificationsPush)
	}
	if u.NotificationsCategories != nil {
		add("notifications_categories", NewJSONB(u.NotificationsCategories))
	}
	if u.AICoachStyle != nil {
		add("ai_coach_style", string(*u.AICoachStyle))
	}
	if u.HabitFrequency != nil {
		add("habit_frequency", string(*u.HabitFrequency))
	}
	if u.ReflectionPromptStyle != nil {
		add("reflection_prompt_style", string(*u.ReflectionPromptStyle))
	}
	if u.Integrations != nil {
		add("integrations", NewJSONB(u.Integrations))
	}
	if u.TwoFactorEnabled != nil {
		add("two_factor_enabled", *u.TwoFactorEnabled)
	}
	if u.ActiveSessions != nil {
		add("active_sessions", NewJSONB(u.ActiveSessions))
	}
	return cols
}

// Changes returns the present fields keyed by column name with plain values,
// the shape used in coordination and broadcast payloads.
func (u SettingsUpdate) Changes() map[string]any {
	out := make(map[string]any)
	for _, c := range u.Columns() {
		switch v := c.Value.(type) {
		case JSONB[map[string]bool]:
			out[c.Name] = v.V
		case JSONB[map[string]string]:
			out[c.Name] = v.V
		case JSONB[[]ActiveSession]:
			out[c.Name] = v.V
		default:
			out[c.Name] = v
		}
	}
	return out
}

// ApplyTo returns a copy of s with the present fields of u merged over it.
func (u SettingsUpdate) ApplyTo(s UserSettings, now time.Time) UserSettings {
	if u.Name != nil {
		s.Name = *u.Name
	}
	if u.Headline != nil {
		s.Headline = *u.Headline
	}
	if u.Location != nil {
		s.Location = *u.Location
	}
	if u.Track != nil {
		s.Track = *u.Track
	}
	if u.AvatarUploaded != nil {
		s.AvatarUploaded = *u.AvatarUploaded
	}
	if u.LinkedinLinked != nil {
		s.LinkedinLinked = *u.LinkedinLinked
	}
	if u.BioCompleted != nil {
		s.BioCompleted = *u.BioCompleted
	}
	if u.TimezoneSet != nil {
		s.TimezoneSet = *u.TimezoneSet
	}
	if u.LanguagePreference != nil {
		s.LanguagePreference = *u.LanguagePreference
	}
	if u.PortfolioVisibility != nil {
		s.PortfolioVisibility = *u.PortfolioVisibility
	}
	if u.MarketplaceContactEnabled != nil {
		s.MarketplaceContactEnabled = *u.MarketplaceContactEnabled
	}
	if u.DataSharingConsent != nil {
		s.DataSharingConsent = NewJSONB(u.DataSharingConsent)
	}
	if u.NotificationsEmail != nil {
		s.NotificationsEmail = *u.NotificationsEmail
	}
	if u.NotificationsPush != nil {
		s.NotificationsPush = *u.NotificationsPush
	}
	if u.NotificationsCategories != nil {
		s.NotificationsCategories = NewJSONB(u.NotificationsCategories)
	}
	if u.AICoachStyle != nil {
		s.AICoachStyle = *u.AICoachStyle
	}
	if u.HabitFrequency != nil {
		s.HabitFrequency = *u.HabitFrequency
	}
	if u.ReflectionPromptStyle != nil {
		s.ReflectionPromptStyle = *u.ReflectionPromptStyle
	}
	if u.Integrations != nil {
		s.Integrations = NewJSONB(u.Integrations)
	}
	if u.TwoFactorEnabled != nil {
		s.TwoFactorEnabled = *u.TwoFactorEnabled
	}
	if u.ActiveSessions != nil {
		s.ActiveSessions = NewJSONB(u.ActiveSessions)
	}
	s.UpdatedAt = now
	return s
}
