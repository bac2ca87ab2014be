package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTimezone is the effective timezone for users who never picked one.
const DefaultTimezone = "Africa/Nairobi"

type Track string

const (
	TrackDefender  Track = "defender"
	TrackAttacker  Track = "attacker"
	TrackAnalyst   Track = "analyst"
	TrackArchitect Track = "architect"
	TrackManager   Track = "manager"
)

type PortfolioVisibility string

const (
	VisibilityPrivate            PortfolioVisibility = "private"
	VisibilityUnlisted           PortfolioVisibility = "unlisted"
	VisibilityMarketplacePreview PortfolioVisibility = "marketplace_preview"
	VisibilityPublic             PortfolioVisibility = "public"
)

type AICoachStyle string

const (
	CoachMotivational AICoachStyle = "motivational"
	CoachDirect       AICoachStyle = "direct"
	CoachAnalytical   AICoachStyle = "analytical"
)

type HabitFrequency string

const (
	HabitDaily  HabitFrequency = "daily"
	HabitWeekly HabitFrequency = "weekly"
)

type ReflectionPromptStyle string

const (
	ReflectionGuided     ReflectionPromptStyle = "guided"
	ReflectionFreeform   ReflectionPromptStyle = "freeform"
	ReflectionStructured ReflectionPromptStyle = "structured"
)

type Tier string

const (
	TierFree         Tier = "free"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
)

// ActiveSession describes one signed-in device.
type ActiveSession struct {
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	Location   string    `json:"location,omitempty"`
	LastActive time.Time `json:"lastActive"`
	Current    bool      `json:"current,omitempty"`
}

// UserSettings is the one-row-per-user settings record. JSON tags are the
// external names, db tags the column names.
type UserSettings struct {
	UserID uuid.UUID `db:"user_id" json:"userId"`

	Name               string `db:"name" json:"name"`
	Headline           string `db:"headline" json:"headline"`
	Location           string `db:"location" json:"location"`
	Track              Track  `db:"track" json:"track"`
	AvatarUploaded     bool   `db:"avatar_uploaded" json:"avatarUploaded"`
	LinkedinLinked     bool   `db:"linkedin_linked" json:"linkedinLinked"`
	BioCompleted       bool   `db:"bio_completed" json:"bioCompleted"`
	TimezoneSet        string `db:"timezone_set" json:"timezoneSet"`
	LanguagePreference string `db:"language_preference" json:"languagePreference"`

	ProfileCompleteness int `db:"profile_completeness" json:"profileCompleteness"`

	PortfolioVisibility       PortfolioVisibility    `db:"portfolio_visibility" json:"portfolioVisibility"`
	MarketplaceContactEnabled bool                   `db:"marketplace_contact_enabled" json:"marketplaceContactEnabled"`
	DataSharingConsent        JSONB[map[string]bool] `db:"data_sharing_consent" json:"dataSharingConsent"`

	NotificationsEmail      bool                   `db:"notifications_email" json:"notificationsEmail"`
	NotificationsPush       bool                   `db:"notifications_push" json:"notificationsPush"`
	NotificationsCategories JSONB[map[string]bool] `db:"notifications_categories" json:"notificationsCategories"`

	AICoachStyle          AICoachStyle          `db:"ai_coach_style" json:"aiCoachStyle"`
	HabitFrequency        HabitFrequency        `db:"habit_frequency" json:"habitFrequency"`
	ReflectionPromptStyle ReflectionPromptStyle `db:"reflection_prompt_style" json:"reflectionPromptStyle"`

	Integrations JSONB[map[string]string] `db:"integrations" json:"integrations"`

	TwoFactorEnabled bool                   `db:"two_factor_enabled" json:"twoFactorEnabled"`
	ActiveSessions   JSONB[[]ActiveSession] `db:"active_sessions" json:"activeSessions"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// EffectiveTimezone returns the user's timezone, falling back to DefaultTimezone.
func (s *UserSettings) EffectiveTimezone() string {
	if s == nil || s.TimezoneSet == "" {
		return DefaultTimezone
	}
	return s.TimezoneSet
}

// UserEntitlements is written by the billing system; this service only reads it.
type UserEntitlements struct {
	UserID                 uuid.UUID          `db:"user_id" json:"userId"`
	Tier                   Tier               `db:"tier" json:"tier"`
	SubscriptionStatus     SubscriptionStatus `db:"subscription_status" json:"subscriptionStatus"`
	EnhancedAccessUntil    *time.Time         `db:"enhanced_access_until" json:"enhancedAccessUntil"`
	NextBillingDate        *time.Time         `db:"next_billing_date" json:"nextBillingDate"`
	MarketplaceFullAccess  bool               `db:"marketplace_full_access" json:"marketplaceFullAccess"`
	AICoachFullAccess      bool               `db:"ai_coach_full_access" json:"aiCoachFullAccess"`
	MentorAccess           bool               `db:"mentor_access" json:"mentorAccess"`
	PortfolioExportEnabled bool               `db:"portfolio_export_enabled" json:"portfolioExportEnabled"`
	CreatedAt              time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt              time.Time          `db:"updated_at" json:"updatedAt"`
}

// DefaultUserSettings builds the row created on a user's first read.
func DefaultUserSettings(userID uuid.UUID, now time.Time) *UserSettings {
	return &UserSettings{
		UserID:              userID,
		LanguagePreference:  "en",
		PortfolioVisibility: VisibilityPrivate,
		DataSharingConsent: NewJSONB(map[string]bool{
			"talentscope": false,
			"marketplace": false,
			"analytics":   false,
		}),
		NotificationsEmail: true,
		NotificationsPush:  true,
		NotificationsCategories: NewJSONB(map[string]bool{
			"missions":    true,
			"coaching":    true,
			"mentor":      true,
			"marketplace": true,
		}),
		AICoachStyle:          CoachMotivational,
		HabitFrequency:        HabitDaily,
		ReflectionPromptStyle: ReflectionGuided,
		Integrations: NewJSONB(map[string]string{
			"github":   "disconnected",
			"thm":      "disconnected",
			"linkedin": "disconnected",
		}),
		ActiveSessions: NewJSONB([]ActiveSession{}),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// SettingsOverview is the admin analytics snapshot over all settings rows.
type SettingsOverview struct {
	TotalSettings       int            `json:"totalSettings"`
	AverageCompleteness float64        `json:"averageCompleteness"`
	MarketplaceReady    int            `json:"marketplaceReady"`
	PublicPortfolios    int            `json:"publicPortfolios"`
	TierCounts          map[string]int `json:"tierCounts"`
	ActiveSubscriptions int            `json:"activeSubscriptions"`
}
