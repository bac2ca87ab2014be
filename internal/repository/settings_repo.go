package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ochsettings/internal/models"
	"ochsettings/internal/settings"
)

const settingsColumns = `user_id, name, headline, location, track, avatar_uploaded, linkedin_linked,
	bio_completed, timezone_set, language_preference, profile_completeness, portfolio_visibility,
	marketplace_contact_enabled, data_sharing_consent, notifications_email, notifications_push,
	notifications_categories, ai_coach_style, habit_frequency, reflection_prompt_style, integrations,
	two_factor_enabled, active_sessions, created_at, updated_at`

const entitlementsColumns = `user_id, tier, subscription_status, enhanced_access_until, next_billing_date,
	marketplace_full_access, ai_coach_full_access, mentor_access, portfolio_export_enabled,
	created_at, updated_at`

// updatableColumns guards the dynamic SET clause.
var updatableColumns = map[string]bool{
	"name": true, "headline": true, "location": true, "track": true,
	"avatar_uploaded": true, "linkedin_linked": true, "bio_completed": true,
	"timezone_set": true, "language_preference": true, "profile_completeness": true,
	"portfolio_visibility": true, "marketplace_contact_enabled": true, "data_sharing_consent": true,
	"notifications_email": true, "notifications_push": true, "notifications_categories": true,
	"ai_coach_style": true, "habit_frequency": true, "reflection_prompt_style": true,
	"integrations": true, "two_factor_enabled": true, "active_sessions": true, "updated_at": true,
}

// SettingsRepo implements settings.Repository on PostgreSQL.
type SettingsRepo struct {
	db *sqlx.DB
}

func NewSettingsRepo(db *sqlx.DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

var _ settings.Repository = (*SettingsRepo)(nil)

func (r *SettingsRepo) GetSettings(ctx context.Context, userID uuid.UUID) (*models.UserSettings, error) {
	if r.db == nil {
		return nil, settings.ErrStoreUnavailable
	}
	var s models.UserSettings
	err := r.db.GetContext(ctx, &s, `SELECT `+settingsColumns+` FROM user_settings WHERE user_id=$1`, userID)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *SettingsRepo) CreateSettings(ctx context.Context, s *models.UserSettings) (*models.UserSettings, error) {
	if r.db == nil {
		return nil, settings.ErrStoreUnavailable
	}
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO user_settings (`+settingsColumns+`)
		VALUES (:user_id, :name, :headline, :location, :track, :avatar_uploaded, :linkedin_linked,
			:bio_completed, :timezone_set, :language_preference, :profile_completeness, :portfolio_visibility,
			:marketplace_contact_enabled, :data_sharing_consent, :notifications_email, :notifications_push,
			:notifications_categories, :ai_coach_style, :habit_frequency, :reflection_prompt_style, :integrations,
			:two_factor_enabled, :active_sessions, :created_at, :updated_at)
		ON CONFLICT (user_id) DO NOTHING`, s)
	if err != nil {
		return nil, err
	}
	// a concurrent first read may have won the insert; return whatever is stored
	return r.GetSettings(ctx, s.UserID)
}

func (r *SettingsRepo) UpdateSettings(ctx context.Context, userID uuid.UUID, fn settings.MutateFunc) (*models.UserSettings, error) {
	if r.db == nil {
		return nil, settings.ErrStoreUnavailable
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var current models.UserSettings
	if err := tx.GetContext(ctx, &current, `SELECT `+settingsColumns+` FROM user_settings WHERE user_id=$1 FOR UPDATE`, userID); err != nil {
		return nil, notFound(err)
	}

	cols, err := fn(current)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return &current, tx.Commit()
	}

	query, args, err := buildSettingsUpdate(userID, cols)
	if err != nil {
		return nil, err
	}

	var updated models.UserSettings
	if err := tx.QueryRowxContext(ctx, query, args...).StructScan(&updated); err != nil {
		return nil, notFound(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &updated, nil
}

func (r *SettingsRepo) GetEntitlements(ctx context.Context, userID uuid.UUID) (*models.UserEntitlements, error) {
	if r.db == nil {
		return nil, settings.ErrStoreUnavailable
	}
	var e models.UserEntitlements
	err := r.db.GetContext(ctx, &e, `SELECT `+entitlementsColumns+` FROM user_entitlements WHERE user_id=$1`, userID)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *SettingsRepo) HasApprovedPortfolioItems(ctx context.Context, userID uuid.UUID) (bool, error) {
	if r.db == nil {
		return false, settings.ErrStoreUnavailable
	}
	var has bool
	err := r.db.QueryRowxContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM portfolio_items WHERE user_id=$1 AND status='approved')`, userID).Scan(&has)
	return has, err
}

// buildSettingsUpdate renders cols as a positional UPDATE ... RETURNING.
// Column names are checked against updatableColumns since they are
// interpolated into the statement.
func buildSettingsUpdate(userID uuid.UUID, cols []models.Column) (string, []interface{}, error) {
	setClauses := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols)+1)
	for _, c := range cols {
		if !updatableColumns[c.Name] {
			return "", nil, fmt.Errorf("%w: column %q", models.ErrInvalidUpdate, c.Name)
		}
		args = append(args, c.Value)
		setClauses = append(setClauses, fmt.Sprintf("%s=$%d", c.Name, len(args)))
	}
	args = append(args, userID)
	query := "UPDATE user_settings SET " + strings.Join(setClauses, ", ") +
		fmt.Sprintf(" WHERE user_id=$%d RETURNING ", len(args)) + settingsColumns
	return query, args, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return settings.ErrNotFound
	}
	return err
}
