package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"ochsettings/internal/models"
	"ochsettings/internal/settings"
)

type AdminRepo struct {
	db *sqlx.DB
}

func NewAdminRepo(db *sqlx.DB) *AdminRepo { return &AdminRepo{db: db} }

// Overview aggregates settings and entitlements across all users.
func (r *AdminRepo) Overview(ctx context.Context) (*models.SettingsOverview, error) {
	if r.db == nil {
		return nil, settings.ErrStoreUnavailable
	}
	out := &models.SettingsOverview{TierCounts: map[string]int{}}

	if err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(profile_completeness), 0) FROM user_settings`).
		Scan(&out.TotalSettings, &out.AverageCompleteness); err != nil {
		return nil, fmt.Errorf("settings totals: %w", err)
	}
	if err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM user_settings WHERE profile_completeness >= $1`,
		settings.MarketplaceCompletenessThreshold).Scan(&out.MarketplaceReady); err != nil {
		return nil, fmt.Errorf("marketplace ready: %w", err)
	}
	if err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM user_settings WHERE portfolio_visibility IN ('marketplace_preview', 'public')`).
		Scan(&out.PublicPortfolios); err != nil {
		return nil, fmt.Errorf("public portfolios: %w", err)
	}

	var tiers []struct {
		Tier  string `db:"tier"`
		Count int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &tiers,
		`SELECT tier, COUNT(*) AS count FROM user_entitlements GROUP BY tier ORDER BY tier`); err != nil {
		return nil, fmt.Errorf("tier counts: %w", err)
	}
	for _, t := range tiers {
		out.TierCounts[t.Tier] = t.Count
	}

	if err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM user_entitlements WHERE subscription_status='active'`).
		Scan(&out.ActiveSubscriptions); err != nil {
		return nil, fmt.Errorf("active subscriptions: %w", err)
	}
	return out, nil
}
