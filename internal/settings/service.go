package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ochsettings/internal/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("settings store unavailable")
)

// MutateFunc receives the locked current row and returns the columns to write.
type MutateFunc func(current models.UserSettings) ([]models.Column, error)

// Repository is the storage contract for the settings and entitlements tables.
// Missing rows are reported as ErrNotFound.
type Repository interface {
	GetSettings(ctx context.Context, userID uuid.UUID) (*models.UserSettings, error)
	// CreateSettings inserts s unless a row already exists and returns the stored row.
	CreateSettings(ctx context.Context, s *models.UserSettings) (*models.UserSettings, error)
	// UpdateSettings locks the row, calls fn and writes its columns in one statement.
	UpdateSettings(ctx context.Context, userID uuid.UUID, fn MutateFunc) (*models.UserSettings, error)
	GetEntitlements(ctx context.Context, userID uuid.UUID) (*models.UserEntitlements, error)
	HasApprovedPortfolioItems(ctx context.Context, userID uuid.UUID) (bool, error)
}

type Service struct {
	repo Repository
	log  *zap.Logger
	now  func() time.Time
}

func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{repo: repo, log: log.Named("settings"), now: func() time.Time { return time.Now().UTC() }}
}

// GetUserSettings returns the user's row, creating the default row on first access.
func (s *Service) GetUserSettings(ctx context.Context, userID uuid.UUID) (*models.UserSettings, error) {
	st, err := s.repo.GetSettings(ctx, userID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	st, err = s.repo.CreateSettings(ctx, models.DefaultUserSettings(userID, s.now()))
	if err != nil {
		return nil, fmt.Errorf("create default settings: %w", err)
	}
	s.log.Debug("created default settings", zap.String("user_id", userID.String()))
	return st, nil
}

// UpdateUserSettings merges update over the current row, recomputes
// completeness over the merged values and persists both in one write.
// A nil hint is resolved by querying approved portfolio items.
func (s *Service) UpdateUserSettings(ctx context.Context, userID uuid.UUID, update models.SettingsUpdate, hasPortfolioItems *bool) (*models.UserSettings, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	st, err := s.repo.UpdateSettings(ctx, userID, func(current models.UserSettings) ([]models.Column, error) {
		merged := update.ApplyTo(current, now)
		has, err := s.resolvePortfolioHint(ctx, userID, hasPortfolioItems)
		if err != nil {
			return nil, err
		}
		cols := update.Columns()
		cols = append(cols,
			models.Column{Name: "profile_completeness", Value: CalculateCompleteness(&merged, has)},
			models.Column{Name: "updated_at", Value: now},
		)
		return cols, nil
	})
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	return st, nil
}

// RecomputeCompleteness rewrites only the stored score from current values.
// An unchanged score is not written.
func (s *Service) RecomputeCompleteness(ctx context.Context, userID uuid.UUID) (int, error) {
	var score int
	_, err := s.repo.UpdateSettings(ctx, userID, func(current models.UserSettings) ([]models.Column, error) {
		has, err := s.repo.HasApprovedPortfolioItems(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("portfolio lookup: %w", err)
		}
		score = CalculateCompleteness(&current, has)
		if score == current.ProfileCompleteness {
			return nil, nil
		}
		return []models.Column{{Name: "profile_completeness", Value: score}}, nil
	})
	if err != nil {
		return 0, fmt.Errorf("recompute completeness: %w", err)
	}
	return score, nil
}

// GetUserEntitlements returns nil, nil when the user has no entitlements row.
func (s *Service) GetUserEntitlements(ctx context.Context, userID uuid.UUID) (*models.UserEntitlements, error) {
	ent, err := s.repo.GetEntitlements(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entitlements: %w", err)
	}
	return ent, nil
}

// HasPortfolioItems reports whether the user has an approved portfolio item.
func (s *Service) HasPortfolioItems(ctx context.Context, userID uuid.UUID) (bool, error) {
	return s.repo.HasApprovedPortfolioItems(ctx, userID)
}

func (s *Service) resolvePortfolioHint(ctx context.Context, userID uuid.UUID, hint *bool) (bool, error) {
	if hint != nil {
		return *hint, nil
	}
	has, err := s.repo.HasApprovedPortfolioItems(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("portfolio lookup: %w", err)
	}
	return has, nil
}
