package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ochsettings/internal/models"
	"ochsettings/internal/realtime"
	"ochsettings/internal/settings"
)

type UpdateType string

const (
	UpdateProfileCompleteness     UpdateType = "profile_completeness"
	UpdatePrivacy                 UpdateType = "privacy"
	UpdateNotificationPreferences UpdateType = "notification_preferences"
	UpdateCoachingPreferences     UpdateType = "coaching_preferences"
	UpdateGeneral                 UpdateType = "general"
)

// CoordinatePath is where the coordination endpoint is mounted.
const CoordinatePath = "/api/settings/coordinate"

// SecretHeader carries the optional coordination shared secret.
const SecretHeader = "X-Coordination-Secret"

// ClassifyUpdate maps changed columns to an update type, first match wins.
func ClassifyUpdate(changes map[string]any) UpdateType {
	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := changes[k]; ok {
				return true
			}
		}
		return false
	}
	switch {
	case has("profile_completeness", "avatar_uploaded"):
		return UpdateProfileCompleteness
	case has("portfolio_visibility", "marketplace_contact_enabled"):
		return UpdatePrivacy
	case has("notifications_email", "notifications_categories"):
		return UpdateNotificationPreferences
	case has("ai_coach_style", "habit_frequency"):
		return UpdateCoachingPreferences
	default:
		return UpdateGeneral
	}
}

// CoordinateRequest is the body POSTed to the coordination endpoint.
type CoordinateRequest struct {
	UserID  uuid.UUID      `json:"userId"`
	Type    UpdateType     `json:"type"`
	Changes map[string]any `json:"changes"`
}

type Recomputer interface {
	RecomputeCompleteness(ctx context.Context, userID uuid.UUID) (int, error)
}

// Dispatcher fans a settings mutation out to the coordination endpoint,
// the recompute procedure and the broadcast channels.
type Dispatcher struct {
	client        *http.Client
	coordinateURL string
	secret        string
	recomputer    Recomputer
	bus           realtime.Bus
	log           *zap.Logger
	now           func() time.Time
}

func NewDispatcher(baseURL, secret string, client *http.Client, recomputer Recomputer, bus realtime.Bus, log *zap.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Dispatcher{
		client:        client,
		coordinateURL: strings.TrimRight(baseURL, "/") + CoordinatePath,
		secret:        secret,
		recomputer:    recomputer,
		bus:           bus,
		log:           log.Named("trigger"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Trigger runs after a settings mutation has been persisted. Nothing here
// fails the mutation: every step logs and carries on.
func (d *Dispatcher) Trigger(ctx context.Context, userID uuid.UUID, update models.SettingsUpdate) UpdateType {
	changes := update.Changes()
	kind := ClassifyUpdate(changes)
	log := d.log.With(zap.String("user_id", userID.String()), zap.String("type", string(kind)))

	if err := d.coordinate(ctx, CoordinateRequest{UserID: userID, Type: kind, Changes: changes}); err != nil {
		log.Warn("coordination call failed; relying on database trigger", zap.Error(err))
	}

	if settings.AffectsCompleteness(changes) {
		if score, err := d.recomputer.RecomputeCompleteness(ctx, userID); err != nil {
			log.Warn("completeness recompute failed", zap.Error(err))
		} else {
			log.Debug("completeness recomputed", zap.Int("score", score))
		}
	}

	if update.PortfolioVisibility != nil {
		payload := map[string]any{
			"userId":     userID,
			"visibility": *update.PortfolioVisibility,
			"timestamp":  d.now(),
		}
		if err := d.publish(ctx, realtime.PortfolioVisibilityChannel(userID), realtime.EventVisibilityChanged, payload); err != nil {
			log.Warn("visibility broadcast failed", zap.Error(err))
		}
	}

	if err := d.BroadcastSettingsChange(ctx, userID, string(kind), changes); err != nil {
		log.Warn("settings broadcast failed", zap.Error(err))
	}
	return kind
}

// BroadcastSettingsChange publishes settings_changed on the user's master channel.
func (d *Dispatcher) BroadcastSettingsChange(ctx context.Context, userID uuid.UUID, kind string, changes map[string]any) error {
	ev := realtime.ChangeEvent{
		UserID:    userID,
		Type:      kind,
		Changes:   changes,
		Timestamp: d.now(),
	}
	return d.publish(ctx, realtime.SettingsMasterChannel(userID), realtime.EventSettingsChanged, ev)
}

// PublishSnapshot sends the persisted row on the user's settings channel.
func (d *Dispatcher) PublishSnapshot(ctx context.Context, s *models.UserSettings) error {
	return d.publish(ctx, realtime.SettingsChannel(s.UserID), realtime.EventSettingsUpdated, s)
}

func (d *Dispatcher) publish(ctx context.Context, channel, event string, payload any) error {
	msg, err := realtime.NewMessage(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	msg.SentAt = d.now()
	return d.bus.Publish(ctx, channel, msg)
}

func (d *Dispatcher) coordinate(ctx context.Context, body CoordinateRequest) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.coordinateURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.secret != "" {
		req.Header.Set(SecretHeader, d.secret)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("coordination endpoint returned %s", resp.Status)
	}
	return nil
}
