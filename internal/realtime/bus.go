package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Broadcast event names.
const (
	EventSettingsChanged   = "settings_changed"
	EventSettingsUpdated   = "settings_updated"
	EventVisibilityChanged = "visibility_changed"
)

// Per-user channel names. Independently deployed instances must agree on these.
func SettingsMasterChannel(userID uuid.UUID) string { return "settings_master_" + userID.String() }

func PortfolioVisibilityChannel(userID uuid.UUID) string {
	return "portfolio_visibility_" + userID.String()
}

func SettingsChannel(userID uuid.UUID) string { return "settings_" + userID.String() }

// Message is an application-level broadcast.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sentAt"`
}

// NewMessage marshals payload into a Message stamped with the current time.
func NewMessage(event string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: event, Payload: raw, SentAt: time.Now().UTC()}, nil
}

// ChangeEvent is the body of a settings_changed broadcast and what
// settings handlers receive.
type ChangeEvent struct {
	UserID    uuid.UUID      `json:"userId"`
	Type      string         `json:"type"`
	Changes   map[string]any `json:"changes"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source,omitempty"`
}

type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Bus is a pub/sub transport for named channels.
type Bus interface {
	Publish(ctx context.Context, channel string, msg Message) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}
