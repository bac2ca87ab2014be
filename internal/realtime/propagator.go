package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ochsettings/internal/models"
)

const settingsTable = "user_settings"

type EntitlementsReader interface {
	GetUserEntitlements(ctx context.Context, userID uuid.UUID) (*models.UserEntitlements, error)
}

// Handlers are invoked from the subscription goroutine. Either may be nil.
type Handlers struct {
	OnSettingsChange     func(ChangeEvent)
	OnEntitlementsChange func(*models.UserEntitlements)
}

// Propagator multiplexes a user's row changes and settings broadcasts onto
// one subscription.
type Propagator struct {
	feed ChangeFeed
	bus  Bus
	ents EntitlementsReader
	log  *zap.Logger
}

func NewPropagator(feed ChangeFeed, bus Bus, ents EntitlementsReader, log *zap.Logger) *Propagator {
	return &Propagator{feed: feed, bus: bus, ents: ents, log: log.Named("propagator")}
}

// Subscribe starts delivering events for userID. The returned function tears
// the subscription down; calling it more than once is a no-op.
func (p *Propagator) Subscribe(ctx context.Context, userID uuid.UUID, h Handlers) (func(), error) {
	rows, stopRows := p.feed.Subscribe(userID)
	sub, err := p.bus.Subscribe(ctx, SettingsMasterChannel(userID))
	if err != nil {
		stopRows()
		return nil, fmt.Errorf("subscribe %s: %w", SettingsMasterChannel(userID), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	log := p.log.With(zap.String("user_id", userID.String()))
	msgs := sub.Messages()

	go func() {
		for rows != nil || msgs != nil {
			select {
			case <-ctx.Done():
				return
			case rc, ok := <-rows:
				if !ok {
					rows = nil
					continue
				}
				p.handleRow(ctx, log, userID, rc, h)
			case m, ok := <-msgs:
				if !ok {
					msgs = nil
					continue
				}
				p.handleBroadcast(log, userID, m, h)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			stopRows()
			if err := sub.Close(); err != nil {
				log.Warn("closing broadcast subscription", zap.Error(err))
			}
		})
	}, nil
}

func (p *Propagator) handleRow(ctx context.Context, log *zap.Logger, userID uuid.UUID, rc RowChange, h Handlers) {
	if rc.Table == settingsTable {
		// an UPDATE that only touched timestamps carries no columns
		if h.OnSettingsChange == nil || (rc.Op == "UPDATE" && len(rc.Record) == 0) {
			return
		}
		h.OnSettingsChange(ChangeEvent{
			UserID:    userID,
			Type:      string(DetermineChangeType(rc.Record)),
			Changes:   rc.Record,
			Timestamp: time.Now().UTC(),
			Source:    "database",
		})
		return
	}

	// billing rows: never trust the payload, read the entitlements fresh
	if h.OnEntitlementsChange == nil {
		return
	}
	ent, err := p.ents.GetUserEntitlements(ctx, userID)
	if err != nil {
		log.Warn("refetching entitlements", zap.String("table", rc.Table), zap.Error(err))
		return
	}
	h.OnEntitlementsChange(ent)
}

func (p *Propagator) handleBroadcast(log *zap.Logger, userID uuid.UUID, m Message, h Handlers) {
	if m.Event != EventSettingsChanged || h.OnSettingsChange == nil {
		return
	}
	var ev ChangeEvent
	if err := json.Unmarshal(m.Payload, &ev); err != nil {
		log.Warn("bad settings_changed payload", zap.Error(err))
		return
	}
	if ev.UserID == uuid.Nil {
		ev.UserID = userID
	}
	ev.Source = "broadcast"
	h.OnSettingsChange(ev)
}
