package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// RowChange is one row-level change event from the database.
type RowChange struct {
	Table  string         `json:"table"`
	Op     string         `json:"op"`
	UserID uuid.UUID      `json:"user_id"`
	Record map[string]any `json:"record"`
}

// ChangeFeed delivers row changes for a single user's rows.
type ChangeFeed interface {
	Subscribe(userID uuid.UUID) (<-chan RowChange, func())
}

// Hub fans row changes out to per-user subscribers.
type Hub struct {
	mu            sync.RWMutex
	log           *zap.Logger
	subscriptions map[uuid.UUID]map[*hubSubscriber]bool
}

type hubSubscriber struct {
	out chan RowChange
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:           log.Named("change_hub"),
		subscriptions: make(map[uuid.UUID]map[*hubSubscriber]bool),
	}
}

func (h *Hub) Subscribe(userID uuid.UUID) (<-chan RowChange, func()) {
	s := &hubSubscriber{out: make(chan RowChange, 16)}

	h.mu.Lock()
	subs, ok := h.subscriptions[userID]
	if !ok {
		subs = make(map[*hubSubscriber]bool)
		h.subscriptions[userID] = subs
	}
	subs[s] = true
	h.mu.Unlock()

	var once sync.Once
	return s.out, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subscriptions[userID]; ok {
				delete(subs, s)
				if len(subs) == 0 {
					delete(h.subscriptions, userID)
				}
			}
			close(s.out)
		})
	}
}

// Dispatch delivers rc to every subscriber of rc.UserID without blocking.
func (h *Hub) Dispatch(rc RowChange) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subscriptions[rc.UserID] {
		select {
		case s.out <- rc:
		default:
			h.log.Warn("dropping row change; subscriber buffer full",
				zap.String("user_id", rc.UserID.String()), zap.String("table", rc.Table))
		}
	}
}

// PGChangeFeed LISTENs for row-change notifications and dispatches them
// through its Hub.
type PGChangeFeed struct {
	*Hub
	dsn      string
	channels []string
	log      *zap.Logger
}

func NewPGChangeFeed(dsn string, channels []string, log *zap.Logger) *PGChangeFeed {
	return &PGChangeFeed{
		Hub:      NewHub(log),
		dsn:      dsn,
		channels: channels,
		log:      log.Named("pg_change_feed"),
	}
}

// Run listens until ctx is cancelled, reconnecting after connection loss.
func (f *PGChangeFeed) Run(ctx context.Context) {
	for {
		err := f.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		f.log.Warn("change feed disconnected; reconnecting", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *PGChangeFeed) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, f.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	for _, ch := range f.channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("listen %s: %w", ch, err)
		}
	}
	f.log.Info("change feed listening", zap.Strings("channels", f.channels))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		rc, err := ParseRowChange([]byte(n.Payload))
		if err != nil {
			f.log.Warn("bad change payload", zap.String("channel", n.Channel), zap.Error(err))
			continue
		}
		f.Dispatch(rc)
	}
}

// ParseRowChange decodes a trigger notification payload.
func ParseRowChange(payload []byte) (RowChange, error) {
	var rc RowChange
	if err := json.Unmarshal(payload, &rc); err != nil {
		return RowChange{}, err
	}
	if rc.UserID == uuid.Nil {
		return RowChange{}, fmt.Errorf("change payload without user_id")
	}
	if rc.Record == nil {
		rc.Record = map[string]any{}
	}
	return rc, nil
}
