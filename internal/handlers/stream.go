package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ochsettings/internal/models"
	"ochsettings/internal/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type Subscriber interface {
	Subscribe(ctx context.Context, userID uuid.UUID, h realtime.Handlers) (func(), error)
}

type StreamHandler struct {
	propagator Subscriber
	upgrader   websocket.Upgrader
	log        *zap.Logger
}

// NewStreamHandler accepts websocket handshakes from the given origins; "*"
// allows any origin.
func NewStreamHandler(propagator Subscriber, allowedOrigins []string, log *zap.Logger) *StreamHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &StreamHandler{
		propagator: propagator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
		log: log.Named("stream"),
	}
}

// Stream upgrades to a websocket and pushes the caller's settings and
// entitlements changes until either side disconnects.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	log := h.log.With(zap.String("user_id", id.String()))

	send := make(chan StreamFrame, 16)
	push := func(f StreamFrame) {
		select {
		case send <- f:
		default:
			log.Warn("stream send buffer full; dropping frame", zap.String("type", f.Type))
		}
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop, err := h.propagator.Subscribe(ctx, id, realtime.Handlers{
		OnSettingsChange: func(ev realtime.ChangeEvent) {
			push(StreamFrame{Type: frameSettingsChange, Change: &ev})
		},
		OnEntitlementsChange: func(ent *models.UserEntitlements) {
			push(StreamFrame{Type: frameEntitlementsChange, Entitlements: ent})
		},
	})
	if err != nil {
		log.Warn("subscribing to changes", zap.Error(err))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(writeWait))
		return
	}
	defer stop()
	log.Debug("stream opened")
	push(StreamFrame{Type: frameReady})

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("stream read error", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			log.Debug("stream closed")
			return
		case f := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				log.Debug("stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
