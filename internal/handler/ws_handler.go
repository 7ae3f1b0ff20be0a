package handler

import (
	"context"
	"net/http"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/middleware"
	"settlement-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// IntentEventSubscriber streams the events of one intent until ctx ends.
type IntentEventSubscriber interface {
	Subscribe(ctx context.Context, intentID string) (<-chan *domain.IntentEvent, error)
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type IntentStreamHandler struct {
	intents *usecase.IntentUsecase
	events  IntentEventSubscriber
	logger  *zap.Logger
}

func NewIntentStreamHandler(intents *usecase.IntentUsecase, events IntentEventSubscriber, logger *zap.Logger) *IntentStreamHandler {
	return &IntentStreamHandler{intents: intents, events: events, logger: logger}
}

// Stream handles GET /payments/intent/{id}/ws. The first message is the
// current state, followed by every change.
func (h *IntentStreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "id")
	actor := middleware.ActorFromContext(r.Context())

	intent, err := h.intents.GetIntent(r.Context(), actor, intentID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	// Subscribe before the upgrade so no change between the snapshot and
	// the first event is lost.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := h.events.Subscribe(ctx, intentID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("intent_id", intentID), zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("intent_id", intentID), zap.String("user_id", actor.UserID))
	log.Info("intent stream opened")

	// Reader loop: only pongs and close frames are expected.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshot := domain.NewIntentEvent(domain.IntentEventType("intent."+string(intent.Status)), intent, time.Now().UTC())
	if err := writeJSON(conn, snapshot); err != nil {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("intent stream closed")
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := writeJSON(conn, ev); err != nil {
				log.Debug("intent stream write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}
