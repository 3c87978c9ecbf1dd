package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/events"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// EventsHandler pushes the caller's lifecycle events over a websocket
type EventsHandler struct {
	hub      *events.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewEventsHandler(hub *events.Hub, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// bearer tokens gate the channel, not origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	employeeID := employeeFrom(r)

	// subscribed before the handshake completes so no event published
	// after the client sees the upgrade is missed
	sub := h.hub.Subscribe(employeeID)
	defer h.hub.Unsubscribe(sub)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Info("Event subscriber connected", zap.String("employee_id", employeeID))

	// clients only send control frames; reading surfaces the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("Event write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			h.logger.Info("Event subscriber disconnected", zap.String("employee_id", employeeID))
			return
		}
	}
}
