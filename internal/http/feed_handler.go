package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"evcharge/internal/events"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedPongWait     = 60 * time.Second
	feedPingPeriod   = 30 * time.Second
)

// Subscriber entrega eventos de estaciones a un consumidor.
type Subscriber interface {
	Subscribe() (<-chan events.StationEvent, func())
}

// FeedHandler empuja los cambios de estado de las estaciones por websocket.
type FeedHandler struct {
	logger   *zap.Logger
	hub      Subscriber
	upgrader websocket.Upgrader
}

// NewFeedHandler acepta conexiones de los orígenes dados; vacío o "*" acepta
// cualquiera.
func NewFeedHandler(logger *zap.Logger, hub Subscriber, origins []string) *FeedHandler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	_, wildcard := allowed["*"]
	return &FeedHandler{
		logger: logger,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || wildcard || len(allowed) == 0 {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// Stream maneja GET /stations/feed.
func (h *FeedHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("feed upgrade failed", zap.Error(err))
		return
	}
	feed, cancel := h.hub.Subscribe()
	defer cancel()
	defer conn.Close()

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case event, ok := <-feed:
			if !ok {
				_ = h.write(conn, websocket.CloseMessage, nil)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("feed write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := h.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump descarta lo que envíe el cliente y avisa cuando la conexión cae.
func (h *FeedHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Debug("feed connection closed", zap.Error(err))
			return
		}
	}
}

func (h *FeedHandler) write(conn *websocket.Conn, messageType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return conn.WriteMessage(messageType, data)
}
