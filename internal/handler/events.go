package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/event"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for localhost usage
	},
}

// EventStreamer pushes core events to websocket clients
type EventStreamer struct {
	subscribe func() (<-chan event.Event, func())
	log       *zap.Logger
}

// NewEventStreamer creates a streamer over the given subscription source.
func NewEventStreamer(subscribe func() (<-chan event.Event, func()), log *zap.Logger) *EventStreamer {
	return &EventStreamer{subscribe: subscribe, log: log}
}

// HandleEvents upgrades the connection and writes each event as JSON.
// ?service= limits the stream to one service.
func (s *EventStreamer) HandleEvents(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("service")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s.log.Debug("websocket connected", zap.String("service", filter))

	// Create a context that cancels when the connection closes
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Handle client disconnect
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	events, unsubscribe := s.subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("websocket stream ended", zap.String("reason", "client gone"))
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if filter != "" && e.ServiceID != filter {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				s.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
