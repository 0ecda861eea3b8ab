package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Viewer/internal/app/events"
	"github.com/dkeye/Viewer/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const (
	sendQueue    = 64
	writeTimeout = 5 * time.Second
	readLimit    = 4096
)

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// wsSubscriber is a core.Subscriber over one websocket.
type wsSubscriber struct {
	id   string
	conn WSConn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWSSubscriber(conn WSConn) *wsSubscriber {
	return &wsSubscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan core.Frame, sendQueue),
	}
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) TrySend(f core.Frame) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (s *wsSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
	_ = s.conn.Close()
}

func (s *wsSubscriber) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "adapters.ws").Str("subscriber", s.id).Msg("writePump ctx done")
			return
		case data, ok := <-s.send:
			if !ok {
				log.Debug().Str("module", "adapters.ws").Str("subscriber", s.id).Msg("writePump channel closed")
				return
			}
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump set deadline")
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "adapters.ws").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump serves pings until the client goes away, then unsubscribes.
func (s *wsSubscriber) readPump(ctx context.Context, hub *events.Hub) {
	defer func() {
		log.Info().Str("module", "adapters.ws").Str("subscriber", s.id).Msg("readPump closing")
		hub.Unsubscribe(s.id)
		s.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "adapters.ws").Str("subscriber", s.id).Msg("readPump read error")
				return
			}
			s.handle(data)
		}
	}
}

func (s *wsSubscriber) handle(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "adapters.ws").Msg("bad json")
		return
	}
	switch env.Type {
	case "ping":
		b, _ := json.Marshal(map[string]string{"type": "pong"})
		_ = s.TrySend(b)
	default:
		log.Debug().Str("module", "adapters.ws").Str("type", env.Type).Msg("unknown message")
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleEvents upgrades the request and streams hub events, starting with
// a snapshot of the current state.
func HandleEvents(ctx context.Context, hub *events.Hub, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(readLimit)
	serveSubscriber(ctx, hub, ws)
}

func serveSubscriber(ctx context.Context, hub *events.Hub, conn WSConn) *wsSubscriber {
	sub := newWSSubscriber(conn)
	log.Info().Str("module", "adapters.ws").Str("subscriber", sub.id).Msg("new WS connection")

	if snap, err := hub.SnapshotFrame(); err == nil {
		_ = sub.TrySend(snap)
	}
	hub.Subscribe(sub)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		defer sub.Close()
		sub.writePump(ctx)
	}()
	go sub.readPump(ctx, hub)
	return sub
}
