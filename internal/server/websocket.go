package server

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/smartspawner/internal/core/events/bus"
	"github.com/zeusync/smartspawner/internal/core/observability/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// FeedMessage is one bus event as sent to feed clients.
type FeedMessage struct {
	Type   string    `json:"type"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
	Data   any       `json:"data,omitempty"`
}

// feedClient is a websocket connection fed from the event bus. Events are
// queued without blocking the publisher; a full queue drops the event.
type feedClient struct {
	id   string
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (c *feedClient) close() {
	c.once.Do(func() { close(c.done) })
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if atomic.AddInt64(&s.feedCount, 1) > int64(s.config.MaxFeedClients) {
		atomic.AddInt64(&s.feedCount, -1)
		writeError(w, http.StatusServiceUnavailable, ErrMaxClientsReached.Error())
		return
	}
	defer atomic.AddInt64(&s.feedCount, -1)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Feed upgrade failed", log.Error(err))
		return
	}
	defer conn.Close()

	client := &feedClient{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan []byte, s.config.FeedBuffer),
		done: make(chan struct{}),
	}

	types := r.URL.Query()["type"]
	sub, err := s.events.Subscribe(bus.AnyEvent, func(e bus.Event) error {
		if len(types) > 0 && !slices.Contains(types, e.Type()) {
			return nil
		}
		s.enqueue(client, e)
		return nil
	})
	if err != nil {
		s.logger.Error("Feed subscribe failed", log.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"), time.Now().Add(time.Second))
		return
	}
	defer func() { _ = sub.Cancel() }()

	s.feeds.Store(client.id, client)
	defer s.feeds.Delete(client.id)
	s.logger.Debug("Feed client connected", log.String("client_id", client.id))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeFeed(client)
	}()

	// reader loop only detects the peer going away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				client.close()
				return
			}
		}
	}()

	<-writerDone
	s.logger.Debug("Feed client disconnected", log.String("client_id", client.id))
}

func (s *Server) enqueue(c *feedClient, e bus.Event) {
	b, err := json.Marshal(FeedMessage{Type: e.Type(), Source: e.Source(), At: e.Timestamp(), Data: e.Data()})
	if err != nil {
		s.logger.Warn("Feed event not encodable", log.String("type", e.Type()), log.Error(err))
		return
	}
	select {
	case c.out <- b:
	default:
		atomic.AddUint64(&s.dropped, 1)
	}
}

func (s *Server) writeFeed(c *feedClient) {
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			return
		case b := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.close()
				return
			}
		}
	}
}
