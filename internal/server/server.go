package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/smartspawner/internal/app"
	"github.com/zeusync/smartspawner/internal/core/events/bus"
	"github.com/zeusync/smartspawner/internal/core/observability/log"
)

// Server exposes the spawner service over HTTP and streams bus events to
// websocket feed clients.
type Server struct {
	config  Config
	service *app.Service
	events  bus.EventBus
	logger  log.Log

	httpServer *http.Server
	listener   net.Listener
	serveDone  chan struct{}

	// Feed clients
	feeds     sync.Map // map[string]*feedClient
	feedCount int64    // atomic
	dropped   uint64   // atomic

	// Server state
	running int32 // atomic bool
	closed  int32 // atomic bool
	mu      sync.Mutex
}

// Config holds server configuration
type Config struct {
	ListenAddr string

	// Feed settings
	MaxFeedClients int
	FeedBuffer     int
	WriteTimeout   time.Duration

	ReadHeaderTimeout time.Duration
	MaxBodySize       int64
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:        "127.0.0.1:8080",
		MaxFeedClients:    256,
		FeedBuffer:        256,
		WriteTimeout:      5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxBodySize:       1 << 20, // 1MB
	}
}

func (c Config) validate() error {
	switch {
	case c.ListenAddr == "":
		return fmt.Errorf("%w: empty listen address", ErrInvalidConfig)
	case c.MaxFeedClients <= 0, c.FeedBuffer <= 0:
		return fmt.Errorf("%w: feed limits must be positive", ErrInvalidConfig)
	case c.WriteTimeout <= 0:
		return fmt.Errorf("%w: write timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Stats contains server statistics
type Stats struct {
	FeedClients   int64  `json:"feed_clients"`
	DroppedEvents uint64 `json:"dropped_events"`
	Running       bool   `json:"running"`
}

// NewServer creates a new server over the given service.
func NewServer(config Config, service *app.Service, events bus.EventBus, logger log.Log) (*Server, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultServerConfig().MaxBodySize
	}
	if events == nil {
		events = bus.Nop()
	}
	if logger == nil {
		logger = log.Provide()
	}

	server := &Server{
		config:  config,
		service: service,
		events:  events,
		logger:  logger.With(log.String("component", "server")),
	}

	server.logger.Info("Server created",
		log.String("listen_addr", config.ListenAddr),
		log.Int("max_feed_clients", config.MaxFeedClients))

	return server, nil
}

// Start binds the listener and serves in the background.
func (s *Server) Start(_ context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}

	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		s.logger.Error("Failed to create listener", log.Error(err))
		return fmt.Errorf("%w: %w", ErrListenerFailed, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}
	done := make(chan struct{})

	s.mu.Lock()
	s.listener = listener
	s.httpServer = httpServer
	s.serveDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", log.Error(err))
		}
	}()

	s.logger.Info("Server listening", log.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the HTTP server down and disconnects every feed client.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}

	s.logger.Info("Stopping server")

	// hijacked websocket connections are not tracked by Shutdown
	s.feeds.Range(func(_, value any) bool {
		value.(*feedClient).close()
		return true
	})

	s.mu.Lock()
	httpServer, done := s.httpServer, s.serveDone
	s.mu.Unlock()

	err := httpServer.Shutdown(ctx)
	<-done

	s.logger.Info("Server stopped")
	return err
}

// Close stops the server if running and prevents further starts.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil // Already closed
	}

	if atomic.LoadInt32(&s.running) == 1 {
		return s.Stop(context.Background())
	}
	return nil
}

// GetStats returns server statistics
func (s *Server) GetStats() Stats {
	return Stats{
		FeedClients:   atomic.LoadInt64(&s.feedCount),
		DroppedEvents: atomic.LoadUint64(&s.dropped),
		Running:       atomic.LoadInt32(&s.running) == 1,
	}
}
