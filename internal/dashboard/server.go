// Package dashboard serves a live feed of sync progress over WebSocket,
// along with a health check and the engine's Prometheus metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/squiddy/gitlab-to-sqlite/internal/metrics"
)

// MessageType names the payload carried by a Message.
type MessageType string

const (
	// MessageTypeSyncEvent carries a sync.Event: a state change or a fetched page.
	MessageTypeSyncEvent MessageType = "sync_event"
	// MessageTypeSyncComplete carries SyncCompleteData.
	MessageTypeSyncComplete MessageType = "sync_complete"
	// MessageTypeStats carries StatsData.
	MessageTypeStats MessageType = "stats"
)

// Message is the envelope of everything sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	// queueSize bounds the messages waiting for one client. A client that
	// falls this far behind is disconnected.
	queueSize    = 64
	writeTimeout = 5 * time.Second
)

// subscriber is one connected client with its own outgoing queue.
type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte
	// gone is closed when the subscriber is removed.
	gone chan struct{}
}

// Server publishes messages to every connected WebSocket client.
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server
	logger   *log.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}

	// welcome builds the message a client receives right after connecting.
	welcome func() Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	// Port to listen on. 0 picks a free port.
	Port int
	// Host to bind. Empty binds all interfaces.
	Host   string
	Logger *log.Logger
}

// NewServer creates a dashboard server. It does not listen until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = &Config{Port: 8080}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		logger:  logger,
		subs:    make(map[*subscriber]struct{}),
		welcome: func() Message { return Message{Type: MessageTypeStats} },
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start listens and serves /ws, /health, /metrics and an index at /.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.HandleFunc("GET /health", s.serveHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /{$}", s.serveIndex)

	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Dashboard server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	for sub := range s.subs {
		s.dropLocked(sub, websocket.StatusGoingAway, "server shutting down")
	}
	s.mu.Unlock()

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := s.http.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("failed to shut down dashboard: %w", serr)
		}
	}
	s.wg.Wait()
	s.logger.Println("Dashboard stopped")
	return err
}

// Broadcast queues msg for every connected client. It never blocks: a
// client whose queue is full is disconnected instead.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.queue <- data:
		default:
			s.logger.Printf("Client too slow, disconnecting")
			s.dropLocked(sub, websocket.StatusPolicyViolation, "too slow")
		}
	}
}

// dropLocked removes sub and reports whether it was still connected.
// s.mu must be held.
func (s *Server) dropLocked(sub *subscriber, code websocket.StatusCode, reason string) bool {
	if _, ok := s.subs[sub]; !ok {
		return false
	}
	delete(s.subs, sub)
	close(sub.gone)
	// CloseNow does not wait for the peer, so it is safe under the lock.
	if code == websocket.StatusNormalClosure {
		_ = sub.conn.CloseNow()
		return true
	}
	go func() { _ = sub.conn.Close(code, reason) }()
	return true
}

func (s *Server) drop(sub *subscriber) {
	s.mu.Lock()
	dropped := s.dropLocked(sub, websocket.StatusNormalClosure, "")
	n := len(s.subs)
	s.mu.Unlock()
	if dropped {
		s.logger.Printf("Client disconnected (%d connected)", n)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	sub := &subscriber{
		conn:  conn,
		queue: make(chan []byte, queueSize),
		gone:  make(chan struct{}),
	}

	// The welcome message goes first, ahead of anything broadcast later.
	welcome := s.welcome()
	welcome.Timestamp = time.Now()
	if data, err := json.Marshal(welcome); err == nil {
		sub.queue <- data
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	n := len(s.subs)
	s.mu.Unlock()
	s.logger.Printf("Client connected (%d connected)", n)

	// Reads only detect the peer going away; clients send nothing.
	go func() {
		for {
			if _, _, err := conn.Read(s.ctx); err != nil {
				s.drop(sub)
				return
			}
		}
	}()
	s.pump(sub)
}

// pump writes sub's queue to its connection until it is dropped.
func (s *Server) pump(sub *subscriber) {
	for {
		select {
		case <-sub.gone:
			return
		case data := <-sub.queue:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := sub.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Printf("Failed to write to client: %v", err)
				s.drop(sub)
				return
			}
		}
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"name":    "gitlab-to-sqlite",
		"ws":      "ws://" + r.Host + "/ws",
		"health":  "/health",
		"metrics": "/metrics",
	})
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
