package wsproto

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server accepts subscription connections and hands their protocol events
// to the SubscriptionHandler.
type Server struct {
	handler  SubscriptionHandler
	opts     Options
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewServer creates a connection manager over handler.
func NewServer(handler SubscriptionHandler, opts Options, log zerolog.Logger) *Server {
	return &Server{
		handler: handler,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// the protocol carries no credentials; origin policy is
				// delegated to the deployment's proxy
				return true
			},
		},
		log:   log.With().Str("component", "wsproto").Logger(),
		conns: make(map[string]*Conn),
	}
}

// ServeHTTP makes the server mountable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.HandleWebSocket(w, r)
}

// HandleWebSocket upgrades the request and serves the subscription
// protocol on it.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newConn(ws, s.handler, s.opts, s.log, s.removeConn)
	s.mu.Lock()
	s.conns[conn.id] = conn
	s.mu.Unlock()
	s.log.Debug().Str("conn_id", conn.id).Str("remote", r.RemoteAddr).Msg("connection accepted")

	go conn.serve()
}

func (s *Server) removeConn(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

// ConnCount reports the number of tracked connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown tears down every live connection and waits for them to finish
// or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.teardown()
	}
	for _, c := range conns {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
