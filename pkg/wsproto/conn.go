package wsproto

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chattyapp/chatty-server/pkg/observability/prometheus"
)

// Connection states.
const (
	stateAwaitingInit int32 = iota
	stateInitialized
	stateClosing
	stateClosed
)

// Options configures per-connection behavior.
type Options struct {
	// KeepaliveInterval is the cadence of server keepalive frames; inbound
	// silence for three intervals closes the connection.
	KeepaliveInterval time.Duration

	// InitTimeout bounds the wait for the init frame.
	InitTimeout time.Duration

	// QueueCapacity bounds the outbound frame queue.
	QueueCapacity int

	// OverflowWindow and OverflowLimit: more than OverflowLimit queue
	// overflows inside OverflowWindow closes the connection.
	OverflowWindow time.Duration
	OverflowLimit  int

	// WriteTimeout bounds a single socket write.
	WriteTimeout time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		KeepaliveInterval: 10 * time.Second,
		InitTimeout:       10 * time.Second,
		QueueCapacity:     64,
		OverflowWindow:    30 * time.Second,
		OverflowLimit:     3,
		WriteTimeout:      10 * time.Second,
	}
}

// Conn is one client connection. One goroutine reads and dispatches
// inbound frames serially; one goroutine writes outbound frames in
// enqueue order.
type Conn struct {
	id      string
	ws      *websocket.Conn
	handler SubscriptionHandler
	out     *sink
	opts    Options
	log     zerolog.Logger

	state     atomic.Int32
	closeOnce sync.Once
	done      chan struct{}
	onClose   func(*Conn)
}

func newConn(ws *websocket.Conn, handler SubscriptionHandler, opts Options, log zerolog.Logger, onClose func(*Conn)) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:      id,
		ws:      ws,
		handler: handler,
		out:     newSink(opts.QueueCapacity, opts.OverflowWindow, opts.OverflowLimit),
		opts:    opts,
		log:     log.With().Str("component", "conn").Str("conn_id", id).Logger(),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// ID implements Client.
func (c *Conn) ID() string { return c.id }

// Enqueue implements Client.
func (c *Conn) Enqueue(f Frame) { c.out.enqueue(f) }

// Done is closed once the connection is fully torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// serve runs the connection to completion.
func (c *Conn) serve() {
	prometheus.GetMetrics().OpenConnections.Inc()
	go c.writeLoop()
	c.readLoop()
	c.teardown()
}

// teardown cascades the disconnect exactly once: subscriptions first, then
// the sink. The writer owns the socket; closing the sink wakes it to flush
// what is already queued and close the socket.
func (c *Conn) teardown() {
	c.closeOnce.Do(func() {
		c.state.Store(stateClosed)
		c.handler.OnDisconnect(c.id)
		c.out.close()
		if c.onClose != nil {
			c.onClose(c)
		}
		prometheus.GetMetrics().OpenConnections.Dec()
		close(c.done)
	})
}

func (c *Conn) readLoop() {
	c.ws.SetReadDeadline(time.Now().Add(c.opts.InitTimeout))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if c.state.Load() == stateInitialized {
			c.ws.SetReadDeadline(time.Now().Add(3 * c.opts.KeepaliveInterval))
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.protocolError("malformed frame")
			return
		}
		if !c.dispatch(f) {
			return
		}
	}
}

// dispatch handles one inbound frame; false stops the read loop.
func (c *Conn) dispatch(f Frame) bool {
	if c.state.Load() == stateAwaitingInit {
		if f.Type != FrameInit {
			c.out.enqueue(Frame{Type: FrameInitErr, Payload: mustJSON(ErrorPayload{Code: CodeProtocolError, Message: "expected init"})})
			return false
		}
		if len(f.Payload) > 0 {
			var params map[string]interface{}
			if err := json.Unmarshal(f.Payload, &params); err != nil {
				c.out.enqueue(Frame{Type: FrameInitErr, Payload: mustJSON(ErrorPayload{Code: CodeProtocolError, Message: "malformed init params"})})
				return false
			}
		}
		c.state.Store(stateInitialized)
		c.out.enqueue(Frame{Type: FrameInitAck})
		c.ws.SetReadDeadline(time.Now().Add(3 * c.opts.KeepaliveInterval))
		go c.keepaliveLoop()
		c.log.Debug().Msg("session initialized")
		return true
	}

	switch f.Type {
	case FrameStart:
		if f.ID == "" {
			c.protocolError("start without id")
			return false
		}
		var sp StartPayload
		if len(f.Payload) == 0 || json.Unmarshal(f.Payload, &sp) != nil {
			c.protocolError("malformed start payload")
			return false
		}
		c.handler.OnStart(c, f.ID, sp)
		return true

	case FrameStop:
		if f.ID == "" {
			c.protocolError("stop without id")
			return false
		}
		c.handler.OnStop(c, f.ID)
		return true

	case FrameTerminate:
		c.log.Debug().Msg("client terminated session")
		return false

	default:
		c.protocolError("unexpected frame type: " + string(f.Type))
		return false
	}
}

// protocolError queues a session-level error frame; the caller then stops
// the read loop, and the writer flushes the frame best-effort before the
// socket closes.
func (c *Conn) protocolError(msg string) {
	c.log.Warn().Str("reason", msg).Msg("protocol error")
	c.state.Store(stateClosing)
	c.out.enqueue(ErrorFrame("", CodeProtocolError, msg))
}

// writeLoop drains the sink and owns the socket close: it is the only
// place the underlying websocket is closed, after queued frames have been
// flushed best-effort.
func (c *Conn) writeLoop() {
	defer c.ws.Close()
	for {
		batch, stop := c.out.drain()
		for _, f := range batch {
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteJSON(f); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.teardown()
				return
			}
			prometheus.GetMetrics().FramesSent.WithLabelValues(string(f.Type)).Inc()
		}
		if stop {
			if c.out.overflowed() {
				c.state.Store(stateClosing)
				c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
				c.ws.WriteJSON(ErrorFrame("", CodeSlowConsumer, "connection closed: client too slow"))
				c.log.Warn().Msg("closing slow consumer")
			}
			c.teardown()
			return
		}
	}
}

func (c *Conn) keepaliveLoop() {
	ticker := time.NewTicker(c.opts.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.out.enqueue(KeepaliveFrame())
		case <-c.done:
			return
		}
	}
}

func mustJSON(v interface{}) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
