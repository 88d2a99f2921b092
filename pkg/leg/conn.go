package leg

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-callbridge/internal/log"
)

const (
	// DefaultQueueSize is the outbound buffer per leg.
	DefaultQueueSize = 256

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second

	// closeGrace bounds the close handshake write.
	closeGrace = time.Second
)

// WSConn is the subset of a WebSocket connection a leg needs. Both
// gorilla/websocket and gofiber/contrib/websocket connections satisfy it.
type WSConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// CloseClassifier reports whether err is a close frame with one of codes.
type CloseClassifier func(err error, codes ...int) bool

type outbound struct {
	kind int
	data []byte
}

// Conn is a Leg over a WebSocket connection.
//
// Outbound frames are queued on a buffered channel drained by a single write
// pump, so Send methods never block. Inbound frames are read by ReadLoop and
// delivered to the sink in arrival order.
type Conn struct {
	role   Role
	ws     WSConn
	sink   Sink
	logger *slog.Logger

	send         chan outbound
	done         chan struct{}
	pumpDone     chan struct{}
	state        atomic.Int32
	started      atomic.Bool
	closeOnce    sync.Once
	writeTimeout time.Duration
	pingPeriod   time.Duration
	isClose      CloseClassifier

	sent     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		c.logger = l
	}
}

// WithQueueSize sets the outbound queue capacity.
func WithQueueSize(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.send = make(chan outbound, n)
		}
	}
}

// WithPingPeriod enables WebSocket pings at the given period.
func WithPingPeriod(d time.Duration) Option {
	return func(c *Conn) {
		c.pingPeriod = d
	}
}

// WithCloseClassifier replaces the function used to recognise a clean close.
// Connections accepted through fasthttp need the fasthttp flavour.
func WithCloseClassifier(fn CloseClassifier) Option {
	return func(c *Conn) {
		if fn != nil {
			c.isClose = fn
		}
	}
}

// NewConn wraps ws as a leg with the given role. The leg is Connecting until
// Start is called.
func NewConn(role Role, ws WSConn, sink Sink, opts ...Option) *Conn {
	c := &Conn{
		role:         role,
		ws:           ws,
		sink:         sink,
		logger:       log.Component("leg"),
		send:         make(chan outbound, DefaultQueueSize),
		done:         make(chan struct{}),
		pumpDone:     make(chan struct{}),
		writeTimeout: DefaultWriteTimeout,
		isClose:      websocket.IsCloseError,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("role", string(role))
	c.state.Store(int32(StateConnecting))
	return c
}

// Role implements Leg.
func (c *Conn) Role() Role {
	return c.role
}

// State implements Leg.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Start marks the leg open, emits EventOpen and starts the write pump.
// It must be called once, before ReadLoop.
func (c *Conn) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		close(c.pumpDone)
		return
	}
	c.emit(Event{Role: c.role, Kind: EventOpen, Leg: c})
	go c.writePump()
}

// Run starts the leg and reads in a background goroutine.
func (c *Conn) Run() {
	c.Start()
	go c.ReadLoop()
}

// ReadLoop reads frames until the connection ends, then emits exactly one
// terminal event: EventClose for a clean or local close, EventError otherwise.
func (c *Conn) ReadLoop() {
	defer c.shutdown()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		c.received.Add(1)
		c.emit(Event{
			Role:   c.role,
			Kind:   EventMessage,
			Data:   data,
			Binary: kind == websocket.BinaryMessage,
		})
	}
}

func (c *Conn) finish(err error) {
	select {
	case <-c.done:
		c.state.Store(int32(StateClosed))
		c.emit(Event{Role: c.role, Kind: EventClose})
		return
	default:
	}

	if c.isClose(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		c.logger.Info("leg closed by peer")
		c.state.Store(int32(StateClosed))
		c.emit(Event{Role: c.role, Kind: EventClose, Err: err})
		return
	}

	c.logger.Warn("leg read failed", "error", err)
	c.state.Store(int32(StateFailed))
	c.emit(Event{Role: c.role, Kind: EventError, Err: fmt.Errorf("%s read: %w", c.role, err)})
}

// SendText implements Leg.
func (c *Conn) SendText(data []byte) error {
	return c.enqueue(outbound{kind: websocket.TextMessage, data: data})
}

// SendJSON implements Leg.
func (c *Conn) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", c.role, err)
	}
	return c.SendText(data)
}

// SendBinary implements Leg.
func (c *Conn) SendBinary(data []byte) error {
	return c.enqueue(outbound{kind: websocket.BinaryMessage, data: data})
}

func (c *Conn) enqueue(m outbound) error {
	if c.State() != StateOpen {
		return ErrClosed
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- m:
		return nil
	default:
		c.dropped.Add(1)
		return ErrBackpressure
	}
}

// Close implements Leg. Queued frames are flushed before the close frame.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.state.CompareAndSwap(int32(StateOpen), int32(StateClosed))
		c.state.CompareAndSwap(int32(StateConnecting), int32(StateClosed))
		close(c.done)
		if !c.started.Load() {
			_ = c.ws.Close()
		}
	})
	return nil
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Stats returns frame counters.
func (c *Conn) Stats() (sent, received, dropped uint64) {
	return c.sent.Load(), c.received.Load(), c.dropped.Load()
}

// writePump is the only goroutine that writes to the connection.
func (c *Conn) writePump() {
	var pings <-chan time.Time
	if c.pingPeriod > 0 {
		ticker := time.NewTicker(c.pingPeriod)
		defer ticker.Stop()
		pings = ticker.C
	}
	defer close(c.pumpDone)

	for {
		select {
		case m := <-c.send:
			if err := c.write(m.kind, m.data); err != nil {
				c.logger.Warn("leg write failed", "error", err)
				_ = c.ws.Close()
				return
			}
			c.sent.Add(1)

		case <-pings:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}

		case <-c.done:
			c.flush()
			_ = c.ws.SetWriteDeadline(time.Now().Add(closeGrace))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.ws.Close()
			return
		}
	}
}

func (c *Conn) flush() {
	for {
		select {
		case m := <-c.send:
			if err := c.write(m.kind, m.data); err != nil {
				return
			}
			c.sent.Add(1)
		default:
			return
		}
	}
}

func (c *Conn) write(kind int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(kind, data)
}

// shutdown runs after the read loop exits.
func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	if c.started.Load() {
		<-c.pumpDone
	} else {
		_ = c.ws.Close()
	}
}

func (c *Conn) emit(ev Event) {
	if c.sink != nil {
		c.sink(ev)
	}
}
