// Package generation implements the duplex channel that carries user turns to
// the generation service and streams text, audio and control frames back.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/metrics"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/protocol"
)

const channelName = "generation"

var (
	// ErrNotOpen is returned by sends when no connection is open. It is a
	// connectivity error: callers may Connect again and retry.
	ErrNotOpen = errors.New("generation: channel not open")
	// ErrConnecting is returned by Connect while another Connect is dialing.
	ErrConnecting = errors.New("generation: connect in progress")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("generation: channel closed")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Interrupted
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Interrupted:
		return "interrupted"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ProtocolError is a non-fatal error frame sent by the service.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return "generation service: " + e.Message }

// Handlers receive inbound traffic in arrival order on the read goroutine.
// Only one set is active; Connect replaces it.
type Handlers struct {
	OnAudio       func(chunk []byte)
	OnTextChunk   func(text string)
	OnComplete    func()
	OnInterrupted func()
	OnError       func(err error)
	// OnDisconnect reports connectivity loss. The channel is Disconnected
	// when it runs.
	OnDisconnect func(err error)
}

type Config struct {
	URL   string
	Token string
	// HandshakeTimeout defaults to 10s.
	HandshakeTimeout time.Duration
}

// Channel owns the single generation socket of a session.
type Channel struct {
	cfg    Config
	dialer websocket.Dialer

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	done     chan struct{}
	handlers Handlers
	epoch    uint64

	// turn is the last turn sent. tagged records that the peer echoes turns,
	// which enables stale frame filtering.
	turn        uint64
	tagged      bool
	awaitingAck bool

	writeMu sync.Mutex
}

func New(cfg Config) *Channel {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Channel{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the socket for sessionID and personaID. When a connection is
// already open it only replaces the handlers.
func (c *Channel) Connect(ctx context.Context, sessionID, personaID string, h Handlers) error {
	c.mu.Lock()
	switch c.state {
	case Open, Interrupted:
		c.handlers = h
		c.mu.Unlock()
		return nil
	case Connecting:
		c.mu.Unlock()
		return ErrConnecting
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = Connecting
	c.mu.Unlock()

	conn, err := c.dial(ctx, protocol.Params{SessionID: sessionID, PersonaID: personaID, Token: c.cfg.Token})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		if conn != nil {
			conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		c.state = Disconnected
		metrics.ChannelErrors.WithLabelValues(channelName, "dial").Inc()
		return err
	}

	c.epoch++
	c.conn = conn
	c.done = make(chan struct{})
	c.handlers = h
	c.state = Open
	c.tagged, c.awaitingAck = false, false
	go c.readLoop(conn, c.epoch, c.done)
	slog.Info("generation channel open", "session_id", sessionID, "persona_id", personaID)
	return nil
}

func (c *Channel) dial(ctx context.Context, p protocol.Params) (*websocket.Conn, error) {
	wsURL, err := p.URL(c.cfg.URL)
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("generation connect (status %d): %s: %w", resp.StatusCode, body, err)
		}
		return nil, fmt.Errorf("generation connect: %w", err)
	}
	return conn, nil
}

// SendMessage starts a new user turn. turn must increase across calls.
func (c *Channel) SendMessage(text string, turn uint64) error {
	c.mu.Lock()
	if c.state != Open && c.state != Interrupted {
		c.mu.Unlock()
		return ErrNotOpen
	}
	conn := c.conn
	c.turn = turn
	c.state = Open
	c.mu.Unlock()

	if err := c.writeJSON(conn, protocol.UserMessage(text, turn, time.Now())); err != nil {
		return fmt.Errorf("send user message: %w", err)
	}
	return nil
}

// Interrupt asks the service to stop the current generation. It is advisory:
// delivery is not confirmed. Repeated calls before the next turn send nothing.
func (c *Channel) Interrupt() error {
	c.mu.Lock()
	switch c.state {
	case Interrupted:
		c.mu.Unlock()
		return nil
	case Open:
	default:
		c.mu.Unlock()
		return ErrNotOpen
	}
	conn := c.conn
	c.state = Interrupted
	c.awaitingAck = c.tagged
	c.mu.Unlock()

	if err := c.writeJSON(conn, protocol.Interrupt()); err != nil {
		return fmt.Errorf("send interrupt: %w", err)
	}
	return nil
}

// Close tears the channel down for good. Safe to call repeatedly, but not
// from inside a handler.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Closed
	c.epoch++
	conn, done := c.conn, c.done
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := conn.Close()
	<-done
	return err
}

func (c *Channel) writeJSON(conn *websocket.Conn, f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		metrics.ChannelErrors.WithLabelValues(channelName, "write").Inc()
		return err
	}
	metrics.ChannelFrames.WithLabelValues(channelName, "out", f.Type).Inc()
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn, epoch uint64, done chan struct{}) {
	defer close(done)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			c.disconnected(epoch, err)
			return
		}
		if kind == websocket.BinaryMessage {
			c.audio(epoch, data)
			continue
		}
		f, err := protocol.Parse(data)
		if err != nil {
			slog.Warn("generation channel: bad frame", "error", err)
			continue
		}
		c.dispatch(epoch, f)
	}
}

func (c *Channel) audio(epoch uint64, data []byte) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	if c.awaitingAck {
		c.mu.Unlock()
		metrics.ChunksDropped.WithLabelValues("stale_turn").Inc()
		return
	}
	h := c.handlers
	c.mu.Unlock()

	metrics.ChannelFrames.WithLabelValues(channelName, "in", "audio").Inc()
	if h.OnAudio != nil {
		h.OnAudio(data)
	}
}

type dispatchFunc func(h Handlers, f protocol.Frame)

var dispatchTable = map[string]dispatchFunc{
	protocol.TypeTextChunk: func(h Handlers, f protocol.Frame) {
		if h.OnTextChunk != nil {
			h.OnTextChunk(f.Content)
		}
	},
	protocol.TypeGenerationEnd: complete,
	protocol.TypeAudioEnd:      complete,
	protocol.TypeInterrupted: func(h Handlers, _ protocol.Frame) {
		if h.OnInterrupted != nil {
			h.OnInterrupted()
		}
	},
	protocol.TypeError: func(h Handlers, f protocol.Frame) {
		slog.Warn("generation service error", "message", f.Message, "turn", f.Turn)
		if h.OnError != nil {
			h.OnError(&ProtocolError{Message: f.Message})
		}
	},
}

func complete(h Handlers, _ protocol.Frame) {
	if h.OnComplete != nil {
		h.OnComplete()
	}
}

func (c *Channel) dispatch(epoch uint64, f protocol.Frame) {
	fn, ok := dispatchTable[f.Type]
	if !ok {
		slog.Warn("generation channel: unknown frame type", "type", f.Type)
		return
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	if f.Turn != 0 {
		c.tagged = true
	}
	if f.Type == protocol.TypeInterrupted {
		c.awaitingAck = false
		if c.state == Interrupted {
			c.state = Open
		}
	}
	if current := c.turn; f.Turn != 0 && f.Turn != current && f.Type != protocol.TypeInterrupted {
		c.mu.Unlock()
		slog.Debug("generation channel: stale frame", "type", f.Type, "turn", f.Turn, "current", current)
		metrics.ChannelFrames.WithLabelValues(channelName, "in", "stale").Inc()
		return
	}
	if f.Turn != 0 && f.Turn == c.turn {
		c.awaitingAck = false
	}
	h := c.handlers
	c.mu.Unlock()

	metrics.ChannelFrames.WithLabelValues(channelName, "in", f.Type).Inc()
	fn(h, f)
}

func (c *Channel) disconnected(epoch uint64, err error) {
	c.mu.Lock()
	if epoch != c.epoch || c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = Disconnected
	c.conn.Close()
	c.conn = nil
	h := c.handlers
	c.mu.Unlock()

	metrics.ChannelErrors.WithLabelValues(channelName, "read").Inc()
	slog.Error("generation channel lost", "error", err)
	if h.OnDisconnect != nil {
		h.OnDisconnect(fmt.Errorf("generation connection: %w", err))
	}
}
