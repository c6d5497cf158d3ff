package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/generation"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/metrics"
)

// Generator is the generation channel as seen by the coordinator.
type Generator interface {
	Connect(ctx context.Context, sessionID, personaID string, h generation.Handlers) error
	SendMessage(text string, turn uint64) error
	Interrupt() error
	Close() error
}

// Player is the playback scheduler as seen by the coordinator.
type Player interface {
	Enqueue(chunk []byte) error
	Interrupt()
	Level() float64
	// Busy reports whether queued audio has not finished playing.
	Busy() bool
}

// Coordinator is the single authority over the interaction state. It owns the
// current AI message and the turn counter; no two turns ever append to the
// same message.
type Coordinator struct {
	sessionID string
	personaID string
	gen       Generator
	player    Player
	events    *dispatcher
	now       func() time.Time

	sendMu sync.Mutex

	mu      sync.Mutex
	state   State
	conv    Conversation
	current int
	turn    uint64
	// open is set while inbound text and audio belong to the current turn.
	// Only a new turn, barge-in, speech onset or disconnect clears it.
	open bool
	// complete is set once the current turn has a completion signal.
	complete bool
	// audible is set while enqueued audio has not drained.
	audible bool
	closed  bool
}

func NewCoordinator(sessionID, personaID string, gen Generator, player Player) *Coordinator {
	return &Coordinator{
		sessionID: sessionID,
		personaID: personaID,
		gen:       gen,
		player:    player,
		events:    newDispatcher(),
		now:       time.Now,
		conv:      Conversation{SessionID: sessionID},
		current:   -1,
	}
}

// Connect opens the generation channel with this coordinator's handlers.
func (c *Coordinator) Connect(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := c.gen.Connect(ctx, c.sessionID, c.personaID, c.handlers()); err != nil {
		return fmt.Errorf("connect generation: %w", err)
	}
	return nil
}

func (c *Coordinator) handlers() generation.Handlers {
	return generation.Handlers{
		OnAudio:       c.onAudio,
		OnTextChunk:   c.onTextChunk,
		OnComplete:    c.onComplete,
		OnInterrupted: c.onInterrupted,
		OnError:       c.Fail,
		OnDisconnect:  c.onDisconnect,
	}
}

// Subscribe streams coordinator events in order until ctx is done.
func (c *Coordinator) Subscribe(ctx context.Context) <-chan Event {
	return c.events.subscribe(ctx)
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Level is the playback level, 0 to 255.
func (c *Coordinator) Level() float64 { return c.player.Level() }

// Messages returns a copy of the transcript.
func (c *Coordinator) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.conv.Messages))
	copy(out, c.conv.Messages)
	return out
}

// SpeechStarted handles a speech onset from the segmenter. Speaking over the
// assistant interrupts it.
func (c *Coordinator) SpeechStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.bargeInLocked("speech")
	c.open = false
	c.setStateLocked(Listening)
}

// Submit sends a user message, starting a new turn. A turn still in progress
// is interrupted on both channels first. An empty transcript just returns the
// coordinator to idle.
func (c *Coordinator) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if text == "" {
		if c.state == Listening {
			c.setStateLocked(Idle)
		}
		c.mu.Unlock()
		return nil
	}
	c.bargeInLocked("message")
	c.turn++
	turn := c.turn
	c.appendLocked(RoleUser, text, false, turn)
	c.current = c.appendLocked(RoleAI, "", true, turn)
	c.open, c.complete, c.audible = true, false, false
	c.setStateLocked(Thinking)
	c.mu.Unlock()

	err := c.gen.SendMessage(text, turn)
	if errors.Is(err, generation.ErrNotOpen) {
		slog.Info("generation channel not open, reconnecting", "session_id", c.sessionID, "turn", turn)
		if err = c.Connect(ctx); err == nil {
			err = c.gen.SendMessage(text, turn)
		}
	}
	if err != nil {
		c.abandon(turn, err)
		return err
	}
	return nil
}

// Interrupt stops the assistant on user request.
func (c *Coordinator) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bargeInLocked("manual") {
		c.setStateLocked(Idle)
	}
}

// Fail surfaces a pipeline error. Capture errors end listening; the rest leave
// the turn state alone.
func (c *Coordinator) Fail(err error) {
	kind := Classify(err)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(err, kind)
	if kind == KindCapture && c.state == Listening {
		c.setStateLocked(Idle)
	}
}

// PlaybackDrained is called by the player once queued audio has finished. A
// drain delivered after newer audio was enqueued is ignored.
func (c *Coordinator) PlaybackDrained() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.player.Busy() {
		return
	}
	c.audible = false
	if c.complete && c.state == Speaking {
		c.setStateLocked(Idle)
	}
}

// Close interrupts any turn and ends event delivery.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.bargeInLocked("close")
	c.open = false
	c.setStateLocked(Idle)
	c.closed = true
	c.mu.Unlock()
	c.events.close()
}

func (c *Coordinator) onTextChunk(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.activeLocked("text_chunk")
	if !ok {
		return
	}
	msg.Text += text
	if c.state == Thinking {
		c.setStateLocked(Speaking)
	}
	c.events.emit(Event{Type: EventTextDelta, Text: text, Turn: msg.Turn, Message: *msg})
}

// onAudio enqueues under the coordinator lock so a concurrent barge-in cannot
// interleave between the turn check and the enqueue.
func (c *Coordinator) onAudio(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.activeLocked("audio"); !ok {
		return
	}
	if err := c.player.Enqueue(chunk); err != nil {
		slog.Warn("enqueue audio", "error", err)
		return
	}
	c.audible = true
	// Audio may trail the completion signal; idle resumes after it drains.
	if c.state == Thinking || c.state == Idle {
		c.setStateLocked(Speaking)
	}
}

func (c *Coordinator) onComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current < 0 {
		c.orderingLocked("complete")
		return
	}
	if !c.open || c.complete {
		return
	}
	c.finishLocked()
	if !c.audible && (c.state == Thinking || c.state == Speaking) {
		c.setStateLocked(Idle)
	}
}

func (c *Coordinator) onInterrupted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	slog.Info("generation interrupted", "session_id", c.sessionID, "turn", c.turn)
	c.events.emit(Event{Type: EventInterrupted, Turn: c.turn})
}

// onDisconnect ends the current turn: nothing more will arrive for it. Audio
// already queued keeps playing.
func (c *Coordinator) onDisconnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(err, KindConnectivity)
	if c.current < 0 || !c.open {
		return
	}
	c.open = false
	if c.complete {
		return
	}
	c.finishLocked()
	if !c.audible && (c.state == Thinking || c.state == Speaking) {
		c.setStateLocked(Idle)
	}
}

// abandon unwinds a turn whose message never reached the service.
func (c *Coordinator) abandon(turn uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(err, Classify(err))
	if turn != c.turn || !c.open {
		return
	}
	c.open = false
	if !c.complete {
		c.finishLocked()
	}
	if c.state == Thinking {
		c.setStateLocked(Idle)
	}
}

// activeLocked returns the AI message that inbound traffic belongs to.
func (c *Coordinator) activeLocked(what string) (*Message, bool) {
	if c.current < 0 || !c.open {
		c.orderingLocked(what)
		return nil, false
	}
	return &c.conv.Messages[c.current], true
}

// bargeInLocked interrupts both channels when a turn is in flight and reports
// whether it did. Both interrupts happen before the caller proceeds.
func (c *Coordinator) bargeInLocked(trigger string) bool {
	if c.state != Thinking && c.state != Speaking {
		return false
	}
	metrics.Interrupts.WithLabelValues(trigger).Inc()
	if err := c.gen.Interrupt(); err != nil && !errors.Is(err, generation.ErrNotOpen) {
		slog.Warn("send interrupt", "error", err)
	}
	c.player.Interrupt()
	c.audible = false
	c.open = false
	if c.current >= 0 && !c.complete {
		c.finishLocked()
	}
	slog.Info("barge-in", "session_id", c.sessionID, "turn", c.turn, "trigger", trigger)
	c.events.emit(Event{Type: EventInterrupted, Turn: c.turn})
	c.setStateLocked(Idle)
	return true
}

func (c *Coordinator) finishLocked() {
	c.complete = true
	msg := &c.conv.Messages[c.current]
	msg.Streaming = false
	c.events.emit(Event{Type: EventMessage, Message: *msg, Turn: msg.Turn})
	c.events.emit(Event{Type: EventComplete, Message: *msg, Turn: msg.Turn})
}

func (c *Coordinator) appendLocked(role Role, text string, streaming bool, turn uint64) int {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: c.now(),
		Streaming: streaming,
		Turn:      turn,
	}
	c.conv.Messages = append(c.conv.Messages, msg)
	c.events.emit(Event{Type: EventMessage, Message: msg, Turn: turn})
	return len(c.conv.Messages) - 1
}

func (c *Coordinator) setStateLocked(next State) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	metrics.StateTransitions.WithLabelValues(prev.String(), next.String()).Inc()
	slog.Debug("interaction state", "session_id", c.sessionID, "from", prev.String(), "to", next.String())
	c.events.emit(Event{Type: EventState, State: next, Prev: prev, Turn: c.turn})
}

func (c *Coordinator) orderingLocked(what string) {
	slog.Warn("dropping frame outside an active turn", "session_id", c.sessionID, "frame", what, "state", c.state.String())
	c.failLocked(fmt.Errorf("%s: %w", what, ErrOrdering), KindOrdering)
}

func (c *Coordinator) failLocked(err error, kind ErrorKind) {
	metrics.ChannelErrors.WithLabelValues("session", string(kind)).Inc()
	if kind != KindOrdering {
		slog.Warn("pipeline error", "session_id", c.sessionID, "kind", string(kind), "error", err)
	}
	c.events.emit(Event{Type: EventError, Err: err, Kind: kind, Turn: c.turn})
}
