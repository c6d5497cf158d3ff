package trace

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/metrics"
)

const maxErrLen = 300

// Writer is the persistence side of a Tracer. *Store implements it.
type Writer interface {
	CreateSession(id, personaID string) error
	EndSession(id string) error
	CreateTurn(id, sessionID string, seq uint64) error
	UpdateTurn(id string, durationMs, firstAudioMs float64, status string) error
	CreateSpan(sp Span) error
}

type traceMsg struct {
	kind string // "session_create", "session_end", "turn_create", "turn_update", "span"

	turnID       string
	seq          uint64
	durationMs   float64
	firstAudioMs float64
	status       string

	span Span
}

// Tracer writes one session's turn timings through a buffered channel so the
// turn path never waits on the database. All methods are no-ops on a nil
// receiver; records are dropped when the buffer is full.
type Tracer struct {
	w         Writer
	sessionID string
	ch        chan traceMsg
	done      chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewTracer records the session start and begins draining. Close must be
// called when the session ends.
func NewTracer(w Writer, sessionID, personaID string) *Tracer {
	t := &Tracer{
		w:         w,
		sessionID: sessionID,
		ch:        make(chan traceMsg, 128),
		done:      make(chan struct{}),
	}
	go t.drain(personaID)
	return t
}

func (t *Tracer) drain(personaID string) {
	defer close(t.done)
	if err := t.w.CreateSession(t.sessionID, personaID); err != nil {
		slog.Warn("trace write failed", "kind", "session_create", "session_id", t.sessionID, "error", err)
	}
	for msg := range t.ch {
		t.handle(msg)
	}
	if err := t.w.EndSession(t.sessionID); err != nil {
		slog.Warn("trace write failed", "kind", "session_end", "session_id", t.sessionID, "error", err)
	}
}

func (t *Tracer) handle(m traceMsg) {
	handlers := map[string]func() error{
		"turn_create": func() error { return t.w.CreateTurn(m.turnID, t.sessionID, m.seq) },
		"turn_update": func() error { return t.w.UpdateTurn(m.turnID, m.durationMs, m.firstAudioMs, m.status) },
		"span":        func() error { return t.w.CreateSpan(m.span) },
	}
	fn, ok := handlers[m.kind]
	if !ok {
		return
	}
	if err := fn(); err != nil {
		slog.Warn("trace write failed", "kind", m.kind, "session_id", t.sessionID, "error", err)
	}
}

func (t *Tracer) send(m traceMsg) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.ch <- m:
	default:
		metrics.Errors.WithLabelValues("trace", "dropped").Inc()
	}
}

// StartTurn begins a turn and returns its id.
func (t *Tracer) StartTurn(seq uint64) string {
	if t == nil {
		return ""
	}
	id := uuid.NewString()
	t.send(traceMsg{kind: "turn_create", turnID: id, seq: seq})
	return id
}

// EndTurn finalizes a turn.
func (t *Tracer) EndTurn(turnID string, duration, firstAudio time.Duration, status string) {
	if t == nil || turnID == "" {
		return
	}
	t.send(traceMsg{
		kind:         "turn_update",
		turnID:       turnID,
		durationMs:   ms(duration),
		firstAudioMs: ms(firstAudio),
		status:       status,
	})
}

// RecordSpan records a completed stage. err may be nil.
func (t *Tracer) RecordSpan(turnID, name string, startedAt time.Time, duration time.Duration, err error) {
	if t == nil || turnID == "" {
		return
	}
	status, msg := StatusOK, ""
	if err != nil {
		status, msg = StatusError, truncate(err.Error(), maxErrLen)
	}
	t.send(traceMsg{
		kind: "span",
		span: Span{
			ID:         uuid.NewString(),
			TurnID:     turnID,
			Name:       name,
			StartedAt:  startedAt,
			DurationMs: ms(duration),
			Status:     status,
			Error:      msg,
		},
	})
}

// Close flushes pending writes, records the session end and stops the drain
// goroutine. Safe to call more than once.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		<-t.done
		return
	}
	t.closed = true
	close(t.ch)
	t.mu.Unlock()
	<-t.done
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
