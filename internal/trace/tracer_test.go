package trace

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type memWriter struct {
	mu       sync.Mutex
	calls    []string
	sessions map[string]string
	turns    map[string]Turn
	spans    []Span
	failSpan bool
}

func newMemWriter() *memWriter {
	return &memWriter{sessions: map[string]string{}, turns: map[string]Turn{}}
}

func (m *memWriter) log(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, s)
}

func (m *memWriter) CreateSession(id, personaID string) error {
	m.log("session_create")
	m.mu.Lock()
	m.sessions[id] = personaID
	m.mu.Unlock()
	return nil
}

func (m *memWriter) EndSession(string) error {
	m.log("session_end")
	return nil
}

func (m *memWriter) CreateTurn(id, sessionID string, seq uint64) error {
	m.log("turn_create")
	m.mu.Lock()
	m.turns[id] = Turn{ID: id, SessionID: sessionID, Seq: int64(seq), Status: StatusRunning}
	m.mu.Unlock()
	return nil
}

func (m *memWriter) UpdateTurn(id string, durationMs, firstAudioMs float64, status string) error {
	m.log("turn_update")
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.turns[id]
	t.DurationMs, t.FirstAudioMs, t.Status = durationMs, firstAudioMs, status
	m.turns[id] = t
	return nil
}

func (m *memWriter) CreateSpan(sp Span) error {
	m.log("span")
	if m.failSpan {
		return errors.New("db down")
	}
	m.mu.Lock()
	m.spans = append(m.spans, sp)
	m.mu.Unlock()
	return nil
}

func TestTracerLifecycle(t *testing.T) {
	w := newMemWriter()
	tr := NewTracer(w, "sess-1", "nova")

	turnID := tr.StartTurn(3)
	if turnID == "" {
		t.Fatal("empty turn id")
	}
	start := time.Now()
	tr.RecordSpan(turnID, "llm", start, 120*time.Millisecond, nil)
	tr.RecordSpan(turnID, "tts", start, 80*time.Millisecond, errors.New(strings.Repeat("x", 1000)))
	tr.EndTurn(turnID, 400*time.Millisecond, 150*time.Millisecond, StatusOK)
	tr.Close()
	tr.Close()

	want := []string{"session_create", "turn_create", "span", "span", "turn_update", "session_end"}
	if strings.Join(w.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", w.calls, want)
	}
	if w.sessions["sess-1"] != "nova" {
		t.Errorf("persona = %q", w.sessions["sess-1"])
	}
	turn := w.turns[turnID]
	if turn.Seq != 3 || turn.Status != StatusOK || turn.DurationMs != 400 || turn.FirstAudioMs != 150 {
		t.Errorf("turn = %+v", turn)
	}
	if len(w.spans) != 2 || w.spans[1].Status != StatusError || len(w.spans[1].Error) != maxErrLen {
		t.Errorf("spans = %+v", w.spans)
	}
}

func TestTracerAfterCloseIsNoop(t *testing.T) {
	w := newMemWriter()
	tr := NewTracer(w, "sess-1", "")
	tr.Close()

	id := tr.StartTurn(1)
	tr.EndTurn(id, time.Second, 0, StatusOK)
	if len(w.turns) != 0 {
		t.Fatalf("turn written after close: %v", w.turns)
	}
}

func TestNilTracer(t *testing.T) {
	var tr *Tracer
	id := tr.StartTurn(1)
	tr.RecordSpan(id, "llm", time.Now(), time.Second, nil)
	tr.EndTurn(id, time.Second, 0, StatusOK)
	tr.Close()
}

func TestTracerWriteFailureContinues(t *testing.T) {
	w := newMemWriter()
	w.failSpan = true
	tr := NewTracer(w, "sess-1", "")
	id := tr.StartTurn(1)
	tr.RecordSpan(id, "asr", time.Now(), time.Millisecond, nil)
	tr.EndTurn(id, time.Millisecond, 0, StatusError)
	tr.Close()

	if w.turns[id].Status != StatusError {
		t.Fatalf("turn update lost after span failure: %+v", w.turns[id])
	}
}
