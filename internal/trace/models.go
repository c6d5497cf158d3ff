package trace

import "time"

// Session is one chat socket.
type Session struct {
	ID        string     `json:"id"`
	PersonaID string     `json:"persona_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	TurnCount int        `json:"turn_count,omitempty"`
}

// Turn is one user message through LLM and TTS. Only timings and status are
// kept; conversation text is never stored.
type Turn struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Seq          int64     `json:"seq"`
	StartedAt    time.Time `json:"started_at"`
	DurationMs   float64   `json:"duration_ms,omitempty"`
	FirstAudioMs float64   `json:"first_audio_ms,omitempty"`
	Status       string    `json:"status"`
	SpanCount    int       `json:"span_count,omitempty"`
}

// Span is one stage of a turn (asr, llm, tts, first_audio).
type Span struct {
	ID         string    `json:"id"`
	TurnID     string    `json:"turn_id"`
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Turn statuses.
const (
	StatusRunning   = "running"
	StatusOK        = "ok"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)
