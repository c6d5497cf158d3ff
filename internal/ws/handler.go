package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/auth"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/metrics"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/persona"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/pipeline"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/protocol"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/trace"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Config holds the shared backend clients for all sessions.
type Config struct {
	ASR       *pipeline.ASRRouter
	ASREngine string

	LLM       pipeline.Chatter
	LLMEngine string
	LLMModel  string

	TTS       pipeline.Synthesizer
	TTSEngine string
	TTSSpeed  float64

	Personas *persona.Registry
	// Signer enables token checks when it carries a secret.
	Signer *auth.Signer
	// TraceStore is optional; chat turns are traced when set.
	TraceStore trace.Writer

	MaxConcurrent int
}

// Server serves the transcription and generation sockets with a shared
// admission limit.
type Server struct {
	cfg Config
	sem chan struct{}
}

func NewServer(cfg Config) *Server {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 100
	}
	if cfg.Personas == nil {
		cfg.Personas = persona.NewRegistry()
	}
	return &Server{
		cfg: cfg,
		sem: make(chan struct{}, cfg.MaxConcurrent),
	}
}

// admit reserves a session slot, validates the connection parameters and
// upgrades. On failure it has already written the HTTP response.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, endpoint string) (*websocket.Conn, protocol.Params, func(), bool) {
	select {
	case s.sem <- struct{}{}:
	default:
		metrics.Errors.WithLabelValues(endpoint, "capacity").Inc()
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return nil, protocol.Params{}, nil, false
	}
	release := func() { <-s.sem }

	p := protocol.ParamsFromQuery(r.URL.Query())
	if s.cfg.Signer.Enabled() {
		claims, err := s.cfg.Signer.Validate(p.Token)
		if err != nil || (p.SessionID != "" && claims.SessionID != p.SessionID) {
			release()
			metrics.Errors.WithLabelValues(endpoint, "unauthorized").Inc()
			slog.Warn("session rejected", "endpoint", endpoint, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return nil, protocol.Params{}, nil, false
		}
		p.SessionID = claims.SessionID
		if p.PersonaID == "" {
			p.PersonaID = claims.PersonaID
		}
	}
	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		release()
		slog.Error("websocket upgrade failed", "endpoint", endpoint, "error", err)
		return nil, protocol.Params{}, nil, false
	}
	conn.SetReadLimit(maxFrameSize)

	metrics.SessionsActive.WithLabelValues(endpoint).Inc()
	metrics.SessionsTotal.WithLabelValues(endpoint).Inc()
	return conn, p, func() {
		metrics.SessionsActive.WithLabelValues(endpoint).Dec()
		conn.Close()
		release()
	}, true
}

// socket serializes writes to one connection.
type socket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *socket) writeJSON(f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(websocket.TextMessage, data)
}

// writeIf writes only while ctx is live, checked under the write lock so a
// cancelled turn cannot interleave with frames sent after the cancel.
func (s *socket) writeIf(ctx context.Context, kind int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(kind, data)
}

func (s *socket) writeFrameIf(ctx context.Context, f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.writeIf(ctx, websocket.TextMessage, data)
}

func (s *socket) write(kind int, data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(kind, data)
}
