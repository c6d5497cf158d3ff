package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/metrics"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/pipeline"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/protocol"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/trace"
)

const chatEndpoint = "chat"

// activeTurn is the generation in flight on a chat socket.
type activeTurn struct {
	cancel context.CancelFunc
	done   chan struct{}
	tag    uint64
}

type chatSession struct {
	sessionID string
	sock      *socket
	conv      *pipeline.Conversation
	count     uint64
	lastTag   uint64
	turn      *activeTurn
}

// Chat serves /ws/chat. Each user_message starts a turn that streams
// text_chunk frames, binary WAV chunks and finally generation_end and
// audio_end. A new message supersedes the running turn; an interrupt frame
// cancels it and is acknowledged with an interrupted frame. Turn tags sent by
// the client are echoed on every frame of that turn.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	conn, p, done, ok := s.admit(w, r, chatEndpoint)
	if !ok {
		return
	}
	defer done()

	pers, known := s.cfg.Personas.Get(p.PersonaID)
	if !known {
		slog.Warn("unknown persona, using fallback", "persona_id", p.PersonaID)
	}

	var tracer *trace.Tracer
	if s.cfg.TraceStore != nil {
		tracer = trace.NewTracer(s.cfg.TraceStore, p.SessionID, pers.ID)
	}
	defer tracer.Close()

	sess := &chatSession{
		sessionID: p.SessionID,
		sock:      &socket{conn: conn},
		conv: pipeline.NewConversation(pipeline.ConversationConfig{
			LLM:       s.cfg.LLM,
			TTS:       s.cfg.TTS,
			Persona:   pers,
			LLMEngine: s.cfg.LLMEngine,
			LLMModel:  s.cfg.LLMModel,
			TTSEngine: s.cfg.TTSEngine,
			TTSSpeed:  s.cfg.TTSSpeed,
			Tracer:    tracer,
		}),
	}

	slog.Info("chat session started", "session_id", p.SessionID, "persona_id", pers.ID)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.serve(ctx, conn)
	sess.stop("disconnect")
	slog.Info("chat session ended", "session_id", p.SessionID, "turns", sess.count)
}

func (c *chatSession) serve(ctx context.Context, conn *websocket.Conn) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("chat socket closed", "session_id", c.sessionID, "error", err)
			return
		}
		if kind != websocket.TextMessage {
			c.sock.writeJSON(protocol.Error("binary frames are not accepted", 0))
			continue
		}
		f, err := protocol.Parse(data)
		if err != nil {
			c.sock.writeJSON(protocol.Error("malformed frame", 0))
			continue
		}

		switch f.Type {
		case protocol.TypeUserMessage:
			c.stop("superseded")
			c.start(ctx, f)
		case protocol.TypeInterrupt:
			c.stop("interrupt")
			c.sock.writeJSON(protocol.Interrupted(c.lastTag))
		default:
			c.sock.writeJSON(protocol.Error("unknown frame type "+f.Type, f.Turn))
		}
	}
}

// stop cancels the running turn, if any, and waits for it to finish writing.
func (c *chatSession) stop(reason string) {
	t := c.turn
	if t == nil {
		return
	}
	c.turn = nil
	select {
	case <-t.done:
		return
	default:
	}
	t.cancel()
	<-t.done
	metrics.TurnsCancelled.WithLabelValues(reason).Inc()
	slog.Info("turn cancelled", "session_id", c.sessionID, "turn", t.tag, "reason", reason)
}

func (c *chatSession) start(ctx context.Context, f protocol.Frame) {
	c.count++
	seq := c.count
	tag := f.Turn
	c.lastTag = tag
	turnCtx, cancel := context.WithCancel(ctx)
	t := &activeTurn{cancel: cancel, done: make(chan struct{}), tag: tag}
	c.turn = t

	go func() {
		defer close(t.done)
		defer cancel()
		c.run(turnCtx, seq, tag, f.Content)
	}()
}

func (c *chatSession) run(ctx context.Context, seq, tag uint64, content string) {
	sink := pipeline.TurnSink{
		OnText: func(token string) {
			c.sock.writeFrameIf(ctx, protocol.TextChunk(token, tag))
		},
		OnAudio: func(wav []byte) {
			c.sock.writeIf(ctx, websocket.BinaryMessage, wav)
		},
	}

	_, err := c.conv.Run(ctx, seq, content, sink)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		metrics.Errors.WithLabelValues("turn", "failed").Inc()
		slog.Error("turn failed", "session_id", c.sessionID, "seq", seq, "error", err)
		c.sock.writeFrameIf(ctx, protocol.Error(err.Error(), tag))
		// The turn is over; let the client unwind.
		c.sock.writeFrameIf(ctx, protocol.GenerationEnd(tag))
		return
	}
	c.sock.writeFrameIf(ctx, protocol.GenerationEnd(tag))
	c.sock.writeFrameIf(ctx, protocol.AudioEnd(tag))
}
