package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/metrics"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/pipeline"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/protocol"
)

const transcribeEndpoint = "transcribe"

// Transcribe serves /ws/transcribe. Binary frames are buffered until a COMMIT
// control frame, then the utterance is recognized and one transcription frame
// is sent back. Commits are answered in order; an empty transcription means
// nothing usable was heard.
func (s *Server) Transcribe(w http.ResponseWriter, r *http.Request) {
	conn, p, done, ok := s.admit(w, r, transcribeEndpoint)
	if !ok {
		return
	}
	defer done()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sock := &socket{conn: conn}
	utt := pipeline.NewUtterance(audio.Codec(p.Codec), p.SampleRate)
	commits := make(chan []float32, 4)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		s.recognize(ctx, sock, p.SessionID, commits)
	}()

	slog.Info("transcription session started", "session_id", p.SessionID, "codec", utt.Codec(), "sample_rate", p.SampleRate)
	s.readUplink(conn, utt, p.SessionID, commits)
	close(commits)
	cancel()
	<-finished
	slog.Info("transcription session ended", "session_id", p.SessionID)
}

func (s *Server) readUplink(conn *websocket.Conn, utt *pipeline.Utterance, sessionID string, commits chan<- []float32) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("transcription socket closed", "session_id", sessionID, "error", err)
			return
		}
		if kind == websocket.BinaryMessage {
			if err := utt.Append(data); err != nil {
				metrics.Errors.WithLabelValues(transcribeEndpoint, "decode").Inc()
				slog.Warn("drop uplink frame", "session_id", sessionID, "error", err)
				continue
			}
			metrics.AudioFrames.Inc()
			continue
		}
		f, err := protocol.Parse(data)
		if err != nil || !f.IsCommit() {
			slog.Warn("unexpected transcription control frame", "session_id", sessionID, "bytes", len(data))
			continue
		}
		commits <- utt.Take()
	}
}

// recognize drains commits until the reader closes the channel. After a
// write failure it keeps draining without calling ASR.
func (s *Server) recognize(ctx context.Context, sock *socket, sessionID string, commits <-chan []float32) {
	broken := false
	for samples := range commits {
		if broken || ctx.Err() != nil {
			continue
		}
		text, err := pipeline.TranscribeUtterance(ctx, s.cfg.ASR, s.cfg.ASREngine, samples)
		if err != nil && ctx.Err() == nil {
			metrics.Errors.WithLabelValues("asr", "transcribe").Inc()
			slog.Error("transcription failed", "session_id", sessionID, "error", err)
		}
		if err := sock.writeJSON(protocol.Transcription(text)); err != nil {
			slog.Debug("write transcription", "session_id", sessionID, "error", err)
			broken = true
		}
	}
}
