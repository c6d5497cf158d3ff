package session

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/playback"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/protocol"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// fakeService answers both channels: every commit transcribes to a fixed
// phrase and every user message gets one text chunk, one audio chunk and
// generation_end.
func fakeService(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/transcribe", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			if f, _ := protocol.Parse(data); f.IsCommit() {
				conn.WriteJSON(protocol.Transcription("hello assistant"))
			}
		}
	})
	mux.HandleFunc("/ws/chat", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, _ := protocol.Parse(data)
			if f.Type != protocol.TypeUserMessage {
				continue
			}
			conn.WriteJSON(protocol.TextChunk("hi there", f.Turn))
			conn.WriteMessage(websocket.BinaryMessage, audio.EncodePCM16(make([]float32, 480)))
			conn.WriteJSON(protocol.GenerationEnd(f.Turn))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type instantVoice struct{ done chan struct{} }

func (v instantVoice) Done() <-chan struct{} { return v.done }
func (v instantVoice) Stop()                 {}

type instantSink struct {
	mu     sync.Mutex
	played int
}

func (s *instantSink) Play(audio.Clip) (playback.Voice, error) {
	s.mu.Lock()
	s.played++
	s.mu.Unlock()
	done := make(chan struct{})
	close(done)
	return instantVoice{done: done}, nil
}

type utteranceMic struct {
	frames [][]byte
}

func (m *utteranceMic) Open(context.Context, audio.Format) (audio.Capture, error) {
	return &utteranceCapture{frames: m.frames, closed: make(chan struct{})}, nil
}

type utteranceCapture struct {
	mu     sync.Mutex
	frames [][]byte
	closed chan struct{}
	once   sync.Once
}

func (c *utteranceCapture) Read(p []byte) (int, error) {
	c.mu.Lock()
	if len(c.frames) > 0 {
		n := copy(p, c.frames[0])
		c.frames = c.frames[1:]
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()
	<-c.closed
	return 0, io.EOF
}

func (c *utteranceCapture) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func utterance(f audio.Format, loud, quiet int) [][]byte {
	n := f.FrameBytes() / 2
	frame := func(amp float64) []byte {
		s := make([]float32, n)
		for i := range s {
			s[i] = float32(amp * math.Sin(2*math.Pi*300*float64(i)/float64(f.SampleRate)))
		}
		return audio.EncodePCM16(s)
	}
	var out [][]byte
	for range loud {
		out = append(out, frame(0.5))
	}
	for range quiet {
		out = append(out, frame(0))
	}
	return out
}

func TestVoiceSessionRoundTrip(t *testing.T) {
	base := fakeService(t)
	cfg := DefaultConfig()
	cfg.TranscribeURL = base + "/ws/transcribe"
	cfg.GenerateURL = base + "/ws/chat"
	cfg.Segmenter.Silence = 40 * time.Millisecond

	sink := &instantSink{}
	ctx := context.Background()
	v, err := Open(ctx, cfg, sink)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer v.Close()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := v.Coordinator().Subscribe(subCtx)

	mic := &utteranceMic{frames: utterance(cfg.Segmenter.Format, 10, 5)}
	if err := v.Listen(ctx, mic); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := v.Listen(ctx, mic); err == nil {
		t.Fatal("second Listen succeeded")
	}

	want := []State{Listening, Thinking, Speaking, Idle}
	deadline := time.After(5 * time.Second)
	for len(want) > 0 {
		select {
		case e := <-events:
			if e.Type != EventState {
				continue
			}
			if e.State != want[0] {
				t.Fatalf("state = %s, want %s", e.State, want[0])
			}
			want = want[1:]
		case <-deadline:
			t.Fatalf("timed out, still waiting for %v", want)
		}
	}

	msgs := v.Coordinator().Messages()
	if len(msgs) != 2 || msgs[0].Text != "hello assistant" || msgs[1].Text != "hi there" {
		t.Fatalf("messages = %+v", msgs)
	}
	sink.mu.Lock()
	played := sink.played
	sink.mu.Unlock()
	if played != 1 {
		t.Fatalf("played %d chunks, want 1", played)
	}

	v.StopListening()
	v.StopListening()
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestOpenFailsCleanly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GenerateURL = "ws://127.0.0.1:1/ws/chat"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Open(ctx, cfg, &instantSink{}); err == nil {
		t.Fatal("Open succeeded without a service")
	}
}

// holdSink keeps every clip playing until it is stopped.
type holdSink struct{ started chan struct{} }

type holdVoice struct {
	done chan struct{}
	once sync.Once
}

func (v *holdVoice) Done() <-chan struct{} { return v.done }
func (v *holdVoice) Stop()                 { v.once.Do(func() { close(v.done) }) }

func (s *holdSink) Play(audio.Clip) (playback.Voice, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	return &holdVoice{done: make(chan struct{})}, nil
}

// toneService answers every user message with one second of a loud tone.
func toneService(t *testing.T) string {
	t.Helper()
	tone := make([]float32, playback.DefaultSampleRate)
	for i := range tone {
		tone[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(playback.DefaultSampleRate)))
	}
	chunk := audio.EncodePCM16(tone)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if f, _ := protocol.Parse(data); f.Type == protocol.TypeUserMessage {
				conn.WriteMessage(websocket.BinaryMessage, chunk)
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRenderLoopDrivesLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GenerateURL = toneService(t) + "/ws/chat"
	cfg.TickInterval = -1

	sink := &holdSink{started: make(chan struct{}, 1)}
	ctx := context.Background()
	v, err := Open(ctx, cfg, sink)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer v.Close()

	if err := v.Say(ctx, "hum"); err != nil {
		t.Fatalf("Say: %v", err)
	}
	select {
	case <-sink.started:
	case <-time.After(2 * time.Second):
		t.Fatal("tone never played")
	}

	time.Sleep(50 * time.Millisecond)
	if got := v.Coordinator().Level(); got != 0 {
		t.Fatalf("level = %f without a Tick, want 0", got)
	}
	if got := v.Tick(time.Now()); got <= 0 {
		t.Fatalf("Tick level = %f, want > 0", got)
	}
	if got := v.Coordinator().Level(); got <= 0 {
		t.Fatalf("level after Tick = %f", got)
	}
}
