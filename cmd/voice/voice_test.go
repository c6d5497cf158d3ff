package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/avatar"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/pipeline"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/session"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/ws"
)

func TestRenderMeterWidth(t *testing.T) {
	for _, level := range []float64{-5, 0, 60, 255, 400} {
		if got := lipgloss.Width(renderMeter(level, 20)); got != 20 {
			t.Errorf("meter(%v) width = %d, want 20", level, got)
		}
	}
	if strings.Contains(renderMeter(0, 10), "█") {
		t.Error("silent meter has filled cells")
	}
	if strings.Contains(renderMeter(255, 10), "░") {
		t.Error("full meter has empty cells")
	}
}

func TestRenderAvatarGrid(t *testing.T) {
	anim := avatar.NewAnimator(avatar.NewRegistry(), avatar.DefaultCount)
	var pts []avatar.Point
	for i := range 50 {
		pts = anim.Step(session.Idle, float64(i)/10, 0)
	}
	lines := renderAvatar(pts, 40, 12)
	if len(lines) != 12 {
		t.Fatalf("rows = %d, want 12", len(lines))
	}
	drawn := 0
	for _, l := range lines {
		if w := lipgloss.Width(l); w != 40 {
			t.Fatalf("row width = %d, want 40", w)
		}
		drawn += len(strings.TrimSpace(l))
	}
	if drawn == 0 {
		t.Fatal("empty avatar")
	}
}

func TestRenderTranscriptTail(t *testing.T) {
	msgs := []session.Message{
		{Role: session.RoleUser, Text: "one"},
		{Role: session.RoleAI, Text: "two"},
		{Role: session.RoleUser, Text: "three"},
		{Role: session.RoleAI, Text: strings.Repeat("long ", 40), Streaming: true},
	}
	lines := renderTranscript(msgs, "nova", 2, 40)
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "three") {
		t.Errorf("first line = %q", lines[0])
	}
	if w := lipgloss.Width(lines[1]); w > 40 {
		t.Errorf("streaming line width = %d, want <= 40", w)
	}
}

func TestRenderBadge(t *testing.T) {
	for _, s := range session.States {
		if got := renderBadge(s); !strings.Contains(got, strings.ToUpper(s.String())) {
			t.Errorf("badge(%v) = %q", s, got)
		}
	}
}

type scriptedLLM struct{ tokens []string }

func (l scriptedLLM) Chat(_ context.Context, _, _, _, _ string, onToken pipeline.TokenCallback) (*pipeline.LLMResult, error) {
	for _, tok := range l.tokens {
		onToken(tok)
	}
	return &pipeline.LLMResult{Text: strings.Join(l.tokens, "")}, nil
}

// toneTTS returns 50ms of WAV per sentence.
type toneTTS struct{}

func (toneTTS) Synthesize(context.Context, string, string, pipeline.TTSOptions) (*pipeline.TTSResult, error) {
	samples := make([]float32, 1200)
	for i := range samples {
		samples[i] = 0.2
	}
	return &pipeline.TTSResult{Audio: audio.SamplesToWAV(samples, 24000)}, nil
}

func TestSayRoundTrip(t *testing.T) {
	srv := ws.NewServer(ws.Config{
		LLM: scriptedLLM{tokens: []string{"Hi ", "there. ", "Bye."}},
		TTS: toneTTS{},
	})
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat", srv.Chat)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	g := &globals{gateway: "ws" + strings.TrimPrefix(ts.URL, "http"), persona: "nova"}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	if err := say(ctx, g.sessionConfig(), clockSink{}, "hello", &out); err != nil {
		t.Fatalf("say: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "Hi there. Bye." {
		t.Fatalf("output = %q", got)
	}
}

func TestHTTPBase(t *testing.T) {
	cases := map[string]string{
		"ws://localhost:8000":       "http://localhost:8000",
		"wss://voice.example.com/":  "https://voice.example.com",
		"http://127.0.0.1:9000/gw/": "http://127.0.0.1:9000/gw",
	}
	for in, want := range cases {
		got, err := (&globals{gateway: in}).httpBase()
		if err != nil || got != want {
			t.Errorf("httpBase(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := (&globals{gateway: "ftp://x"}).httpBase(); err == nil {
		t.Error("ftp scheme accepted")
	}
}
