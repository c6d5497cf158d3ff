package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
)

func TestFasterWhisperClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			http.NotFound(w, r)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		clip, err := audio.Decode(data, audio.CodecWAV, 0)
		if err != nil || clip.SampleRate != ASRSampleRate {
			http.Error(w, "bad wav", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"text": " hello world ", "language": "en"})
	}))
	defer srv.Close()

	router := NewASRRouter(map[string]ASRTranscriber{"faster-whisper": NewFasterWhisperClient(srv.URL, 2)}, "faster-whisper")
	text, err := TranscribeUtterance(context.Background(), router, "", make([]float32, ASRSampleRate/2))
	if err != nil {
		t.Fatalf("TranscribeUtterance: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("text = %q", text)
	}

	text, err = TranscribeUtterance(context.Background(), router, "", make([]float32, 100))
	if err != nil || text != "" {
		t.Fatalf("short clip = %q, %v", text, err)
	}
}

func TestASRStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewWhisperCppClient(srv.URL, 1)
	if _, err := c.Transcribe(context.Background(), make([]float32, 1600)); err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("err = %v", err)
	}
}

func TestKokoroSynthesizer(t *testing.T) {
	var got struct {
		Text  string  `json:"text"`
		Voice string  `json:"voice"`
		Speed float64 `json:"speed"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(audio.SamplesToWAV(make([]float32, 240), 24000))
	}))
	defer srv.Close()

	router := NewTTSRouter(map[string]TTSSynthesizer{
		"kokoro": NewKokoroSynthesizer(srv.URL, "af_sarah", NewPooledHTTPClient(1, 0)),
	}, "kokoro")
	res, err := router.Synthesize(context.Background(), "Hi.", "unknown", TTSOptions{Voice: "am_michael"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if audio.Sniff(res.Audio, audio.CodecPCM) != audio.CodecWAV {
		t.Error("response is not wav")
	}
	if got.Text != "Hi." || got.Voice != "am_michael" || got.Speed != 1 {
		t.Errorf("request = %+v", got)
	}
}

func TestOllamaStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Model != "llama3.2:3b" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		for _, tok := range []string{"Hi", " there", "."} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", tok)
		}
		fmt.Fprintln(w, `{"done":true}`)
	}))
	defer srv.Close()

	llm := NewAgentLLM("ollama", 64)
	llm.RegisterRaw("ollama", NewOllamaLLMClient(srv.URL, "llama3.2:3b", 64, 1), "")

	var tokens []string
	res, err := llm.Chat(context.Background(), "hello", "be brief", "", "missing-engine", func(tok string) {
		tokens = append(tokens, tok)
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Text != "Hi there." || len(tokens) != 3 {
		t.Fatalf("text = %q tokens = %q", res.Text, tokens)
	}
	if got := llm.Engines(); len(got) != 1 || got[0] != "ollama" {
		t.Errorf("engines = %v", got)
	}
}

func TestOpenAIChatClientStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Good", " morning"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenAIChatClient(srv.URL+"/v1", "test-key", "m", 32)
	res, err := c.Chat(context.Background(), "hi", "sys", "", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Text != "Good morning" {
		t.Fatalf("text = %q", res.Text)
	}
}

func TestRouterFallback(t *testing.T) {
	r := NewRouter(map[string]int{"a": 1, "b": 2}, "b")
	if v, _ := r.Route("zzz"); v != 2 {
		t.Errorf("fallback = %d", v)
	}
	if _, err := NewRouter(map[string]int{}, "x").Route("y"); err == nil {
		t.Error("empty router routed")
	}
	if got := r.Engines(); got[0] != "a" || got[1] != "b" {
		t.Errorf("engines = %v", got)
	}
}

func TestUtteranceResamplesOnTake(t *testing.T) {
	u := NewUtterance(audio.CodecPCM, 48000)
	frame := audio.EncodePCM16(make([]float32, 960)) // 20ms at 48k
	for range 50 {
		if err := u.Append(frame); err != nil {
			t.Fatal(err)
		}
	}
	if u.Duration().Milliseconds() != 1000 {
		t.Fatalf("duration = %v", u.Duration())
	}
	if got := len(u.Take()); got != ASRSampleRate {
		t.Fatalf("samples = %d, want %d", got, ASRSampleRate)
	}
	if u.Duration() != 0 {
		t.Fatal("buffer not reset")
	}
	if err := u.Append(nil); err == nil {
		t.Fatal("empty frame accepted")
	}
}

func TestUtteranceUlaw(t *testing.T) {
	u := NewUtterance(audio.CodecG711Ulaw, 16000)
	enc, _ := audio.Encode(make([]float32, 160), audio.CodecG711Ulaw)
	u.Append(enc)
	if u.Duration().Milliseconds() != 20 {
		t.Fatalf("ulaw duration = %v", u.Duration())
	}
}
