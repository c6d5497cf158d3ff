package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/persona"
)

type fakeLLM struct {
	tokens []string
	// block after emitting this many tokens until the context ends; <0 never
	blockAt int
	err     error

	mu      sync.Mutex
	inputs  []string
	systems []string
}

func (f *fakeLLM) Chat(ctx context.Context, userMessage, systemPrompt, _, _ string, onToken TokenCallback) (*LLMResult, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, userMessage)
	f.systems = append(f.systems, systemPrompt)
	f.mu.Unlock()

	var sr streamResult
	for i, tok := range f.tokens {
		if i == f.blockAt {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		sr.add(tok, onToken)
	}
	if f.err != nil {
		return nil, f.err
	}
	return sr.result(time.Now()), nil
}

type fakeTTS struct {
	failOn string

	mu     sync.Mutex
	voices []string
}

func (f *fakeTTS) Synthesize(ctx context.Context, text, _ string, opts TTSOptions) (*TTSResult, error) {
	f.mu.Lock()
	f.voices = append(f.voices, opts.Voice)
	f.mu.Unlock()
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("synth failed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &TTSResult{Audio: []byte(text)}, nil
}

type recorder struct {
	mu    sync.Mutex
	text  []string
	audio []string
}

func (r *recorder) sink() TurnSink {
	return TurnSink{
		OnText: func(tok string) {
			r.mu.Lock()
			r.text = append(r.text, tok)
			r.mu.Unlock()
		},
		OnAudio: func(b []byte) {
			r.mu.Lock()
			r.audio = append(r.audio, string(b))
			r.mu.Unlock()
		},
	}
}

func newTestConversation(llm Chatter, tts Synthesizer) *Conversation {
	p := persona.Persona{ID: "sage", SystemPrompt: "You are Sage.", Voice: "af_bella"}
	return NewConversation(ConversationConfig{LLM: llm, TTS: tts, Persona: p})
}

func TestConversationStreamsTextAndAudio(t *testing.T) {
	llm := &fakeLLM{tokens: []string{"Hello", " there. ", "How are", " **you**?"}, blockAt: -1}
	tts := &fakeTTS{}
	conv := newTestConversation(llm, tts)

	var rec recorder
	res, err := conv.Run(context.Background(), 1, " hi ", rec.sink())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.Join(rec.text, ""); got != "Hello there. How are **you**?" {
		t.Errorf("text = %q", got)
	}
	if got := strings.Join(rec.audio, "|"); got != "Hello there.|How are you?" {
		t.Errorf("audio = %q", got)
	}
	if res.Sentences != 2 || res.FirstAudio <= 0 {
		t.Errorf("result = %+v", res)
	}
	for _, v := range tts.voices {
		if v != "af_bella" {
			t.Errorf("voice = %q, want persona voice", v)
		}
	}
	if !strings.HasPrefix(llm.systems[0], "IDENTITY: You are Sage.") {
		t.Errorf("system prompt = %q", llm.systems[0])
	}

	if _, err = conv.Run(context.Background(), 2, "again", rec.sink()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	want := "User: hi\nAssistant: Hello there. How are **you**?\nUser: again"
	if llm.inputs[1] != want {
		t.Errorf("history input = %q, want %q", llm.inputs[1], want)
	}
}

func TestConversationCancelAbandonsTurn(t *testing.T) {
	llm := &fakeLLM{tokens: []string{"First part. ", "never sent"}, blockAt: 1}
	conv := newTestConversation(llm, &fakeTTS{})

	ctx, cancel := context.WithCancel(context.Background())
	var rec recorder
	done := make(chan error, 1)
	go func() {
		_, err := conv.Run(ctx, 1, "tell me a story", rec.sink())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if statusOf(context.Canceled) != "cancelled" {
		t.Error("cancel not classified")
	}

	conv.cfg.LLM = &fakeLLM{tokens: []string{"ok"}, blockAt: -1}
	if _, err := conv.Run(context.Background(), 2, "next", rec.sink()); err != nil {
		t.Fatal(err)
	}
	if got := conv.cfg.LLM.(*fakeLLM).inputs[0]; got != "next" {
		t.Errorf("cancelled turn leaked into history: %q", got)
	}
}

func TestConversationTTSFailureEndsTurn(t *testing.T) {
	llm := &fakeLLM{tokens: []string{"Bad sentence. ", "More text. ", "Even more."}, blockAt: -1}
	conv := newTestConversation(llm, &fakeTTS{failOn: "Bad"})

	var rec recorder
	_, err := conv.Run(context.Background(), 1, "go", rec.sink())
	if err == nil || !strings.HasPrefix(err.Error(), "tts:") {
		t.Fatalf("err = %v, want tts error", err)
	}
	if len(rec.audio) != 0 {
		t.Errorf("audio after failure: %q", rec.audio)
	}
}

func TestConversationLLMError(t *testing.T) {
	llm := &fakeLLM{tokens: []string{"partial"}, blockAt: -1, err: errors.New("model unloaded")}
	conv := newTestConversation(llm, &fakeTTS{})
	_, err := conv.Run(context.Background(), 1, "go", TurnSink{})
	if err == nil || !strings.Contains(err.Error(), "model unloaded") {
		t.Fatalf("err = %v", err)
	}
}

func TestConversationEmptyMessage(t *testing.T) {
	llm := &fakeLLM{blockAt: -1}
	conv := newTestConversation(llm, &fakeTTS{})
	if _, err := conv.Run(context.Background(), 1, "   ", TurnSink{}); err != nil {
		t.Fatal(err)
	}
	if len(llm.inputs) != 0 {
		t.Fatal("LLM called for empty message")
	}
}
