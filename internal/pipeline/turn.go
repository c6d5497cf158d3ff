package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/metrics"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/persona"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/trace"
)

// Chatter is the LLM side of a turn. *AgentLLM implements it.
type Chatter interface {
	Chat(ctx context.Context, userMessage, systemPrompt, model, engine string, onToken TokenCallback) (*LLMResult, error)
}

// Synthesizer is the TTS side of a turn. *TTSRouter implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, engine string, opts TTSOptions) (*TTSResult, error)
}

// ConversationConfig selects backends and persona for one chat session.
type ConversationConfig struct {
	LLM        Chatter
	TTS        Synthesizer
	Persona    persona.Persona
	LLMEngine  string
	LLMModel   string
	TTSEngine  string
	TTSSpeed   float64
	MaxHistory int
	Tracer     *trace.Tracer
}

// TurnSink receives turn output. OnText and OnAudio run on different
// goroutines and may overlap; each is called in stream order.
type TurnSink struct {
	OnText  func(token string)
	OnAudio func(wav []byte)
}

type TurnResult struct {
	Text       string
	LLM        time.Duration
	TTS        time.Duration
	FirstAudio time.Duration
	Sentences  int
}

type exchange struct {
	user      string
	assistant string
}

// Conversation runs turns for one chat socket and keeps a short history so
// follow-ups have context. Turns must not overlap.
type Conversation struct {
	cfg ConversationConfig

	mu      sync.Mutex
	history []exchange
}

func NewConversation(cfg ConversationConfig) *Conversation {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 8
	}
	return &Conversation{cfg: cfg}
}

// Run streams one reply: tokens go to OnText as they arrive, complete
// sentences are synthesized concurrently and delivered to OnAudio. Cancelling
// ctx abandons the turn; Run then returns an error wrapping ctx.Err() and the
// exchange is not added to history.
func (c *Conversation) Run(ctx context.Context, seq uint64, message string, sink TurnSink) (*TurnResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return &TurnResult{}, nil
	}

	start := time.Now()
	turnID := c.cfg.Tracer.StartTurn(seq)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := &TurnResult{}
	sentenceCh := make(chan string, 4)
	var ttsErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ttsErr = c.consumeSentences(ctx, cancel, turnID, start, sentenceCh, sink, res)
	}()

	var sb sentenceBuffer
	var cf codeFilter
	push := func(s string) {
		select {
		case sentenceCh <- s:
		case <-ctx.Done():
		}
	}

	llmStart := time.Now()
	llmResult, llmErr := c.cfg.LLM.Chat(ctx, c.formatInput(message), c.cfg.Persona.SystemMessage(), c.cfg.LLMModel, c.cfg.LLMEngine, func(token string) {
		if ctx.Err() != nil {
			return
		}
		if sink.OnText != nil {
			sink.OnText(token)
		}
		if s := sb.Add(cf.Filter(token)); s != "" {
			push(s)
		}
	})
	res.LLM = time.Since(llmStart)
	c.cfg.Tracer.RecordSpan(turnID, "llm", llmStart, res.LLM, llmErr)

	if llmErr == nil {
		if rest := sb.Flush(); rest != "" {
			push(rest)
		}
	}
	close(sentenceCh)
	wg.Wait()

	err := c.turnError(ctx, llmErr, ttsErr)
	c.cfg.Tracer.EndTurn(turnID, time.Since(start), res.FirstAudio, statusOf(err))
	if err != nil {
		return res, err
	}

	res.Text = llmResult.Text
	c.remember(message, res.Text)
	slog.Info("turn done",
		"seq", seq,
		"llm_ms", res.LLM.Milliseconds(),
		"tts_ms", res.TTS.Milliseconds(),
		"first_audio_ms", res.FirstAudio.Milliseconds(),
		"sentences", res.Sentences,
	)
	return res, nil
}

// turnError picks the error that ended the turn. A TTS failure cancels the
// turn's context, so the LLM error it causes is not the root cause.
func (c *Conversation) turnError(ctx context.Context, llmErr, ttsErr error) error {
	switch {
	case ttsErr != nil:
		return fmt.Errorf("tts: %w", ttsErr)
	case ctx.Err() != nil:
		return fmt.Errorf("turn: %w", ctx.Err())
	case llmErr != nil:
		return fmt.Errorf("llm: %w", llmErr)
	}
	return nil
}

func (c *Conversation) consumeSentences(ctx context.Context, cancel context.CancelFunc, turnID string, start time.Time, sentenceCh <-chan string, sink TurnSink, res *TurnResult) error {
	opts := TTSOptions{Speed: c.cfg.TTSSpeed, Voice: c.cfg.Persona.VoiceOrDefault()}
	var firstErr error

	for sentence := range sentenceCh {
		sentence = speakable(sentence)
		if sentence == "" || firstErr != nil || ctx.Err() != nil {
			continue
		}

		ttsStart := time.Now()
		out, err := c.cfg.TTS.Synthesize(ctx, sentence, c.cfg.TTSEngine, opts)
		c.cfg.Tracer.RecordSpan(turnID, "tts", ttsStart, time.Since(ttsStart), err)
		if err != nil {
			if ctx.Err() == nil {
				firstErr = err
				slog.Warn("tts sentence failed", "error", err)
				cancel()
			}
			continue
		}

		res.TTS += time.Since(ttsStart)
		res.Sentences++
		if res.FirstAudio == 0 {
			res.FirstAudio = time.Since(start)
			metrics.FirstAudioDuration.Observe(res.FirstAudio.Seconds())
			c.cfg.Tracer.RecordSpan(turnID, "first_audio", start, res.FirstAudio, nil)
		}
		if sink.OnAudio != nil {
			sink.OnAudio(out.Audio)
		}
	}
	return firstErr
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return trace.StatusOK
	case errors.Is(err, context.Canceled):
		return trace.StatusCancelled
	}
	return trace.StatusError
}

func (c *Conversation) remember(user, assistant string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, exchange{user: user, assistant: assistant})
	if over := len(c.history) - c.cfg.MaxHistory; over > 0 {
		c.history = c.history[over:]
	}
}

// formatInput prepends the kept history to the current message.
func (c *Conversation) formatInput(current string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return current
	}
	var b strings.Builder
	for _, t := range c.history {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.user, t.assistant)
	}
	fmt.Fprintf(&b, "User: %s", current)
	return b.String()
}
