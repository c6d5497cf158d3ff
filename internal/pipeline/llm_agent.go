package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/metrics"
)

// AgentLLM routes turns to a model provider through the openai-agents-go
// runner. Engines registered with RegisterRaw bypass the SDK.
type AgentLLM struct {
	providers  map[string]agents.ModelProvider
	rawClients map[string]LLMChatClient
	models     map[string]string // engine → default model
	fallback   string
	maxTokens  int
}

func NewAgentLLM(fallback string, maxTokens int) *AgentLLM {
	return &AgentLLM{
		providers:  make(map[string]agents.ModelProvider),
		rawClients: make(map[string]LLMChatClient),
		models:     make(map[string]string),
		fallback:   fallback,
		maxTokens:  maxTokens,
	}
}

// NewOpenAICompatProvider builds a chat-completions provider for any
// OpenAI-compatible base URL.
func NewOpenAICompatProvider(baseURL, apiKey string) agents.ModelProvider {
	return agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		BaseURL:      param.NewOpt(baseURL),
		APIKey:       param.NewOpt(apiKey),
		UseResponses: param.NewOpt(false),
	})
}

// Register adds an SDK provider and its default model.
func (a *AgentLLM) Register(engine string, provider agents.ModelProvider, defaultModel string) {
	a.providers[engine] = provider
	a.models[engine] = defaultModel
}

// RegisterRaw adds a direct streaming client.
func (a *AgentLLM) RegisterRaw(engine string, client LLMChatClient, defaultModel string) {
	a.rawClients[engine] = client
	a.models[engine] = defaultModel
}

// Engines returns the registered engine names in sorted order.
func (a *AgentLLM) Engines() []string {
	names := make([]string, 0, len(a.providers)+len(a.rawClients))
	for k := range a.providers {
		names = append(names, k)
	}
	for k := range a.rawClients {
		if _, dup := a.providers[k]; !dup {
			names = append(names, k)
		}
	}
	slices.Sort(names)
	return names
}

func (a *AgentLLM) Has(engine string) bool {
	if _, ok := a.providers[engine]; ok {
		return true
	}
	_, ok := a.rawClients[engine]
	return ok
}

// Chat streams one completion from the engine's backend and records stage
// latency. Unknown engines use the fallback.
func (a *AgentLLM) Chat(ctx context.Context, userMessage, systemPrompt, model, engine string, onToken TokenCallback) (*LLMResult, error) {
	if !a.Has(engine) {
		engine = a.fallback
	}
	useModel := model
	if useModel == "" {
		useModel = a.models[engine]
	}

	var (
		res *LLMResult
		err error
	)
	if raw, ok := a.rawClients[engine]; ok {
		res, err = raw.Chat(ctx, userMessage, systemPrompt, useModel, onToken)
	} else {
		res, err = a.runAgent(ctx, engine, userMessage, systemPrompt, useModel, onToken)
	}
	if err != nil {
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("llm").Observe(res.LatencyMs / 1000)
	return res, nil
}

func (a *AgentLLM) runAgent(ctx context.Context, engine, userMessage, systemPrompt, model string, onToken TokenCallback) (*LLMResult, error) {
	provider, ok := a.providers[engine]
	if !ok {
		return nil, fmt.Errorf("no llm provider for engine %q", engine)
	}

	agent := agents.New("assistant").
		WithInstructions(systemPrompt).
		WithModel(model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(a.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()
	events, errCh, err := runner.RunStreamedChan(ctx, agent, userMessage)
	if err != nil {
		return nil, fmt.Errorf("llm stream start: %w", err)
	}

	var sr streamResult
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok || raw.Data.Type != "response.output_text.delta" {
			continue
		}
		sr.add(raw.Data.Delta, onToken)
	}
	if streamErr := <-errCh; streamErr != nil {
		if ctx.Err() == nil {
			metrics.Errors.WithLabelValues("llm", "stream").Inc()
		}
		return nil, fmt.Errorf("llm stream: %w", streamErr)
	}
	return sr.result(start), nil
}
