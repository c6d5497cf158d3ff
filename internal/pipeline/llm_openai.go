package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/metrics"
)

// OpenAIChatClient streams chat completions from any OpenAI-compatible
// /v1/chat/completions server (OpenAI, vLLM, llama.cpp, Ollama's /v1).
type OpenAIChatClient struct {
	client    openai.Client
	model     string
	maxTokens int
}

func NewOpenAIChatClient(baseURL, apiKey, model string, maxTokens int) *OpenAIChatClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIChatClient{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (c *OpenAIChatClient) Chat(ctx context.Context, userMessage, systemPrompt, model string, onToken TokenCallback) (*LLMResult, error) {
	start := time.Now()

	useModel := c.model
	if model != "" {
		useModel = model
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(useModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userMessage),
		},
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(c.maxTokens))
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var sr streamResult
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		sr.add(chunk.Choices[0].Delta.Content, onToken)
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() == nil {
			metrics.Errors.WithLabelValues("llm", "stream").Inc()
		}
		return nil, fmt.Errorf("openai chat stream: %w", err)
	}
	return sr.result(start), nil
}
