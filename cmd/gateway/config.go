package main

import (
	"time"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/auth"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/env"
)

type config struct {
	port               string
	maxConcurrentCalls int

	asrEngine        string
	whisperServerURL string
	fasterWhisperURL string
	asrPoolSize      int

	llmEngine     string
	ollamaURL     string
	ollamaModel   string
	openaiBaseURL string
	openaiAPIKey  string
	openaiModel   string
	llmMaxTokens  int
	llmPoolSize   int

	ttsEngine   string
	kokoroURL   string
	kokoroVoice string
	openaiTTS   string
	piperURL    string
	piperVoice  string
	ttsSpeed    float64
	ttsPoolSize int
	ttsTimeout  time.Duration

	personasDir string
	jwtSecret   string
	jwtTTL      time.Duration
	traceDBURL  string
}

func loadConfig() config {
	return config{
		port:               env.Str("GATEWAY_PORT", "8000"),
		maxConcurrentCalls: env.Int("MAX_CONCURRENT_CALLS", 100),

		asrEngine:        env.Str("ASR_ENGINE", "faster-whisper"),
		whisperServerURL: env.Str("WHISPER_SERVER_URL", ""),
		fasterWhisperURL: env.Str("STT_URL", "http://localhost:8001"),
		asrPoolSize:      env.Int("ASR_POOL_SIZE", 50),

		llmEngine:     env.Str("LLM_ENGINE", "ollama"),
		ollamaURL:     env.Str("OLLAMA_URL", "http://localhost:11434"),
		ollamaModel:   env.Str("OLLAMA_MODEL", "llama3.2:3b"),
		openaiBaseURL: env.Str("OPENAI_BASE_URL", ""),
		openaiAPIKey:  env.Str("OPENAI_API_KEY", ""),
		openaiModel:   env.Str("OPENAI_MODEL", "gpt-4o-mini"),
		llmMaxTokens:  env.Int("LLM_MAX_TOKENS", 150),
		llmPoolSize:   env.Int("LLM_POOL_SIZE", 50),

		ttsEngine:   env.Str("TTS_ENGINE", "kokoro"),
		kokoroURL:   env.Str("TTS_URL", "http://localhost:8002"),
		kokoroVoice: env.Str("TTS_VOICE", "af_sarah"),
		openaiTTS:   env.Str("OPENAI_TTS_URL", ""),
		piperURL:    env.Str("PIPER_URL", ""),
		piperVoice:  env.Str("PIPER_VOICE", "en_US-lessac-medium"),
		ttsSpeed:    env.Float("TTS_SPEED", 1.0),
		ttsPoolSize: env.Int("TTS_POOL_SIZE", 50),
		ttsTimeout:  env.Millis("TTS_TIMEOUT_MS", 30*time.Second),

		personasDir: env.Str("PERSONAS_DIR", "personas"),
		jwtSecret:   env.Str("GATEWAY_JWT_SECRET", ""),
		jwtTTL:      env.Millis("GATEWAY_JWT_TTL_MS", auth.DefaultTTL),
		traceDBURL:  env.Str("TRACE_DATABASE_URL", ""),
	}
}
