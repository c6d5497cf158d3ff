package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/auth"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/env"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/persona"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/pipeline"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/trace"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/ws"
)

func main() {
	env.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: env.LogLevel("LOG_LEVEL")})))

	cfg := loadConfig()

	// ASR backends
	asrBackends := map[string]pipeline.ASRTranscriber{}
	if cfg.fasterWhisperURL != "" {
		asrBackends["faster-whisper"] = pipeline.NewFasterWhisperClient(cfg.fasterWhisperURL, cfg.asrPoolSize)
	}
	if cfg.whisperServerURL != "" {
		asrBackends["whisper.cpp"] = pipeline.NewWhisperCppClient(cfg.whisperServerURL, cfg.asrPoolSize)
	}
	asrRouter := pipeline.NewASRRouter(asrBackends, cfg.asrEngine)

	// LLM engines
	llm := pipeline.NewAgentLLM(cfg.llmEngine, cfg.llmMaxTokens)
	llm.RegisterRaw("ollama", pipeline.NewOllamaLLMClient(cfg.ollamaURL, cfg.ollamaModel, cfg.llmMaxTokens, cfg.llmPoolSize), cfg.ollamaModel)
	llm.Register("ollama-agent", pipeline.NewOpenAICompatProvider(strings.TrimRight(cfg.ollamaURL, "/")+"/v1", "ollama"), cfg.ollamaModel)
	if cfg.openaiAPIKey != "" || cfg.openaiBaseURL != "" {
		llm.Register("openai", pipeline.NewOpenAICompatProvider(cfg.openaiBaseURL, cfg.openaiAPIKey), cfg.openaiModel)
		llm.RegisterRaw("openai-chat", pipeline.NewOpenAIChatClient(cfg.openaiBaseURL, cfg.openaiAPIKey, cfg.openaiModel, cfg.llmMaxTokens), cfg.openaiModel)
	}

	// TTS backends
	ttsHTTP := pipeline.NewPooledHTTPClient(cfg.ttsPoolSize, cfg.ttsTimeout)
	ttsBackends := map[string]pipeline.TTSSynthesizer{}
	if cfg.kokoroURL != "" {
		ttsBackends["kokoro"] = pipeline.NewKokoroSynthesizer(cfg.kokoroURL, cfg.kokoroVoice, ttsHTTP)
	}
	if cfg.openaiTTS != "" {
		ttsBackends["openai"] = pipeline.NewOpenAISynthesizer(cfg.openaiTTS, "tts-1", cfg.kokoroVoice, ttsHTTP)
	}
	if cfg.piperURL != "" {
		ttsBackends["piper"] = pipeline.NewPiperSynthesizer(cfg.piperURL, cfg.piperVoice, ttsHTTP)
	}
	ttsRouter := pipeline.NewTTSRouter(ttsBackends, cfg.ttsEngine)

	personas, err := persona.LoadDir(cfg.personasDir)
	if err != nil {
		slog.Error("load personas", "dir", cfg.personasDir, "error", err)
		os.Exit(1)
	}

	var signer *auth.Signer
	if cfg.jwtSecret != "" {
		signer = auth.NewSigner(cfg.jwtSecret, cfg.jwtTTL)
		slog.Info("session tokens required")
	}

	var traceStore *trace.Store
	if cfg.traceDBURL != "" {
		traceStore, err = trace.Open(cfg.traceDBURL)
		if err != nil {
			slog.Warn("tracing disabled", "error", err)
			traceStore = nil
		}
	}

	wsCfg := ws.Config{
		ASR:           asrRouter,
		ASREngine:     cfg.asrEngine,
		LLM:           llm,
		LLMEngine:     cfg.llmEngine,
		TTS:           ttsRouter,
		TTSEngine:     cfg.ttsEngine,
		TTSSpeed:      cfg.ttsSpeed,
		Personas:      personas,
		Signer:        signer,
		MaxConcurrent: cfg.maxConcurrentCalls,
	}
	if traceStore != nil {
		wsCfg.TraceStore = traceStore
	}
	server := ws.NewServer(wsCfg)

	warmupASR(asrBackends)

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		server:     server,
		asrRouter:  asrRouter,
		llm:        llm,
		ttsRouter:  ttsRouter,
		personas:   personas,
		traceStore: traceStore,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("gateway starting",
		"addr", addr,
		"max_concurrent", cfg.maxConcurrentCalls,
		"asr_engines", asrRouter.Engines(),
		"llm_engines", llm.Engines(),
		"tts_engines", ttsRouter.Engines(),
		"personas", len(personas.List()),
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	if traceStore != nil {
		traceStore.Close()
	}
	slog.Info("gateway stopped")
}

// warmupASR loads models in the background so the first commit is not slow.
func warmupASR(backends map[string]pipeline.ASRTranscriber) {
	for name, b := range backends {
		w, ok := b.(interface{ Warmup(context.Context) error })
		if !ok {
			continue
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := w.Warmup(ctx); err != nil {
				slog.Warn("asr warmup", "engine", name, "error", err)
				return
			}
			slog.Info("asr warm", "engine", name)
		}()
	}
}
