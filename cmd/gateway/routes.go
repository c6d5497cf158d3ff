package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/persona"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/pipeline"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/trace"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/ws"
)

const (
	// defaultTraceSessionLimit is how many trace sessions are returned
	// when the caller omits the ?limit= query parameter.
	defaultTraceSessionLimit = 20
	maxTraceSessionLimit     = 200
)

type deps struct {
	server     *ws.Server
	asrRouter  *pipeline.ASRRouter
	llm        *pipeline.AgentLLM
	ttsRouter  *pipeline.TTSRouter
	personas   *persona.Registry
	traceStore *trace.Store
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.HandleFunc("/ws/transcribe", d.server.Transcribe)
	mux.HandleFunc("/ws/chat", d.server.Chat)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/engines", d.handleEngines)
	mux.HandleFunc("GET /api/personas", d.handlePersonas)
	registerTraceRoutes(mux, d.traceStore)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (d deps) handleEngines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"asr": d.asrRouter.Engines(),
		"llm": d.llm.Engines(),
		"tts": d.ttsRouter.Engines(),
	})
}

// personaSummary omits the system prompt and traits.
type personaSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color"`
	Voice       string `json:"voice"`
}

func (d deps) handlePersonas(w http.ResponseWriter, r *http.Request) {
	list := d.personas.List()
	out := make([]personaSummary, len(list))
	for i, p := range list {
		out[i] = personaSummary{
			ID:          p.ID,
			Name:        p.Name,
			Role:        p.Role,
			Description: p.Description,
			Color:       p.Color,
			Voice:       p.VoiceOrDefault(),
		}
	}
	writeJSON(w, map[string]any{"personas": out})
}

func registerTraceRoutes(mux *http.ServeMux, store *trace.Store) {
	mux.HandleFunc("GET /api/traces/sessions", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		limit := min(queryInt(r, "limit", defaultTraceSessionLimit), maxTraceSessionLimit)
		offset := queryInt(r, "offset", 0)
		sessions, total, err := store.ListSessions(limit, offset)
		if err != nil {
			slog.Error("list trace sessions", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"sessions": sessions, "total": total})
	})

	mux.HandleFunc("GET /api/traces/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		sess, turns, err := store.GetSession(r.PathValue("id"))
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"session": sess, "turns": turns})
	})

	mux.HandleFunc("GET /api/traces/sessions/{id}/turns/{turnId}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		turn, spans, err := store.GetTurn(r.PathValue("id"), r.PathValue("turnId"))
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"turn": turn, "spans": spans})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
