package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/env"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/session"
)

// globals holds the persistent flags shared by every command.
type globals struct {
	gateway     string
	persona     string
	sessionID   string
	token       string
	metricsAddr string
	logFile     string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	def := session.ConfigFromEnv()

	root := &cobra.Command{
		Use:   "voice",
		Short: "Talk to a voice gateway from the terminal",
		Long: `voice - a terminal client for the voice gateway.

The client segments microphone audio into utterances, sends them for
transcription, streams the reply text and plays the synthesized audio.
Speaking over the assistant interrupts it.

Flag defaults come from the environment (VOICE_GATEWAY_URL, VOICE_PERSONA,
VOICE_TOKEN, VOICE_METRICS_ADDR) and from a .env file in the working directory.

Examples:
  voice talk --persona jarvis
  voice say "what's the weather like on mars?"
  voice token --secret $GATEWAY_JWT_SECRET --session demo`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := g.setupLogging(); err != nil {
				return err
			}
			g.serveMetrics()
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.gateway, "gateway", env.Str("VOICE_GATEWAY_URL", gatewayBase(def.GenerateURL)), "gateway base URL (ws:// or wss://)")
	pf.StringVarP(&g.persona, "persona", "p", def.PersonaID, "persona id")
	pf.StringVar(&g.sessionID, "session", env.Str("VOICE_SESSION_ID", ""), "session id (random when empty)")
	pf.StringVar(&g.token, "token", def.Token, "session token")
	pf.StringVar(&g.metricsAddr, "metrics-addr", env.Str("VOICE_METRICS_ADDR", ""), "serve Prometheus metrics on this address")
	pf.StringVar(&g.logFile, "log-file", env.Str("VOICE_LOG_FILE", ""), "write logs to this file instead of stderr")

	root.AddCommand(
		newTalkCmd(g),
		newSayCmd(g),
		newTokenCmd(g),
		newPersonasCmd(g),
	)
	return root
}

// sessionConfig applies the flags on top of the environment config.
func (g *globals) sessionConfig() session.Config {
	cfg := session.ConfigFromEnv()
	base := strings.TrimRight(g.gateway, "/")
	cfg.TranscribeURL = base + "/ws/transcribe"
	cfg.GenerateURL = base + "/ws/chat"
	cfg.PersonaID = g.persona
	cfg.Token = g.token
	if g.sessionID != "" {
		cfg.SessionID = g.sessionID
	}
	return cfg
}

// httpBase maps the gateway socket URL to its HTTP origin.
func (g *globals) httpBase() (string, error) {
	u, err := url.Parse(g.gateway)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

func (g *globals) setupLogging() error {
	if g.logFile == "" {
		return nil
	}
	f, err := os.OpenFile(g.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: env.LogLevel("LOG_LEVEL")})))
	return nil
}

func (g *globals) serveMetrics() {
	if g.metricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		err := http.ListenAndServe(g.metricsAddr, mux)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", g.metricsAddr, "error", err)
		}
	}()
	slog.Info("metrics listening", "addr", g.metricsAddr)
}

// gatewayBase strips the endpoint path from a chat socket URL.
func gatewayBase(chatURL string) string {
	return strings.TrimSuffix(chatURL, "/ws/chat")
}
