// Command voice is a terminal client for the voice gateway: it captures the
// microphone, streams turns to the generation service and plays the reply.
//
// Usage:
//
//	voice [flags] <command> [args]
//
// Commands:
//
//	talk      - hands-free conversation with live state, level and avatar
//	say       - send one typed message and play the reply
//	token     - mint a session token for a gateway with GATEWAY_JWT_SECRET
//	personas  - list the personas a gateway serves
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/env"
)

func main() {
	env.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: env.LogLevel("LOG_LEVEL")})))

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
