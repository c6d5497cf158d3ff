package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/auth"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/env"
)

func newTokenCmd(g *globals) *cobra.Command {
	var (
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token",
		Long: `Mint an HS256 session token bound to a session id and persona.

The token is accepted by a gateway started with the same GATEWAY_JWT_SECRET.
Pass it to other commands with --token or VOICE_TOKEN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("no secret: set --secret or GATEWAY_JWT_SECRET")
			}
			sessionID := g.sessionID
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			token, err := auth.NewSigner(secret, ttl).Mint(sessionID, g.persona)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "VOICE_SESSION_ID=%s\n", sessionID)
			fmt.Fprintf(out, "VOICE_TOKEN=%s\n", token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", env.Str("GATEWAY_JWT_SECRET", ""), "signing secret")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")
	return cmd
}
