package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

type personaInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Voice       string `json:"voice"`
}

func newPersonasCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List the personas served by the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := g.httpBase()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			list, err := fetchPersonas(ctx, base)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderPersonas(list, g.persona))
			return nil
		},
	}
}

func fetchPersonas(ctx context.Context, base string) ([]personaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/personas", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch personas: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch personas (status %d): %s", resp.StatusCode, body)
	}
	var out struct {
		Personas []personaInfo `json:"personas"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode personas: %w", err)
	}
	return out.Personas, nil
}

func renderPersonas(list []personaInfo, selected string) string {
	dim := lipgloss.NewStyle().Foreground(theme.Dim)
	var sb strings.Builder
	for _, p := range list {
		mark := "  "
		if p.ID == selected {
			mark = "▸ "
		}
		name := lipgloss.NewStyle().Bold(true).Width(12).Foreground(lipgloss.Color(p.Color)).Render(p.ID)
		fmt.Fprintf(&sb, "%s%s %s %s\n", mark, name, p.Name, dim.Render("("+p.Voice+")"))
		if p.Description != "" {
			sb.WriteString("    " + dim.Render(p.Description) + "\n")
		}
	}
	return sb.String()
}
