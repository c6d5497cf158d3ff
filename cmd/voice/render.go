package main

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/avatar"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/session"
)

var theme = struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
}{
	Primary: lipgloss.Color(avatar.DefaultColor),
	Dim:     lipgloss.Color("#6e7681"),
}

var stateColors = map[session.State]lipgloss.Color{
	session.Idle:      lipgloss.Color(avatar.DefaultColor),
	session.Listening: lipgloss.Color(avatar.ListeningColor),
	session.Thinking:  lipgloss.Color(avatar.ThinkingColor),
	session.Speaking:  lipgloss.Color(avatar.SpeakingColor),
}

// avatarScale is the half extent of the projected cloud in model units.
const avatarScale = 3.0

// density ramps from empty to crowded cells.
var density = []rune(" .:-=+*#%@")

func renderBadge(s session.State) string {
	return lipgloss.NewStyle().
		Bold(true).
		Padding(0, 1).
		Foreground(lipgloss.Color("#000000")).
		Background(stateColors[s]).
		Render(strings.ToUpper(s.String()))
}

// renderMeter draws the 0-255 playback level as a bar of width cells.
func renderMeter(level float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(math.Round(min(max(level, 0), 255) / 255 * float64(width)))
	bar := lipgloss.NewStyle().Foreground(theme.Primary).Render(strings.Repeat("█", filled))
	rest := lipgloss.NewStyle().Foreground(theme.Dim).Render(strings.Repeat("░", width-filled))
	return bar + rest
}

// renderAvatar projects the cloud onto a w×h character grid, looking down Z.
// Terminal cells are about twice as tall as wide, so Y is squashed.
func renderAvatar(points []avatar.Point, w, h int) []string {
	if w <= 0 || h <= 0 {
		return nil
	}
	counts := make([]int, w*h)
	peak := 0
	for _, p := range points {
		col := int((p.X/avatarScale + 1) / 2 * float64(w))
		row := int((1 - (p.Y/avatarScale+1)/2) * float64(h))
		if col < 0 || col >= w || row < 0 || row >= h {
			continue
		}
		counts[row*w+col]++
		peak = max(peak, counts[row*w+col])
	}

	color := theme.Primary
	if len(points) > 0 {
		color = lipgloss.Color(points[0].Color)
	}
	style := lipgloss.NewStyle().Foreground(color)

	lines := make([]string, h)
	var sb strings.Builder
	for row := range h {
		sb.Reset()
		for col := range w {
			n := counts[row*w+col]
			idx := 0
			if n > 0 {
				idx = 1 + (n-1)*(len(density)-2)/max(peak, 1)
			}
			sb.WriteRune(density[idx])
		}
		lines[row] = style.Render(sb.String())
	}
	return lines
}

// renderTranscript returns the last n messages, one per line, cut to width.
func renderTranscript(msgs []session.Message, persona string, n, width int) []string {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	user := lipgloss.NewStyle().Bold(true).Foreground(theme.Dim)
	ai := lipgloss.NewStyle().Bold(true).Foreground(theme.Primary)

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		label := user.Render("you")
		if m.Role == session.RoleAI {
			label = ai.Render(persona)
		}
		text := strings.Join(strings.Fields(m.Text), " ")
		if m.Streaming {
			text += "▍"
		}
		room := width - lipgloss.Width(label) - 2
		if room > 1 && len([]rune(text)) > room {
			text = string([]rune(text)[:room-1]) + "…"
		}
		lines = append(lines, label+": "+text)
	}
	return lines
}

// view is one rendered frame of the talk screen.
type view struct {
	persona  string
	state    session.State
	level    float64
	points   []avatar.Point
	messages []session.Message
	status   string
}

func renderFrame(v view, width int) string {
	title := lipgloss.NewStyle().Bold(true).Foreground(theme.Primary).Render("voice · " + v.persona)
	help := lipgloss.NewStyle().Foreground(theme.Dim)

	lines := []string{
		title + "  " + renderBadge(v.state),
		"",
	}
	lines = append(lines, renderAvatar(v.points, min(width, 48), 16)...)
	lines = append(lines, "", "level "+renderMeter(v.level, min(width-6, 40)), "")
	lines = append(lines, renderTranscript(v.messages, v.persona, 6, width)...)
	lines = append(lines, "")
	if v.status != "" {
		lines = append(lines, help.Render(v.status))
	}
	lines = append(lines, help.Render("type a message and press enter · /i interrupt · /q quit"))
	return strings.Join(lines, "\n")
}
