// Package persona loads assistant personas and assembles their system prompts.
package persona

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

const (
	DefaultID    = "nova"
	DefaultVoice = "af_sarah"
	DefaultColor = "#22d3ee"

	fallbackPrompt = "You are AI."
	directivesHead = "### PRIME DIRECTIVES (OVERRIDE):"
)

type Persona struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	Role         string         `json:"role,omitempty" yaml:"role,omitempty"`
	Description  string         `json:"description,omitempty" yaml:"description,omitempty"`
	Color        string         `json:"color,omitempty" yaml:"color,omitempty"`
	Voice        string         `json:"voice,omitempty" yaml:"voice,omitempty"`
	SystemPrompt string         `json:"system_prompt" yaml:"system_prompt"`
	Traits       map[string]any `json:"traits,omitempty" yaml:"traits,omitempty"`
	MapState     *MapState      `json:"map_state,omitempty" yaml:"map_state,omitempty"`
}

// MapState is the node graph drawn in the agent builder. Only directive
// nodes affect the prompt.
type MapState struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
}

type Node struct {
	ID   string   `json:"id,omitempty" yaml:"id,omitempty"`
	Type string   `json:"type" yaml:"type"`
	Data NodeData `json:"data" yaml:"data"`
}

type NodeData struct {
	Label string `json:"label" yaml:"label"`
}

// SanitizeID keeps letters, digits, '-' and '_' and lowercases the result.
func SanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Directives returns the labels of directive nodes in graph order.
func (p Persona) Directives() []string {
	if p.MapState == nil {
		return nil
	}
	var out []string
	for _, n := range p.MapState.Nodes {
		if n.Type == "directive" && n.Data.Label != "" {
			out = append(out, n.Data.Label)
		}
	}
	return out
}

// SystemMessage assembles the identity, traits and directives into the
// system prompt sent to the model.
func (p Persona) SystemMessage() string {
	prompt := p.SystemPrompt
	if d := p.Directives(); len(d) > 0 {
		prompt += "\n\n" + directivesHead + "\n- " + strings.Join(d, "\n- ")
	}
	traits := p.Traits
	if traits == nil {
		traits = map[string]any{}
	}
	stats, err := json.Marshal(traits)
	if err != nil {
		stats = []byte("{}")
	}
	return "IDENTITY: " + prompt + "\nSTATS: " + string(stats)
}

// VoiceOrDefault is the TTS voice to synthesize with.
func (p Persona) VoiceOrDefault() string {
	if p.Voice == "" {
		return DefaultVoice
	}
	return p.Voice
}

func builtins() []Persona {
	return []Persona{
		{ID: "nova", Name: "Nova", Color: "#22d3ee", Voice: "af_sarah", SystemPrompt: "You are Nova, a helpful AI assistant."},
		{ID: "jarvis", Name: "Jarvis", Color: "#f59e0b", Voice: "am_michael", SystemPrompt: "You are Jarvis, a highly intelligent system architect."},
		{ID: "sage", Name: "Sage", Color: "#10b981", Voice: "af_bella", SystemPrompt: "You are Sage, a calm and wise mentor."},
	}
}

// Registry holds the personas known to the gateway.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Persona
}

// NewRegistry returns a registry seeded with the built-in personas.
func NewRegistry() *Registry {
	r := &Registry{byID: make(map[string]Persona)}
	for _, p := range builtins() {
		r.byID[p.ID] = p
	}
	return r
}

// LoadDir reads *.yaml, *.yml and *.json persona files from dir on top of the
// built-ins. A missing directory is not an error. Files that fail to parse are
// logged and skipped.
func LoadDir(dir string) (*Registry, error) {
	r := NewRegistry()
	if dir == "" {
		return r, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		slog.Warn("persona directory missing, using built-ins", "dir", dir)
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read persona dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		p, err := loadFile(path)
		if err != nil {
			slog.Warn("skipping persona file", "path", path, "error", err)
			continue
		}
		if p.ID == "" {
			continue
		}
		r.Put(p)
	}
	return r, nil
}

func loadFile(path string) (Persona, error) {
	var p Persona
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if ext == ".json" {
		err = json.Unmarshal(data, &p)
	} else {
		err = yaml.Unmarshal(data, &p)
	}
	if err != nil {
		return p, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if p.ID == "" {
		p.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// Put adds or replaces a persona under its sanitized id.
func (r *Registry) Put(p Persona) {
	p.ID = SanitizeID(p.ID)
	if p.Color == "" {
		p.Color = DefaultColor
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID] = p
}

// Get resolves id after sanitizing it. Unknown ids get a bare persona so a
// turn can still run.
func (r *Registry) Get(id string) (Persona, bool) {
	safe := SanitizeID(id)
	if safe == "" {
		safe = DefaultID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.byID[safe]; ok {
		return p, true
	}
	return Persona{ID: safe, Name: safe, SystemPrompt: fallbackPrompt, Voice: DefaultVoice, Color: DefaultColor}, false
}

// List returns every persona sorted by id.
func (r *Registry) List() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Persona, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Persona) int { return strings.Compare(a.ID, b.ID) })
	return out
}
