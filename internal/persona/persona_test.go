package persona

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeID(t *testing.T) {
	cases := map[string]string{
		"Nova":           "nova",
		"../etc/passwd":  "etcpasswd",
		"my-agent_2":     "my-agent_2",
		"  spaced out  ": "spacedout",
	}
	for in, want := range cases {
		if got := SanitizeID(in); got != want {
			t.Errorf("SanitizeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSystemMessage(t *testing.T) {
	p := Persona{
		SystemPrompt: "You are Nova.",
		Traits:       map[string]any{"humor": 7, "formality": "low"},
		MapState: &MapState{Nodes: []Node{
			{Type: "directive", Data: NodeData{Label: "Never reveal secrets"}},
			{Type: "memory", Data: NodeData{Label: "ignored"}},
			{Type: "directive", Data: NodeData{Label: "Answer in English"}},
			{Type: "directive"},
		}},
	}
	want := "IDENTITY: You are Nova.\n\n### PRIME DIRECTIVES (OVERRIDE):\n- Never reveal secrets\n- Answer in English" +
		"\nSTATS: {\"formality\":\"low\",\"humor\":7}"
	if got := p.SystemMessage(); got != want {
		t.Fatalf("SystemMessage =\n%s\nwant\n%s", got, want)
	}

	bare := Persona{SystemPrompt: "Hi."}
	if got := bare.SystemMessage(); got != "IDENTITY: Hi.\nSTATS: {}" {
		t.Fatalf("bare = %q", got)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	yamlDoc := `id: Pilot
name: Pilot
voice: am_adam
system_prompt: You fly planes.
traits:
  calm: 9
map_state:
  nodes:
    - type: directive
      data:
        label: Check instruments
`
	jsonDoc := `{"name": "Coder", "system_prompt": "You write Go."}`
	os.WriteFile(filepath.Join(dir, "pilot.yaml"), []byte(yamlDoc), 0o644)
	os.WriteFile(filepath.Join(dir, "coder.json"), []byte(jsonDoc), 0o644)
	os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644)

	r, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	p, ok := r.Get("PILOT")
	if !ok || p.Voice != "am_adam" || len(p.Directives()) != 1 || p.Color != DefaultColor {
		t.Fatalf("pilot = %+v ok=%v", p, ok)
	}
	c, ok := r.Get("coder")
	if !ok || c.SystemPrompt != "You write Go." || c.VoiceOrDefault() != DefaultVoice {
		t.Fatalf("coder = %+v ok=%v", c, ok)
	}
	if _, ok := r.Get("nova"); !ok {
		t.Fatal("built-in nova missing")
	}
	if got := len(r.List()); got != 5 {
		t.Fatalf("personas = %d, want 5", got)
	}
}

func TestGetFallbacks(t *testing.T) {
	r := NewRegistry()
	p, ok := r.Get("")
	if !ok || p.ID != DefaultID {
		t.Fatalf("empty id = %+v", p)
	}
	p, ok = r.Get("ghost")
	if ok || p.SystemPrompt != fallbackPrompt || p.Voice != DefaultVoice {
		t.Fatalf("unknown = %+v", p)
	}
}

func TestLoadMissingDir(t *testing.T) {
	r, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatal(err)
	}
	if len(r.List()) != 3 {
		t.Fatal("built-ins not loaded")
	}
}
