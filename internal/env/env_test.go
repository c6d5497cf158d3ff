package env

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNumericFallbacks(t *testing.T) {
	t.Setenv("ENV_TEST_INT", "42")
	t.Setenv("ENV_TEST_BAD", "nope")
	t.Setenv("ENV_TEST_FLOAT", "0.05")
	t.Setenv("ENV_TEST_MS", "250")

	if got := Int("ENV_TEST_INT", 1); got != 42 {
		t.Errorf("Int = %d, want 42", got)
	}
	if got := Int("ENV_TEST_BAD", 7); got != 7 {
		t.Errorf("Int fallback = %d, want 7", got)
	}
	if got := Float("ENV_TEST_FLOAT", 0.03); got != 0.05 {
		t.Errorf("Float = %v, want 0.05", got)
	}
	if got := Millis("ENV_TEST_MS", time.Second); got != 250*time.Millisecond {
		t.Errorf("Millis = %v, want 250ms", got)
	}
	if got := Millis("ENV_TEST_UNSET", 800*time.Millisecond); got != 800*time.Millisecond {
		t.Errorf("Millis fallback = %v", got)
	}
	if got := Str("ENV_TEST_UNSET", "x"); got != "x" {
		t.Errorf("Str fallback = %q", got)
	}
}

func TestLoadKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("ENV_TEST_FILE=from_file\nENV_TEST_KEEP=from_file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_TEST_KEEP", "from_env")
	t.Cleanup(func() { os.Unsetenv("ENV_TEST_FILE") })

	Load(path, filepath.Join(dir, "missing.env"))

	if got := os.Getenv("ENV_TEST_FILE"); got != "from_file" {
		t.Errorf("ENV_TEST_FILE = %q", got)
	}
	if got := os.Getenv("ENV_TEST_KEEP"); got != "from_env" {
		t.Errorf("ENV_TEST_KEEP = %q, want from_env", got)
	}
}

func TestLogLevel(t *testing.T) {
	t.Setenv("ENV_TEST_LEVEL", "DEBUG")
	if got := LogLevel("ENV_TEST_LEVEL"); got != slog.LevelDebug {
		t.Errorf("LogLevel = %v", got)
	}
	t.Setenv("ENV_TEST_LEVEL", "")
	if got := LogLevel("ENV_TEST_LEVEL"); got != slog.LevelInfo {
		t.Errorf("LogLevel default = %v", got)
	}
}
