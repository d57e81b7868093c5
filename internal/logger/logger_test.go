package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json")
	l.Info().Str("component", "test").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v\noutput: %s", err, buf.String())
	}
	if entry["message"] != "hello" {
		t.Errorf("message: got %v, want hello", entry["message"])
	}
	if entry["component"] != "test" {
		t.Errorf("component: got %v, want test", entry["component"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("log entry missing time")
	}
}

func TestNew_ConsoleHasNoColorForBuffers(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "console")
	l.Warn().Msg("careful")

	out := buf.String()
	if !strings.Contains(out, "careful") {
		t.Fatalf("console output missing message: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("console output to a buffer should not contain ANSI escapes: %q", out)
	}
}

func TestSetup_Level(t *testing.T) {
	saved := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(saved) })

	closeFn := Setup(Config{Level: "warn", Format: "json", Output: "stderr"})
	defer closeFn()
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("level: got %v, want warn", zerolog.GlobalLevel())
	}

	closeFn2 := Setup(Config{Level: "bogus", Format: "json", Output: "stderr"})
	defer closeFn2()
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("invalid level should fall back to info, got %v", zerolog.GlobalLevel())
	}
}

func TestSetup_FileOutput(t *testing.T) {
	saved := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(saved) })

	path := filepath.Join(t.TempDir(), "outpost.log")
	closeFn := Setup(Config{Level: "info", Format: "json", Output: path})
	closeFn()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("log file should be created: %v", err)
	}
}
