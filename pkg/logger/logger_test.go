package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"  nonsense ", zerolog.InfoLevel},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "info", Format: "json", Component: "merge", Writer: &buf, StaticFields: map[string]string{"pair": "eng-spa"}})
	log.Debug().Msg("hidden")
	log.Info().Str("seed_id", "S0001").Msg("committed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above debug level, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	for k, want := range map[string]string{"component": "merge", "pair": "eng-spa", "seed_id": "S0001", "message": "committed"} {
		if rec[k] != want {
			t.Errorf("%s = %v, want %q", k, rec[k], want)
		}
	}
}

func TestNamedAndConsole(t *testing.T) {
	var buf bytes.Buffer
	log := Named(New(Options{Level: "debug", Format: "console", Writer: &buf}), "baskets")
	log.Info().Msg("generated")
	out := buf.String()
	if !strings.Contains(out, "generated") || !strings.Contains(out, "component=") {
		t.Fatalf("unexpected console output %q", out)
	}
}
