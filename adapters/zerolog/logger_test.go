package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return out
}

func TestLoggerWritesKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	logger := FromZerolog(zerolog.New(&buf))

	logger.Info("subscription charged", "subscription_id", "sub_1", "attempt", 2, "error", errors.New("boom"))

	line := decodeLine(t, &buf)
	if line["message"] != "subscription charged" || line["level"] != "info" {
		t.Fatalf("unexpected line %#v", line)
	}
	if line["subscription_id"] != "sub_1" || line["attempt"] != float64(2) || line["error"] != "boom" {
		t.Fatalf("unexpected fields %#v", line)
	}
}

func TestLoggerOddArgsAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := FromZerolog(zerolog.New(&buf)).WithFields(map[string]any{"provider_id": "gateway"})

	logger.Warn("dangling", "lonely")

	line := decodeLine(t, &buf)
	if line["provider_id"] != "gateway" || line["extra"] != "lonely" || line["level"] != "warn" {
		t.Fatalf("unexpected line %#v", line)
	}
}

func TestGetLoggerTagsComponentAndRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	root := FromZerolog(zerolog.New(&buf).Level(ParseLevel("warn")))

	root.GetLogger("billing").Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}
	root.GetLogger("billing").Error("shown")
	line := decodeLine(t, &buf)
	if line["component"] != "billing" {
		t.Fatalf("expected component field, got %#v", line)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
