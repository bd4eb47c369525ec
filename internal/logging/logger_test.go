package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/andresmejia3/facemosaic/internal/config"
	"github.com/andresmejia3/facemosaic/internal/logging"
)

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger instance")
	}
}

func TestTextLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "warn", Format: "text", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("hidden")
	logger.Warn("shown", "stage", "mux")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record leaked at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "stage=mux") {
		t.Fatalf("expected warn record with attrs, got %q", out)
	}
	if strings.Contains(out, ".go:") {
		t.Fatalf("expected no caller information above debug, got %q", out)
	}
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "JSON", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}

	logging.NewComponentLogger(logger, "pipeline").Info("job finished", "frames", 12)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected a JSON record, got %q: %v", buf.String(), err)
	}
	if rec[logging.FieldComponent] != "pipeline" || rec["frames"] != float64(12) {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestComponentLoggerWithNilBase(t *testing.T) {
	logging.NewComponentLogger(nil, "store").Error("dropped")
}
