package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerWritesJSONWithUnitContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger().WithOutput(&buf).WithUnit("foo.service")
	l.Info("started", map[string]any{"pid": 123})

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid JSON line, got %q: %v", buf.String(), err)
	}
	if decoded["unit_id"] != "foo.service" {
		t.Fatalf("expected unit_id field, got %v", decoded["unit_id"])
	}
	if decoded["message"] != "started" {
		t.Fatalf("expected message field, got %v", decoded["message"])
	}
}

func TestSugaredLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogger().WithOutput(&buf).Sugar()
	s.Infof("job %d done", 42)

	if !strings.Contains(buf.String(), "job 42 done") {
		t.Fatalf("expected formatted message in output, got %q", buf.String())
	}
}
