package log

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevel(Level())

	SetLevel(LevelInfo)
	Debug("hidden %d", 1)
	Info("shown %d", 2)
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, `msg="shown 2"`) {
		t.Errorf("unexpected output at info level: %q", out)
	}

	buf.Reset()
	SetLevel(LevelTrace)
	Trace("page %d", 3)
	out := buf.String()
	if !strings.Contains(out, "level=TRACE") {
		t.Errorf("trace level not named: %q", out)
	}
	if !strings.Contains(out, "log_test.go") {
		t.Errorf("call site not reported: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"trace", LevelTrace, true},
		{" DEBUG ", LevelDebug, true},
		{"warning", LevelWarn, true},
		{"error", LevelError, true},
		{"loud", LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v, %t; want %v, %t", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
