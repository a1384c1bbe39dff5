package sseutil

import (
	"strings"
	"testing"
)

func TestParseSSELine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		line      string
		wantEvent string
		wantData  string
		wantOK    bool
	}{
		{name: "data line", line: "data: {\"x\":1}", wantData: "{\"x\":1}", wantOK: true},
		{name: "data no space", line: "data:{\"x\":1}", wantData: "{\"x\":1}", wantOK: true},
		{name: "event line", line: "event: message_start", wantEvent: "message_start", wantOK: true},
		{name: "done sentinel", line: "data: [DONE]", wantData: "[DONE]", wantOK: true},
		{name: "empty", line: ""},
		{name: "comment", line: ": keep-alive"},
		{name: "no colon", line: "garbage"},
		{name: "unknown field", line: "id: 42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			event, data, ok := ParseSSELine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if event != tt.wantEvent || data != tt.wantData {
				t.Errorf("= (%q, %q), want (%q, %q)", event, data, tt.wantEvent, tt.wantData)
			}
		})
	}
}

func TestNewScanner_LongLine(t *testing.T) {
	t.Parallel()

	// A line just under the 64KB cap must scan; the scanner must not stop
	// at the default bufio limit.
	long := "data: " + strings.Repeat("a", 40*1024)
	s := NewScanner(strings.NewReader(long + "\n"))
	if !s.Scan() {
		t.Fatalf("Scan failed: %v", s.Err())
	}
	if s.Text() != long {
		t.Error("long line truncated")
	}
}
