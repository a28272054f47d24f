package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestReplayEmitsTextLine(t *testing.T) {
	var out bytes.Buffer
	f, err := os.CreateTemp(t.TempDir(), "replay-out-*")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()

	data := []byte("COG_MESSAGE hello\r\n")
	if err := replay(data, 4096, 8, f); err != nil {
		t.Fatalf("replay: %v", err)
	}

	contents, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("read temp file: %v", err)
	}
	out.Write(contents)
	if !strings.Contains(out.String(), "COG_MESSAGE") || !strings.Contains(out.String(), "hello") {
		t.Fatalf("expected a COG_MESSAGE line in output, got %q", out.String())
	}
}

func TestReplayEmitsDebuggerSnapshot(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "replay-out-*")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()

	payload := make([]byte, 416)
	payload[0] = 2 // valid COG ID lead byte, zero-padded shape gate
	if err := replay(payload, 4096, 64, f); err != nil {
		t.Fatalf("replay: %v", err)
	}

	contents, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("read temp file: %v", err)
	}
	if !strings.Contains(string(contents), "DEBUGGER_416BYTE") {
		t.Fatalf("expected a DEBUGGER_416BYTE line in output, got %q", string(contents))
	}
	if !strings.Contains(string(contents), "response=") {
		t.Fatalf("expected a generated response in output, got %q", string(contents))
	}
}
