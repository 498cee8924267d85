package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"remotedev/internal/logs"
)

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func appendLog(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}

func TestLastReturnsTrailingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remotedevd.log")
	writeLog(t, path, "a\nb\nc\npartial")

	chunk, err := logs.Last(path, 2)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(chunk.Lines) != 2 || chunk.Lines[0] != "b" || chunk.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", chunk.Lines)
	}
	if chunk.Offset != int64(len("a\nb\nc\n")) {
		t.Fatalf("offset should stop before the partial line, got %d", chunk.Offset)
	}
}

func TestLastMissingFile(t *testing.T) {
	chunk, err := logs.Last(filepath.Join(t.TempDir(), "missing.log"), 10)
	if err != nil || len(chunk.Lines) != 0 || chunk.Offset != 0 {
		t.Fatalf("expected empty chunk, got %+v err=%v", chunk, err)
	}
}

func TestSinceWaitsForNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remotedevd.log")
	writeLog(t, path, "start\n")
	first, err := logs.Last(path, 1)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		if err := appendLog(path, "later\n"); err != nil {
			t.Errorf("append log: %v", err)
		}
	}()

	chunk, err := logs.Since(context.Background(), path, first.Offset, 5*time.Second)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(chunk.Lines) != 1 || chunk.Lines[0] != "later" {
		t.Fatalf("unexpected lines: %#v", chunk.Lines)
	}
	if chunk.Offset != int64(len("start\nlater\n")) {
		t.Fatalf("unexpected offset %d", chunk.Offset)
	}
}

func TestSinceRestartsWhenFileShrinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remotedevd.log")
	writeLog(t, path, "new run\n")

	chunk, err := logs.Since(context.Background(), path, 1000, 0)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(chunk.Lines) != 1 || chunk.Lines[0] != "new run" {
		t.Fatalf("expected read from start, got %#v", chunk.Lines)
	}
}

func TestSinceStopsOnContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remotedevd.log")
	writeLog(t, path, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := logs.Since(ctx, path, 0, time.Minute); err == nil {
		t.Fatal("expected context error")
	}
}
