package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[logging]\nretention_days = -1\n")

	cmd := newCommand()
	cmd.SetArgs([]string{"--config", path})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "retention_days") {
		t.Fatalf("expected retention_days validation error, got %v", err)
	}
}

func TestRejectsPositionalArgs(t *testing.T) {
	cmd := newCommand()
	cmd.SetArgs([]string{"extra"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for positional argument")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
