package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"remotedev/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func githubServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"login":"octo"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunAll_GitHubAuth(t *testing.T) {
	srv := githubServer(t, "good-token")
	for name, tc := range map[string]struct {
		token string
		pass  bool
	}{
		"valid":   {"good-token", true},
		"invalid": {"bad-token", false},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.DataDir = t.TempDir()
			cfg.Paths.LogDir = t.TempDir()
			cfg.GitHub.APIURL = srv.URL
			cfg.GitHub.Token = tc.token

			var found *Result
			results := RunAll(context.Background(), &cfg)
			for i := range results {
				if results[i].Name == "GitHub" {
					found = &results[i]
				}
			}
			if found == nil {
				t.Fatal("expected GitHub check in results")
			}
			if found.Passed != tc.pass {
				t.Fatalf("passed = %v, detail %q", found.Passed, found.Detail)
			}
		})
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.GitHub.Token = ""
	cfg.Agents = nil

	results := RunAll(context.Background(), &cfg)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(results), results)
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	if _, bad := CriticalFailure(results); bad {
		t.Fatal("no critical failure expected")
	}
}

func TestRunAll_MissingDataDirIsCritical(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(t.TempDir(), "missing")
	cfg.Paths.LogDir = t.TempDir()
	cfg.GitHub.Token = ""

	failure, bad := CriticalFailure(RunAll(context.Background(), &cfg))
	if !bad || failure.Name != "Data directory" {
		t.Fatalf("expected data directory failure, got %+v", failure)
	}
}

func TestRunAll_ChecksAgentCommands(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.GitHub.Token = ""
	cfg.Agents = map[string]config.Agent{
		"CODE": {Command: []string{"/nonexistent/coder"}},
	}

	failed := Failed(RunAll(context.Background(), &cfg))
	if len(failed) != 1 || failed[0].Name != "Agent CODE" {
		t.Fatalf("failed = %+v", failed)
	}
}
