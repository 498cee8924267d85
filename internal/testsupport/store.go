package testsupport

import (
	"testing"

	"remotedev/internal/config"
	"remotedev/internal/store"
)

// MustOpenStore opens the SQLite store for cfg and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.SQLite {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}
