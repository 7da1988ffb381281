package testsupport

import (
	"testing"

	"shelflife/internal/config"
	"shelflife/internal/ledger"
)

// MustOpenLedger opens the ledger for cfg and closes it when the test ends.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
