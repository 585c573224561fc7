package testsupport

import (
	"testing"

	"reelchain/internal/config"
	"reelchain/internal/queue"
)

// MustOpenStore opens the job index for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
