package store

import (
	"fmt"

	"github.com/shielded-relay/relayer/internal/config"
)

// Open constructs the Store backend named by cfg.Backend ("memory", "file",
// or "postgres").
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.FilePath, cfg.FlushInterval.Duration)
	case "postgres":
		return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
