package app

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/internal/resilience"
	"github.com/MrWong99/voxlink/pkg/recording"
	"github.com/MrWong99/voxlink/pkg/recording/postgres"
)

// OpenStore returns the recording store selected by cfg and a function that
// releases it. Writes to the postgres store go through a circuit breaker.
func OpenStore(ctx context.Context, cfg config.RecordingConfig) (recording.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory, "":
		return recording.NewMemStore(), func() {}, nil
	case config.StorePostgres:
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("recording.postgres_dsn is required for the postgres store")
		}
		s, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "recording-store"})
		return resilience.GuardStore(s, cb), s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown recording store %q", cfg.Store)
	}
}
