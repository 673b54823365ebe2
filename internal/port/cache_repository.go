package port

import (
	"context"
	"time"
)

type CacheRepository interface {
	// GetPage returns the cached payload for key, with ok=false on a miss.
	GetPage(ctx context.Context, key string) ([]byte, bool, error)

	// SetPage stores payload under key with the given TTL.
	SetPage(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// GetVersion reads the persisted order-collection version, 0 if unset.
	GetVersion(ctx context.Context) (int64, error)

	// IncrVersion atomically increments the persisted version and returns the
	// new value.
	IncrVersion(ctx context.Context) (int64, error)
}
