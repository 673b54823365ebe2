package service

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/port"
)

// VersionCounter tags the generation of the order collection. The value is
// persisted in the cache layer so every instance fingerprints against the same
// generation; when the external store is unreachable the counter degrades to
// the last known in-process value and keeps the local cache functioning.
type VersionCounter struct {
	cache  port.CacheRepository
	local  atomic.Int64
	logger *zap.Logger
}

func NewVersionCounter(cache port.CacheRepository, logger *zap.Logger) *VersionCounter {
	return &VersionCounter{cache: cache, logger: logger}
}

// Current returns the externally persisted version when reachable, else the
// last known local value. Never decreases: external and local values are
// max-merged.
func (c *VersionCounter) Current(ctx context.Context) int64 {
	v, err := c.cache.GetVersion(ctx)
	if err != nil {
		c.logger.Warn("version read failed, using local value",
			zap.Int64("local", c.local.Load()), zap.Error(err))
		return c.local.Load()
	}
	return c.merge(v)
}

// Bump increments the version. The local increment always takes effect; the
// external write is best-effort and its failure is logged, not returned.
func (c *VersionCounter) Bump(ctx context.Context) int64 {
	n := c.local.Add(1)
	v, err := c.cache.IncrVersion(ctx)
	if err != nil {
		c.logger.Warn("version bump not persisted externally",
			zap.Int64("local", n), zap.Error(err))
		return n
	}
	return c.merge(v)
}

func (c *VersionCounter) merge(external int64) int64 {
	for {
		cur := c.local.Load()
		if external <= cur {
			return cur
		}
		if c.local.CompareAndSwap(cur, external) {
			return external
		}
	}
}
