package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"dosu/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverCache serves from primary and switches to fallback while primary
// is failing, probing primary again once a minute.
type FailoverCache struct {
	primary  domain.Cache
	fallback domain.Cache
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverCache(primary, fallback domain.Cache, logger *zerolog.Logger) *FailoverCache {
	return &FailoverCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// Down reports whether calls currently go to the fallback.
func (c *FailoverCache) Down() bool {
	return c.isDown.Load()
}

func (c *FailoverCache) markDown(err error) {
	c.logger.Error().Err(err).Msg("Primary cache failed, falling back to memory")
	c.isDown.Store(true)
	c.mu.Lock()
	c.lastCheck = c.now()
	c.mu.Unlock()
}

// usePrimary decides whether the next call may try primary.
func (c *FailoverCache) usePrimary() bool {
	if !c.isDown.Load() {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Sub(c.lastCheck) > recoveryInterval {
		c.lastCheck = c.now()
		return true
	}
	return false
}

func (c *FailoverCache) recovered() {
	if c.isDown.Swap(false) {
		c.logger.Info().Msg("Primary cache recovered")
	}
}

func (c *FailoverCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.usePrimary() {
		val, err := c.primary.Get(ctx, key)
		if err == nil || errors.Is(err, ErrMiss) {
			c.recovered()
			return val, err
		}
		c.markDown(err)
	}
	return c.fallback.Get(ctx, key)
}

func (c *FailoverCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.usePrimary() {
		err := c.primary.Set(ctx, key, value, ttl)
		if err == nil {
			c.recovered()
			return nil
		}
		c.markDown(err)
	}
	return c.fallback.Set(ctx, key, value, ttl)
}

func (c *FailoverCache) Delete(ctx context.Context, key string) error {
	// clear both sides
	_ = c.fallback.Delete(ctx, key)
	if c.usePrimary() {
		err := c.primary.Delete(ctx, key)
		if err == nil {
			c.recovered()
			return nil
		}
		c.markDown(err)
	}
	return nil
}
