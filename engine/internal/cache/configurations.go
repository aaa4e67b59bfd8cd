package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pilot-net/hamon/pkg/types"
)

const configurationsKey = "configs:"

// DefaultConfigurationTTL bounds how stale a cached configuration list gets.
const DefaultConfigurationTTL = 30 * time.Second

// ConfigurationStore is the store behind CachedConfigurations.
type ConfigurationStore interface {
	ListAlarmConfigurations(ctx context.Context, installationID string) ([]types.AlarmConfiguration, error)
	TransitionAlarmState(ctx context.Context, configurationID string, from, to types.AlarmState, changedAt time.Time, trigger *types.AlarmTrigger) (bool, error)
}

// CachedConfigurations caches configuration lists per installation and
// drops an installation's entry whenever one of its states is updated.
// Cache failures fall through to the store.
type CachedConfigurations struct {
	next   ConfigurationStore
	cache  *Cache
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	owners map[string]string
}

// NewCachedConfigurations wraps next.
func NewCachedConfigurations(next ConfigurationStore, cache *Cache, ttl time.Duration, logger *slog.Logger) *CachedConfigurations {
	if ttl <= 0 {
		ttl = DefaultConfigurationTTL
	}
	return &CachedConfigurations{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "configuration_cache"),
		owners: map[string]string{},
	}
}

// ListAlarmConfigurations serves from cache when possible.
func (c *CachedConfigurations) ListAlarmConfigurations(ctx context.Context, installationID string) ([]types.AlarmConfiguration, error) {
	key := configurationsKey + installationID

	var cached []types.AlarmConfiguration
	hit, err := c.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		c.logger.Warn("cache read failed", "key", key, "error", err)
	}
	if hit {
		c.remember(installationID, cached)
		return cached, nil
	}

	configs, err := c.next.ListAlarmConfigurations(ctx, installationID)
	if err != nil {
		return nil, err
	}
	c.remember(installationID, configs)
	if err := c.cache.SetJSON(ctx, key, configs, c.ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return configs, nil
}

// TransitionAlarmState writes through and invalidates the owning
// installation. A transition that did not apply means the cached state is
// stale, so it invalidates too.
func (c *CachedConfigurations) TransitionAlarmState(ctx context.Context, configurationID string, from, to types.AlarmState, changedAt time.Time, trigger *types.AlarmTrigger) (bool, error) {
	applied, err := c.next.TransitionAlarmState(ctx, configurationID, from, to, changedAt, trigger)
	if err != nil {
		return false, err
	}
	c.invalidate(ctx, configurationID)
	return applied, nil
}

func (c *CachedConfigurations) remember(installationID string, configs []types.AlarmConfiguration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cfg := range configs {
		c.owners[cfg.ID] = installationID
	}
}

func (c *CachedConfigurations) invalidate(ctx context.Context, configurationID string) {
	c.mu.Lock()
	installationID, ok := c.owners[configurationID]
	c.mu.Unlock()

	var err error
	if ok {
		err = c.cache.Delete(ctx, configurationsKey+installationID)
	} else {
		err = c.cache.DeletePrefix(ctx, configurationsKey)
	}
	if err != nil {
		c.logger.Warn("cache invalidation failed", "configuration_id", configurationID, "error", err)
	}
}
