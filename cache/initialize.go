package cache

import (
	"fmt"

	"auth-server/config"

	"github.com/umakantv/go-utils/cache"
	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

// InitializeCache connects the registry read-through cache to the
// configured Redis. It returns nil when caching is disabled.
func InitializeCache(cfg config.Config) (cache.Cache, error) {
	if !cfg.CacheEnabled {
		return nil, nil
	}

	c, err := cache.New(cache.Config{
		Type:          "redis",
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing cache: %w", err)
	}

	logger.Info("Registry cache enabled",
		zap.String("addr", cfg.RedisAddr),
		zap.Duration("ttl", cfg.CacheTTL))
	return c, nil
}
