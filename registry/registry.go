package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"auth-server/models"
	"auth-server/store"

	"github.com/cenkalti/backoff/v5"
	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

var (
	// ErrClientNotFound is returned for unknown and disabled clients alike
	ErrClientNotFound = errors.New("client not found")

	// ErrResourceNotFound is returned for unknown or disabled resources
	ErrResourceNotFound = errors.New("resource not found")

	// ErrInvalidClientSecret is returned when a presented secret does not match
	ErrInvalidClientSecret = errors.New("invalid client secret")
)

// Cache is the subset of the shared cache the registry needs
type Cache interface {
	Get(key string) (interface{}, error)
	Set(key string, value interface{}, ttl time.Duration) error
}

// Registry resolves seeded configuration for the protocol engine. Reads that
// hit a transient store failure are retried with exponential backoff.
type Registry struct {
	store    store.EntityStore
	cache    Cache
	cacheTTL time.Duration

	maxTries        uint
	initialInterval time.Duration
}

// Option configures a Registry
type Option func(*Registry)

// WithCache serves repeated lookups from c for ttl
func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Registry) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

// WithRetry sets the number of attempts and the first backoff interval
func WithRetry(maxTries uint, initialInterval time.Duration) Option {
	return func(r *Registry) {
		r.maxTries = maxTries
		r.initialInterval = initialInterval
	}
}

// New creates a registry over es
func New(es store.EntityStore, opts ...Option) *Registry {
	r := &Registry{
		store:           es,
		maxTries:        4,
		initialInterval: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxTries == 0 {
		r.maxTries = 1
	}
	return r
}

// withRetry runs op until it succeeds, fails with a non transient error or
// runs out of attempts
func withRetry[T any](ctx context.Context, r *Registry, what string, op func(ctx context.Context) (T, error)) (T, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = r.initialInterval
	expBackoff.MaxInterval = 20 * r.initialInterval
	expBackoff.Reset()

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err != nil && !errors.Is(err, store.ErrUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Debug("Retrying store read", zap.String("lookup", what), zap.Duration("after", d), zap.Error(err))
		}),
	)
}

// cachedClient keeps the secret hash, which the public JSON form omits
type cachedClient struct {
	models.Client
	SecretHash string `json:"secret_hash"`
}

// cacheGet decodes a cached JSON value into dst. Values written by this
// package come back as string or []byte depending on the cache backend.
func (r *Registry) cacheGet(key string, dst interface{}) bool {
	if r.cache == nil {
		return false
	}
	cached, err := r.cache.Get(key)
	if err != nil || cached == nil {
		return false
	}

	var raw []byte
	switch v := cached.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		// some backends hand back decoded JSON
		b, err := json.Marshal(v)
		if err != nil {
			return false
		}
		raw = b
	}
	return json.Unmarshal(raw, dst) == nil
}

func (r *Registry) cacheSet(key string, value interface{}) {
	if r.cache == nil {
		return
	}
	b, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := r.cache.Set(key, string(b), r.cacheTTL); err != nil {
		logger.Error("Failed to cache registry entry", zap.String("key", key), zap.Error(err))
	}
}

// ResolveClient returns an enabled client by id
func (r *Registry) ResolveClient(ctx context.Context, clientID string) (models.Client, error) {
	cacheKey := "registry:client:" + clientID

	var cached cachedClient
	if r.cacheGet(cacheKey, &cached) {
		c := cached.Client
		c.SecretHash = cached.SecretHash
		return c, nil
	}

	c, err := withRetry(ctx, r, "client", func(ctx context.Context) (models.Client, error) {
		return r.store.GetClient(ctx, clientID)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Client{}, fmt.Errorf("%w: %q", ErrClientNotFound, clientID)
		}
		return models.Client{}, err
	}
	if !c.Enabled {
		return models.Client{}, fmt.Errorf("%w: %q is disabled", ErrClientNotFound, clientID)
	}

	r.cacheSet(cacheKey, cachedClient{Client: c, SecretHash: c.SecretHash})
	return c, nil
}

// AuthenticateClient resolves a client and checks the presented secret.
// Clients that do not require a secret authenticate with any value.
func (r *Registry) AuthenticateClient(ctx context.Context, clientID, secret string) (models.Client, error) {
	c, err := r.ResolveClient(ctx, clientID)
	if err != nil {
		return models.Client{}, err
	}
	if !c.RequireClientSecret {
		return c, nil
	}
	if !models.VerifySecret(c.SecretHash, secret) {
		return models.Client{}, fmt.Errorf("%w for client %q", ErrInvalidClientSecret, clientID)
	}
	return c, nil
}

// ResolveIdentityResource returns an enabled identity resource by name
func (r *Registry) ResolveIdentityResource(ctx context.Context, name string) (models.IdentityResource, error) {
	cacheKey := "registry:identity_resource:" + name

	var res models.IdentityResource
	if r.cacheGet(cacheKey, &res) {
		return res, nil
	}

	res, err := withRetry(ctx, r, "identity_resource", func(ctx context.Context) (models.IdentityResource, error) {
		return r.store.GetIdentityResource(ctx, name)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.IdentityResource{}, fmt.Errorf("%w: identity resource %q", ErrResourceNotFound, name)
		}
		return models.IdentityResource{}, err
	}
	if !res.Enabled {
		return models.IdentityResource{}, fmt.Errorf("%w: identity resource %q is disabled", ErrResourceNotFound, name)
	}

	r.cacheSet(cacheKey, res)
	return res, nil
}

// ResolveApiResource returns an enabled api resource by name
func (r *Registry) ResolveApiResource(ctx context.Context, name string) (models.ApiResource, error) {
	cacheKey := "registry:api_resource:" + name

	var res models.ApiResource
	if r.cacheGet(cacheKey, &res) {
		return res, nil
	}

	res, err := withRetry(ctx, r, "api_resource", func(ctx context.Context) (models.ApiResource, error) {
		return r.store.GetApiResource(ctx, name)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.ApiResource{}, fmt.Errorf("%w: api resource %q", ErrResourceNotFound, name)
		}
		return models.ApiResource{}, err
	}
	if !res.Enabled {
		return models.ApiResource{}, fmt.Errorf("%w: api resource %q is disabled", ErrResourceNotFound, name)
	}

	r.cacheSet(cacheKey, res)
	return res, nil
}
