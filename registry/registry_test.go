package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"auth-server/models"
	"auth-server/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umakantv/go-utils/logger"
)

func TestMain(m *testing.M) {
	logger.Init(logger.LoggerConfig{
		CallerKey:  "file",
		TimeKey:    "timestamp",
		CallerSkip: 1,
	})
	os.Exit(m.Run())
}

type fakeStore struct {
	store.EntityStore

	mu          sync.Mutex
	clients     map[string]models.Client
	identity    map[string]models.IdentityResource
	apis        map[string]models.ApiResource
	failures    int
	clientReads int
}

func (f *fakeStore) GetClient(_ context.Context, id string) (models.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clientReads++
	if f.failures > 0 {
		f.failures--
		return models.Client{}, fmt.Errorf("getting client: %w", store.ErrUnavailable)
	}
	c, ok := f.clients[id]
	if !ok {
		return models.Client{}, fmt.Errorf("getting client %q: %w", id, store.ErrNotFound)
	}
	return c, nil
}

func (f *fakeStore) GetIdentityResource(_ context.Context, name string) (models.IdentityResource, error) {
	r, ok := f.identity[name]
	if !ok {
		return models.IdentityResource{}, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) GetApiResource(_ context.Context, name string) (models.ApiResource, error) {
	r, ok := f.apis[name]
	if !ok {
		return models.ApiResource{}, store.ErrNotFound
	}
	return r, nil
}

type mapCache struct {
	mu    sync.Mutex
	items map[string]interface{}
}

func (c *mapCache) Get(key string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return v, nil
}

func (c *mapCache) Set(key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clients: map[string]models.Client{
			"mvc": {
				ClientID:            "mvc",
				Enabled:             true,
				RequireClientSecret: true,
				SecretHash:          models.SHA256Secret("secret"),
				AllowedGrantTypes:   []models.GrantType{models.GrantTypeAuthorizationCode},
			},
			"spa": {
				ClientID:          "spa",
				Enabled:           true,
				AllowedGrantTypes: []models.GrantType{models.GrantTypeAuthorizationCode},
			},
			"retired": {
				ClientID: "retired",
				Enabled:  false,
			},
		},
		identity: map[string]models.IdentityResource{
			"openid": {Name: "openid", Enabled: true, UserClaims: []string{"sub"}},
			"legacy": {Name: "legacy", Enabled: false, UserClaims: []string{"x"}},
		},
		apis: map[string]models.ApiResource{
			"api1": {Name: "api1", Enabled: true, Scopes: []string{"api1"}},
		},
	}
}

func TestResolveClient(t *testing.T) {
	t.Parallel()

	r := New(newFakeStore(), WithRetry(1, time.Millisecond))
	ctx := context.Background()

	c, err := r.ResolveClient(ctx, "mvc")
	require.NoError(t, err)
	assert.Equal(t, "mvc", c.ClientID)

	_, err = r.ResolveClient(ctx, "unknown")
	require.ErrorIs(t, err, ErrClientNotFound)

	_, err = r.ResolveClient(ctx, "retired")
	require.ErrorIs(t, err, ErrClientNotFound)
}

func TestResolveClientRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	fake := newFakeStore()
	fake.failures = 2
	r := New(fake, WithRetry(4, time.Millisecond))

	c, err := r.ResolveClient(context.Background(), "mvc")
	require.NoError(t, err)
	assert.Equal(t, "mvc", c.ClientID)
	assert.Equal(t, 3, fake.clientReads)
}

func TestResolveClientGivesUpAfterMaxTries(t *testing.T) {
	t.Parallel()

	fake := newFakeStore()
	fake.failures = 10
	r := New(fake, WithRetry(3, time.Millisecond))

	_, err := r.ResolveClient(context.Background(), "mvc")
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.Equal(t, 3, fake.clientReads)
}

func TestResolveClientDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	fake := newFakeStore()
	r := New(fake, WithRetry(5, time.Millisecond))

	_, err := r.ResolveClient(context.Background(), "unknown")
	require.ErrorIs(t, err, ErrClientNotFound)
	assert.Equal(t, 1, fake.clientReads)
}

func TestResolveClientUsesCache(t *testing.T) {
	t.Parallel()

	fake := newFakeStore()
	cache := &mapCache{items: map[string]interface{}{}}
	r := New(fake, WithCache(cache, time.Minute))
	ctx := context.Background()

	first, err := r.ResolveClient(ctx, "mvc")
	require.NoError(t, err)
	second, err := r.ResolveClient(ctx, "mvc")
	require.NoError(t, err)

	assert.Equal(t, 1, fake.clientReads)
	assert.Equal(t, first.SecretHash, second.SecretHash)
	assert.Contains(t, cache.items, "registry:client:mvc")
}

func TestAuthenticateClient(t *testing.T) {
	t.Parallel()

	cache := &mapCache{items: map[string]interface{}{}}
	r := New(newFakeStore(), WithCache(cache, time.Minute))
	ctx := context.Background()

	_, err := r.AuthenticateClient(ctx, "mvc", "secret")
	require.NoError(t, err)

	// second call is served from cache and must still carry the hash
	_, err = r.AuthenticateClient(ctx, "mvc", "secret")
	require.NoError(t, err)

	_, err = r.AuthenticateClient(ctx, "mvc", "wrong")
	require.ErrorIs(t, err, ErrInvalidClientSecret)

	_, err = r.AuthenticateClient(ctx, "spa", "")
	require.NoError(t, err)

	_, err = r.AuthenticateClient(ctx, "unknown", "secret")
	require.ErrorIs(t, err, ErrClientNotFound)
}

func TestResolveResources(t *testing.T) {
	t.Parallel()

	r := New(newFakeStore())
	ctx := context.Background()

	id, err := r.ResolveIdentityResource(ctx, "openid")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub"}, id.UserClaims)

	_, err = r.ResolveIdentityResource(ctx, "legacy")
	require.ErrorIs(t, err, ErrResourceNotFound)

	_, err = r.ResolveIdentityResource(ctx, "email")
	require.ErrorIs(t, err, ErrResourceNotFound)

	api, err := r.ResolveApiResource(ctx, "api1")
	require.NoError(t, err)
	assert.Equal(t, []string{"api1"}, api.Scopes)

	_, err = r.ResolveApiResource(ctx, "api2")
	require.ErrorIs(t, err, ErrResourceNotFound)
}
