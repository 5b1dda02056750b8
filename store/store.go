package store

import (
	"context"
	"time"

	"auth-server/models"
)

// EntityStore holds the seeded configuration entities. Collections are
// written once by the seeder and read by the registry afterwards.
type EntityStore interface {
	CountClients(ctx context.Context) (int, error)
	InsertClients(ctx context.Context, clients []models.Client) error
	GetClient(ctx context.Context, clientID string) (models.Client, error)
	ListClients(ctx context.Context) ([]models.Client, error)

	CountIdentityResources(ctx context.Context) (int, error)
	InsertIdentityResources(ctx context.Context, resources []models.IdentityResource) error
	GetIdentityResource(ctx context.Context, name string) (models.IdentityResource, error)

	CountApiResources(ctx context.Context) (int, error)
	InsertApiResources(ctx context.Context, resources []models.ApiResource) error
	GetApiResource(ctx context.Context, name string) (models.ApiResource, error)
}

// GrantStore persists grant records keyed by the hashed grant handle.
//
// TakeGrant is the one-shot primitive: it removes and returns the record in a
// single atomic step, and only when the record's type is one of types. A
// record that is absent, already taken or of another type yields ErrNotFound
// and is left untouched.
type GrantStore interface {
	CreateGrant(ctx context.Context, grant models.PersistedGrant) error
	GetGrant(ctx context.Context, key string) (models.PersistedGrant, error)
	TakeGrant(ctx context.Context, key string, types []models.PersistedGrantType) (models.PersistedGrant, error)
	DeleteGrant(ctx context.Context, key string) error
	// DeleteExpired removes at most limit grants whose expiration is at or
	// before now and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error)
	ListGrants(ctx context.Context, filter models.GrantFilter) ([]models.PersistedGrant, error)
	DeleteGrants(ctx context.Context, filter models.GrantFilter) (int64, error)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
