package grants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auth-server/metrics"
	"auth-server/models"
	"auth-server/store"

	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

// DefaultSweepBatchSize is how many expired grants one sweep statement removes
const DefaultSweepBatchSize = 100

// issueAttempts bounds retries on a (practically impossible) key collision
const issueAttempts = 3

// ClientResolver resolves enabled clients; registry.Registry satisfies it
type ClientResolver interface {
	ResolveClient(ctx context.Context, clientID string) (models.Client, error)
}

// Manager owns the persisted grant lifecycle: issue, consume once, validate
// repeatedly, revoke and sweep. It holds no state of its own; every
// serialization point is a store transaction or conditional delete, so any
// number of replicas can share one store.
type Manager struct {
	store     store.GrantStore
	clients   ClientResolver
	now       func() time.Time
	batchSize int
	metrics   *metrics.Collector
	newKey    func() (string, error)
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source used for issue and expiry checks
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSweepBatchSize sets the number of grants removed per sweep batch
func WithSweepBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithMetrics records lifecycle events on c
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// NewManager creates a Manager over gs, resolving clients through clients
func NewManager(gs store.GrantStore, clients ClientResolver, opts ...Option) *Manager {
	m := &Manager{
		store:     gs,
		clients:   clients,
		now:       time.Now,
		batchSize: DefaultSweepBatchSize,
		newKey:    generateKey,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) clock() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

// MaxLifetime caps the lifetime a grant may be issued with
const MaxLifetime = 10 * 365 * 24 * time.Hour

// LifetimeFor returns the lifetime a client configures for grants of typ
func LifetimeFor(client models.Client, typ models.PersistedGrantType) time.Duration {
	var seconds int
	switch typ {
	case models.AuthorizationCodeGrant:
		seconds = client.AuthorizationCodeLifetime
	case models.RefreshTokenGrant, models.UserConsentGrant:
		seconds = client.AbsoluteRefreshTokenLifetime
	case models.ReferenceTokenGrant:
		seconds = client.AccessTokenLifetime
	}
	return time.Duration(seconds) * time.Second
}

// Issue stores a new grant for clientID and returns its opaque handle. The
// grant expires ttl after issue.
func (m *Manager) Issue(ctx context.Context, typ models.PersistedGrantType, subjectID, clientID string, payload []byte, ttl time.Duration) (string, error) {
	if !typ.Valid() {
		return "", fmt.Errorf("%w: unknown grant type %q", ErrInvalidGrant, typ)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be positive", ErrInvalidGrant)
	}
	if ttl > MaxLifetime {
		return "", fmt.Errorf("%w: ttl exceeds %s", ErrInvalidGrant, MaxLifetime)
	}
	if _, err := m.clients.ResolveClient(ctx, clientID); err != nil {
		return "", err
	}

	now := m.clock()
	for attempt := 0; attempt < issueAttempts; attempt++ {
		handle, err := m.newKey()
		if err != nil {
			return "", err
		}

		err = m.store.CreateGrant(ctx, models.PersistedGrant{
			Key:          storageKey(handle),
			Type:         typ,
			SubjectID:    subjectID,
			ClientID:     clientID,
			CreationTime: now,
			Expiration:   now.Add(ttl),
			Data:         payload,
		})
		switch {
		case err == nil:
			m.metrics.GrantIssued(string(typ))
			logger.Debug("Grant issued",
				zap.String("type", string(typ)),
				zap.String("client_id", clientID),
				zap.Duration("ttl", ttl))
			return handle, nil
		case errors.Is(err, store.ErrDuplicateKey):
			continue
		case errors.Is(err, store.ErrReferenceNotFound):
			return "", fmt.Errorf("%w: %q", ErrClientNotFound, clientID)
		default:
			return "", fmt.Errorf("issuing grant: %w", err)
		}
	}
	return "", fmt.Errorf("issuing grant: no unique key after %d attempts", issueAttempts)
}

// Consume redeems a one-shot grant and returns its payload. See ConsumeGrant.
func (m *Manager) Consume(ctx context.Context, key string) ([]byte, error) {
	g, err := m.ConsumeGrant(ctx, key)
	if err != nil {
		return nil, err
	}
	return g.Data, nil
}

// ConsumeGrant atomically removes a one-shot grant and returns it. Exactly
// one of any number of concurrent callers succeeds; the rest get
// ErrGrantNotFound. An expired grant is removed as well and reported as
// ErrGrantExpired. Live reusable grants are left untouched and yield
// ErrGrantTypeMismatch; expiry takes precedence over the type check.
func (m *Manager) ConsumeGrant(ctx context.Context, key string) (models.PersistedGrant, error) {
	if key == "" {
		return models.PersistedGrant{}, m.reject("consume", ErrGrantNotFound)
	}
	now := m.clock()
	hashed := storageKey(key)

	g, err := m.store.TakeGrant(ctx, hashed, models.OneShotGrantTypes())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return models.PersistedGrant{}, fmt.Errorf("consuming grant: %w", err)
		}
		existing, getErr := m.store.GetGrant(ctx, hashed)
		if getErr == nil && !existing.Type.OneShot() {
			if existing.ExpiredAt(now) {
				if err := m.store.DeleteGrant(ctx, hashed); err != nil {
					logger.Error("Failed to delete expired grant", zap.Error(err))
				}
				return models.PersistedGrant{}, m.reject("consume", ErrGrantExpired)
			}
			return models.PersistedGrant{}, m.reject("consume", ErrGrantTypeMismatch)
		}
		return models.PersistedGrant{}, m.reject("consume", ErrGrantNotFound)
	}

	if g.ExpiredAt(now) {
		return models.PersistedGrant{}, m.reject("consume", ErrGrantExpired)
	}
	m.metrics.GrantConsumed(string(g.Type))
	return g, nil
}

// Validate checks a reusable grant and returns its payload. See ValidateGrant.
func (m *Manager) Validate(ctx context.Context, key string) ([]byte, error) {
	g, err := m.ValidateGrant(ctx, key)
	if err != nil {
		return nil, err
	}
	return g.Data, nil
}

// ValidateGrant returns a reusable grant without removing it. An expired
// grant is deleted on the way and reported as ErrGrantExpired.
func (m *Manager) ValidateGrant(ctx context.Context, key string) (models.PersistedGrant, error) {
	if key == "" {
		return models.PersistedGrant{}, m.reject("validate", ErrGrantNotFound)
	}
	now := m.clock()
	hashed := storageKey(key)

	g, err := m.store.GetGrant(ctx, hashed)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.PersistedGrant{}, m.reject("validate", ErrGrantNotFound)
		}
		return models.PersistedGrant{}, fmt.Errorf("validating grant: %w", err)
	}
	if g.Type.OneShot() {
		return models.PersistedGrant{}, m.reject("validate", ErrGrantTypeMismatch)
	}
	if g.ExpiredAt(now) {
		if err := m.store.DeleteGrant(ctx, hashed); err != nil {
			logger.Error("Failed to delete expired grant", zap.Error(err))
		}
		return models.PersistedGrant{}, m.reject("validate", ErrGrantExpired)
	}
	m.metrics.GrantValidated(string(g.Type))
	return g, nil
}

// Revoke deletes the grant whatever its state. Revoking an unknown or already
// revoked key succeeds.
func (m *Manager) Revoke(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := m.store.DeleteGrant(ctx, storageKey(key)); err != nil {
		return fmt.Errorf("revoking grant: %w", err)
	}
	m.metrics.GrantsRevoked(1)
	return nil
}

// RevokeAll deletes every grant of a subject, optionally narrowed to one
// client and grant type, and returns how many were removed
func (m *Manager) RevokeAll(ctx context.Context, filter models.GrantFilter) (int64, error) {
	if err := validateFilter(filter); err != nil {
		return 0, err
	}
	n, err := m.store.DeleteGrants(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("revoking grants: %w", err)
	}
	m.metrics.GrantsRevoked(n)
	logger.Info("Grants revoked",
		zap.String("subject_id", filter.SubjectID),
		zap.String("client_id", filter.ClientID),
		zap.Int64("count", n))
	return n, nil
}

// List returns the subject's live grants matching filter. Expired grants are
// left out even if the sweeper has not removed them yet.
func (m *Manager) List(ctx context.Context, filter models.GrantFilter) ([]models.PersistedGrant, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	all, err := m.store.ListGrants(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	now := m.clock()
	live := make([]models.PersistedGrant, 0, len(all))
	for _, g := range all {
		if !g.ExpiredAt(now) {
			live = append(live, g)
		}
	}
	return live, nil
}

func validateFilter(filter models.GrantFilter) error {
	if filter.SubjectID == "" {
		return fmt.Errorf("%w: subject_id is required", ErrInvalidGrant)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return fmt.Errorf("%w: unknown grant type %q", ErrInvalidGrant, filter.Type)
	}
	return nil
}

// SweepExpired removes every grant whose expiration is at or before now, in
// batches, and returns the total removed. It can run alongside any other
// operation.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := m.store.DeleteExpired(ctx, now, m.batchSize)
		if err != nil {
			return total, fmt.Errorf("sweeping expired grants: %w", err)
		}
		total += n
		m.metrics.GrantsSwept(n)
		if n < int64(m.batchSize) {
			return total, nil
		}
	}
}

// reject records a failed consume or validate and returns err
func (m *Manager) reject(operation string, err error) error {
	reason := "unknown"
	switch {
	case errors.Is(err, ErrGrantNotFound):
		reason = "not_found"
	case errors.Is(err, ErrGrantExpired):
		reason = "expired"
	case errors.Is(err, ErrGrantTypeMismatch):
		reason = "type_mismatch"
	}
	m.metrics.GrantRejected(operation, reason)
	return err
}
