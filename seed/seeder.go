package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auth-server/metrics"
	"auth-server/store"

	"github.com/google/uuid"
	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

// Outcome describes what the seeder did with one collection
type Outcome string

const (
	// OutcomeSeeded means the collection was empty and the set was inserted
	OutcomeSeeded Outcome = "seeded"
	// OutcomeSkipped means the collection already held rows
	OutcomeSkipped Outcome = "skipped"
	// OutcomeRaced means another instance filled the collection between our
	// empty check and our insert
	OutcomeRaced Outcome = "raced"
)

// Report is the per collection result of one SeedIfEmpty run
type Report struct {
	InstanceID        string  `json:"instance_id"`
	Clients           Outcome `json:"clients"`
	IdentityResources Outcome `json:"identity_resources"`
	ApiResources      Outcome `json:"api_resources"`
}

// Seeder populates empty configuration collections exactly once
type Seeder struct {
	store      store.EntityStore
	instanceID string
	now        func() time.Time
	metrics    *metrics.Collector
}

// Option configures a Seeder
type Option func(*Seeder)

// WithClock overrides the creation timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *Seeder) { s.now = now }
}

// WithMetrics records outcomes on c
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Seeder) { s.metrics = c }
}

// WithInstanceID overrides the generated instance id shown in logs
func WithInstanceID(id string) Option {
	return func(s *Seeder) { s.instanceID = id }
}

// NewSeeder creates a seeder writing to es
func NewSeeder(es store.EntityStore, opts ...Option) *Seeder {
	s := &Seeder{
		store:      es,
		instanceID: uuid.NewString(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type collection struct {
	name   string
	size   int
	count  func(ctx context.Context) (int, error)
	insert func(ctx context.Context) error
}

// SeedIfEmpty seeds Clients, then IdentityResources, then ApiResources. Each
// collection is inserted in full when empty and left alone otherwise; rows
// already present are never updated. The first error stops the run.
func (s *Seeder) SeedIfEmpty(ctx context.Context, set Set) (Report, error) {
	set = set.stamp(s.now().UTC().Truncate(time.Millisecond))
	report := Report{InstanceID: s.instanceID}

	collections := []struct {
		collection
		outcome *Outcome
	}{
		{collection{
			name:   "clients",
			size:   len(set.Clients),
			count:  s.store.CountClients,
			insert: func(ctx context.Context) error { return s.store.InsertClients(ctx, set.Clients) },
		}, &report.Clients},
		{collection{
			name:   "identity_resources",
			size:   len(set.IdentityResources),
			count:  s.store.CountIdentityResources,
			insert: func(ctx context.Context) error { return s.store.InsertIdentityResources(ctx, set.IdentityResources) },
		}, &report.IdentityResources},
		{collection{
			name:   "api_resources",
			size:   len(set.ApiResources),
			count:  s.store.CountApiResources,
			insert: func(ctx context.Context) error { return s.store.InsertApiResources(ctx, set.ApiResources) },
		}, &report.ApiResources},
	}

	for _, c := range collections {
		outcome, err := s.seedCollection(ctx, c.collection)
		if err != nil {
			return report, err
		}
		*c.outcome = outcome
		s.metrics.SeedOutcome(c.name, string(outcome))
	}
	return report, nil
}

func (s *Seeder) seedCollection(ctx context.Context, c collection) (Outcome, error) {
	n, err := c.count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking %s: %w", c.name, err)
	}
	if n > 0 {
		logger.Info("Collection already seeded, skipping",
			zap.String("collection", c.name),
			zap.Int("rows", n),
			zap.String("instance", s.instanceID))
		return OutcomeSkipped, nil
	}
	if c.size == 0 {
		return OutcomeSkipped, nil
	}

	err = c.insert(ctx)
	if err == nil {
		logger.Info("Seeded collection",
			zap.String("collection", c.name),
			zap.Int("rows", c.size),
			zap.String("instance", s.instanceID))
		return OutcomeSeeded, nil
	}

	// Another instance may have filled the collection after our check. The
	// unique key rejected our copy; that is only benign if the rows exist now.
	if errors.Is(err, store.ErrDuplicateKey) {
		if n, countErr := c.count(ctx); countErr == nil && n > 0 {
			logger.Info("Collection seeded concurrently by another instance",
				zap.String("collection", c.name),
				zap.String("instance", s.instanceID))
			return OutcomeRaced, nil
		}
	}
	return "", fmt.Errorf("seeding %s: %w", c.name, err)
}
