package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"auth-server/models"

	"github.com/jmoiron/sqlx"
)

const grantColumns = `grant_key, type, subject_id, client_id, creation_time, expiration, data`

type grantRow struct {
	Key          string `db:"grant_key"`
	Type         string `db:"type"`
	SubjectID    string `db:"subject_id"`
	ClientID     string `db:"client_id"`
	CreationTime int64  `db:"creation_time"`
	Expiration   int64  `db:"expiration"`
	Data         []byte `db:"data"`
}

func newGrantRow(g models.PersistedGrant) grantRow {
	return grantRow{
		Key:          g.Key,
		Type:         string(g.Type),
		SubjectID:    g.SubjectID,
		ClientID:     g.ClientID,
		CreationTime: toMillis(g.CreationTime),
		Expiration:   toMillis(g.Expiration),
		Data:         g.Data,
	}
}

func (r grantRow) model() models.PersistedGrant {
	return models.PersistedGrant{
		Key:          r.Key,
		Type:         models.PersistedGrantType(r.Type),
		SubjectID:    r.SubjectID,
		ClientID:     r.ClientID,
		CreationTime: fromMillis(r.CreationTime),
		Expiration:   fromMillis(r.Expiration),
		Data:         r.Data,
	}
}

// CreateGrant inserts a new grant record. A key collision yields
// ErrDuplicateKey, an unknown client ErrReferenceNotFound.
func (s *SQLStore) CreateGrant(ctx context.Context, grant models.PersistedGrant) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.NamedExecContext(ctx, `INSERT INTO persisted_grants (`+grantColumns+`)
		VALUES (:grant_key, :type, :subject_id, :client_id, :creation_time, :expiration, :data)`,
		newGrantRow(grant))
	if err != nil {
		return fmt.Errorf("inserting grant: %w", classify(err))
	}
	return nil
}

// GetGrant reads a grant without modifying it
func (s *SQLStore) GetGrant(ctx context.Context, key string) (models.PersistedGrant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row grantRow
	err := s.db.GetContext(ctx, &row, `SELECT `+grantColumns+` FROM persisted_grants WHERE grant_key = ?`, key)
	if err != nil {
		return models.PersistedGrant{}, fmt.Errorf("getting grant: %w", classify(err))
	}
	return row.model(), nil
}

// TakeGrant deletes and returns the grant in one statement. Two concurrent
// callers can never both receive the row.
func (s *SQLStore) TakeGrant(ctx context.Context, key string, types []models.PersistedGrantType) (models.PersistedGrant, error) {
	if len(types) == 0 {
		return models.PersistedGrant{}, fmt.Errorf("taking grant: %w", ErrNotFound)
	}
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}

	query, args, err := sqlx.In(`DELETE FROM persisted_grants WHERE grant_key = ? AND type IN (?) RETURNING `+grantColumns, key, names)
	if err != nil {
		return models.PersistedGrant{}, fmt.Errorf("building take query: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row grantRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), args...); err != nil {
		return models.PersistedGrant{}, fmt.Errorf("taking grant: %w", classify(err))
	}
	return row.model(), nil
}

// DeleteGrant removes a grant. Deleting a missing grant is not an error.
func (s *SQLStore) DeleteGrant(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM persisted_grants WHERE grant_key = ?`, key); err != nil {
		return fmt.Errorf("deleting grant: %w", classify(err))
	}
	return nil
}

// DeleteExpired removes one batch of grants expiring at or before now,
// oldest first.
func (s *SQLStore) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM persisted_grants WHERE grant_key IN (
			SELECT grant_key FROM persisted_grants
			WHERE expiration <= ?
			ORDER BY expiration
			LIMIT ?
		)`, toMillis(now), limit)
	if err != nil {
		return 0, fmt.Errorf("deleting expired grants: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting expired grants: %w", classify(err))
	}
	return n, nil
}

// ListGrants returns the grants matching filter ordered by creation time.
// Expired records are included; callers decide what "live" means.
func (s *SQLStore) ListGrants(ctx context.Context, filter models.GrantFilter) ([]models.PersistedGrant, error) {
	where, args := grantFilterClause(filter)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []grantRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+grantColumns+` FROM persisted_grants WHERE `+where+` ORDER BY creation_time, grant_key`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", classify(err))
	}
	grants := make([]models.PersistedGrant, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, row.model())
	}
	return grants, nil
}

// DeleteGrants removes every grant matching filter
func (s *SQLStore) DeleteGrants(ctx context.Context, filter models.GrantFilter) (int64, error) {
	where, args := grantFilterClause(filter)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM persisted_grants WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting grants: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting grants: %w", classify(err))
	}
	return n, nil
}

func grantFilterClause(filter models.GrantFilter) (string, []interface{}) {
	conds := []string{"subject_id = ?"}
	args := []interface{}{filter.SubjectID}
	if filter.ClientID != "" {
		conds = append(conds, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	return strings.Join(conds, " AND "), args
}
