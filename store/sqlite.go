package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"auth-server/models"

	"github.com/jmoiron/sqlx"
)

// DefaultTimeout bounds every statement issued by SQLStore
const DefaultTimeout = 5 * time.Second

// SQLStore implements EntityStore and GrantStore on SQLite through sqlx
type SQLStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Option configures a SQLStore
type Option func(*SQLStore)

// WithTimeout sets the per-statement deadline
func WithTimeout(d time.Duration) Option {
	return func(s *SQLStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSQLStore creates a store over an open, migrated connection
func NewSQLStore(db *sqlx.DB, opts ...Option) *SQLStore {
	s := &SQLStore{db: db, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ EntityStore = (*SQLStore)(nil)
	_ GrantStore  = (*SQLStore)(nil)
)

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// jsonList stores a string list as a JSON array in a TEXT column
type jsonList []string

func (l jsonList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *jsonList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = jsonList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("jsonList: unsupported source type %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("jsonList: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*l = out
	return nil
}

func rollback(tx *sqlx.Tx) {
	_ = tx.Rollback()
}

func (s *SQLStore) count(ctx context.Context, table string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, classify(err))
	}
	return n, nil
}

// insertAll writes rows with one named statement inside a single transaction.
// Either every row lands or none does.
func (s *SQLStore) insertAll(ctx context.Context, table, query string, rows []interface{}) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning %s transaction: %w", table, classify(err))
	}
	defer rollback(tx)

	for _, row := range rows {
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("inserting into %s: %w", table, classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", table, classify(err))
	}
	return nil
}

// ---------------
// Clients
// ---------------

const clientColumns = `client_id, client_name, description, enabled, secret_hash,
	require_client_secret, allowed_grant_types, allowed_scopes, redirect_uris,
	post_logout_redirect_uris, require_consent, require_pkce, allow_offline_access,
	access_token_lifetime, identity_token_lifetime, authorization_code_lifetime,
	absolute_refresh_token_lifetime, created`

const insertClientSQL = `INSERT INTO clients (` + clientColumns + `) VALUES (
	:client_id, :client_name, :description, :enabled, :secret_hash,
	:require_client_secret, :allowed_grant_types, :allowed_scopes, :redirect_uris,
	:post_logout_redirect_uris, :require_consent, :require_pkce, :allow_offline_access,
	:access_token_lifetime, :identity_token_lifetime, :authorization_code_lifetime,
	:absolute_refresh_token_lifetime, :created)`

type clientRow struct {
	ClientID                     string   `db:"client_id"`
	ClientName                   string   `db:"client_name"`
	Description                  string   `db:"description"`
	Enabled                      bool     `db:"enabled"`
	SecretHash                   string   `db:"secret_hash"`
	RequireClientSecret          bool     `db:"require_client_secret"`
	AllowedGrantTypes            jsonList `db:"allowed_grant_types"`
	AllowedScopes                jsonList `db:"allowed_scopes"`
	RedirectURIs                 jsonList `db:"redirect_uris"`
	PostLogoutRedirectURIs       jsonList `db:"post_logout_redirect_uris"`
	RequireConsent               bool     `db:"require_consent"`
	RequirePKCE                  bool     `db:"require_pkce"`
	AllowOfflineAccess           bool     `db:"allow_offline_access"`
	AccessTokenLifetime          int      `db:"access_token_lifetime"`
	IdentityTokenLifetime        int      `db:"identity_token_lifetime"`
	AuthorizationCodeLifetime    int      `db:"authorization_code_lifetime"`
	AbsoluteRefreshTokenLifetime int      `db:"absolute_refresh_token_lifetime"`
	Created                      int64    `db:"created"`
}

func newClientRow(c models.Client) clientRow {
	grantTypes := make(jsonList, 0, len(c.AllowedGrantTypes))
	for _, gt := range c.AllowedGrantTypes {
		grantTypes = append(grantTypes, string(gt))
	}
	return clientRow{
		ClientID:                     c.ClientID,
		ClientName:                   c.ClientName,
		Description:                  c.Description,
		Enabled:                      c.Enabled,
		SecretHash:                   c.SecretHash,
		RequireClientSecret:          c.RequireClientSecret,
		AllowedGrantTypes:            grantTypes,
		AllowedScopes:                jsonList(c.AllowedScopes),
		RedirectURIs:                 jsonList(c.RedirectURIs),
		PostLogoutRedirectURIs:       jsonList(c.PostLogoutRedirectURIs),
		RequireConsent:               c.RequireConsent,
		RequirePKCE:                  c.RequirePKCE,
		AllowOfflineAccess:           c.AllowOfflineAccess,
		AccessTokenLifetime:          c.AccessTokenLifetime,
		IdentityTokenLifetime:        c.IdentityTokenLifetime,
		AuthorizationCodeLifetime:    c.AuthorizationCodeLifetime,
		AbsoluteRefreshTokenLifetime: c.AbsoluteRefreshTokenLifetime,
		Created:                      toMillis(c.Created),
	}
}

func (r clientRow) model() models.Client {
	grantTypes := make([]models.GrantType, 0, len(r.AllowedGrantTypes))
	for _, gt := range r.AllowedGrantTypes {
		grantTypes = append(grantTypes, models.GrantType(gt))
	}
	return models.Client{
		ClientID:                     r.ClientID,
		ClientName:                   r.ClientName,
		Description:                  r.Description,
		Enabled:                      r.Enabled,
		SecretHash:                   r.SecretHash,
		RequireClientSecret:          r.RequireClientSecret,
		AllowedGrantTypes:            grantTypes,
		AllowedScopes:                []string(r.AllowedScopes),
		RedirectURIs:                 []string(r.RedirectURIs),
		PostLogoutRedirectURIs:       []string(r.PostLogoutRedirectURIs),
		RequireConsent:               r.RequireConsent,
		RequirePKCE:                  r.RequirePKCE,
		AllowOfflineAccess:           r.AllowOfflineAccess,
		AccessTokenLifetime:          r.AccessTokenLifetime,
		IdentityTokenLifetime:        r.IdentityTokenLifetime,
		AuthorizationCodeLifetime:    r.AuthorizationCodeLifetime,
		AbsoluteRefreshTokenLifetime: r.AbsoluteRefreshTokenLifetime,
		Created:                      fromMillis(r.Created),
	}
}

// CountClients returns the number of stored clients
func (s *SQLStore) CountClients(ctx context.Context) (int, error) {
	return s.count(ctx, "clients")
}

// InsertClients inserts all clients in one transaction
func (s *SQLStore) InsertClients(ctx context.Context, clients []models.Client) error {
	rows := make([]interface{}, 0, len(clients))
	for _, c := range clients {
		rows = append(rows, newClientRow(c))
	}
	return s.insertAll(ctx, "clients", insertClientSQL, rows)
}

// GetClient fetches a client by id
func (s *SQLStore) GetClient(ctx context.Context, clientID string) (models.Client, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row clientRow
	err := s.db.GetContext(ctx, &row, `SELECT `+clientColumns+` FROM clients WHERE client_id = ?`, clientID)
	if err != nil {
		return models.Client{}, fmt.Errorf("getting client %q: %w", clientID, classify(err))
	}
	return row.model(), nil
}

// ListClients returns every client ordered by id
func (s *SQLStore) ListClients(ctx context.Context) ([]models.Client, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []clientRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+clientColumns+` FROM clients ORDER BY client_id`); err != nil {
		return nil, fmt.Errorf("listing clients: %w", classify(err))
	}
	clients := make([]models.Client, 0, len(rows))
	for _, row := range rows {
		clients = append(clients, row.model())
	}
	return clients, nil
}

// ---------------
// Identity resources
// ---------------

const identityResourceColumns = `name, display_name, description, enabled, required,
	emphasize, show_in_discovery_document, user_claims, created`

const insertIdentityResourceSQL = `INSERT INTO identity_resources (` + identityResourceColumns + `) VALUES (
	:name, :display_name, :description, :enabled, :required,
	:emphasize, :show_in_discovery_document, :user_claims, :created)`

type identityResourceRow struct {
	Name                    string   `db:"name"`
	DisplayName             string   `db:"display_name"`
	Description             string   `db:"description"`
	Enabled                 bool     `db:"enabled"`
	Required                bool     `db:"required"`
	Emphasize               bool     `db:"emphasize"`
	ShowInDiscoveryDocument bool     `db:"show_in_discovery_document"`
	UserClaims              jsonList `db:"user_claims"`
	Created                 int64    `db:"created"`
}

// CountIdentityResources returns the number of stored identity resources
func (s *SQLStore) CountIdentityResources(ctx context.Context) (int, error) {
	return s.count(ctx, "identity_resources")
}

// InsertIdentityResources inserts all identity resources in one transaction
func (s *SQLStore) InsertIdentityResources(ctx context.Context, resources []models.IdentityResource) error {
	rows := make([]interface{}, 0, len(resources))
	for _, r := range resources {
		rows = append(rows, identityResourceRow{
			Name:                    r.Name,
			DisplayName:             r.DisplayName,
			Description:             r.Description,
			Enabled:                 r.Enabled,
			Required:                r.Required,
			Emphasize:               r.Emphasize,
			ShowInDiscoveryDocument: r.ShowInDiscoveryDocument,
			UserClaims:              jsonList(r.UserClaims),
			Created:                 toMillis(r.Created),
		})
	}
	return s.insertAll(ctx, "identity_resources", insertIdentityResourceSQL, rows)
}

// GetIdentityResource fetches an identity resource by name
func (s *SQLStore) GetIdentityResource(ctx context.Context, name string) (models.IdentityResource, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row identityResourceRow
	err := s.db.GetContext(ctx, &row, `SELECT `+identityResourceColumns+` FROM identity_resources WHERE name = ?`, name)
	if err != nil {
		return models.IdentityResource{}, fmt.Errorf("getting identity resource %q: %w", name, classify(err))
	}
	return models.IdentityResource{
		Name:                    row.Name,
		DisplayName:             row.DisplayName,
		Description:             row.Description,
		Enabled:                 row.Enabled,
		Required:                row.Required,
		Emphasize:               row.Emphasize,
		ShowInDiscoveryDocument: row.ShowInDiscoveryDocument,
		UserClaims:              []string(row.UserClaims),
		Created:                 fromMillis(row.Created),
	}, nil
}

// ---------------
// API resources
// ---------------

const apiResourceColumns = `name, display_name, description, enabled, user_claims, scopes, created`

const insertApiResourceSQL = `INSERT INTO api_resources (` + apiResourceColumns + `) VALUES (
	:name, :display_name, :description, :enabled, :user_claims, :scopes, :created)`

type apiResourceRow struct {
	Name        string   `db:"name"`
	DisplayName string   `db:"display_name"`
	Description string   `db:"description"`
	Enabled     bool     `db:"enabled"`
	UserClaims  jsonList `db:"user_claims"`
	Scopes      jsonList `db:"scopes"`
	Created     int64    `db:"created"`
}

// CountApiResources returns the number of stored api resources
func (s *SQLStore) CountApiResources(ctx context.Context) (int, error) {
	return s.count(ctx, "api_resources")
}

// InsertApiResources inserts all api resources in one transaction
func (s *SQLStore) InsertApiResources(ctx context.Context, resources []models.ApiResource) error {
	rows := make([]interface{}, 0, len(resources))
	for _, r := range resources {
		rows = append(rows, apiResourceRow{
			Name:        r.Name,
			DisplayName: r.DisplayName,
			Description: r.Description,
			Enabled:     r.Enabled,
			UserClaims:  jsonList(r.UserClaims),
			Scopes:      jsonList(r.Scopes),
			Created:     toMillis(r.Created),
		})
	}
	return s.insertAll(ctx, "api_resources", insertApiResourceSQL, rows)
}

// GetApiResource fetches an api resource by name
func (s *SQLStore) GetApiResource(ctx context.Context, name string) (models.ApiResource, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row apiResourceRow
	err := s.db.GetContext(ctx, &row, `SELECT `+apiResourceColumns+` FROM api_resources WHERE name = ?`, name)
	if err != nil {
		return models.ApiResource{}, fmt.Errorf("getting api resource %q: %w", name, classify(err))
	}
	return models.ApiResource{
		Name:        row.Name,
		DisplayName: row.DisplayName,
		Description: row.Description,
		Enabled:     row.Enabled,
		UserClaims:  []string(row.UserClaims),
		Scopes:      []string(row.Scopes),
		Created:     fromMillis(row.Created),
	}, nil
}

