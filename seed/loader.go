package seed

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"auth-server/models"

	"gopkg.in/yaml.v3"
)

// ArtifactVersion is the only seed artifact format this binary understands
const ArtifactVersion = 1

//go:embed canonical.yaml
var canonicalArtifact []byte

// ErrInvalidArtifact is returned for seed artifacts that cannot be used
var ErrInvalidArtifact = errors.New("invalid seed artifact")

// Set is the configuration written into an empty store
type Set struct {
	Clients           []models.Client
	IdentityResources []models.IdentityResource
	ApiResources      []models.ApiResource
}

type artifact struct {
	Version           int                          `yaml:"version"`
	Clients           []clientDefinition           `yaml:"clients"`
	IdentityResources []identityResourceDefinition `yaml:"identity_resources"`
	ApiResources      []apiResourceDefinition      `yaml:"api_resources"`
}

// Pointers distinguish "absent" from an explicit false or zero so that
// defaults only fill what the artifact leaves out.
type clientDefinition struct {
	ClientID                     string   `yaml:"client_id"`
	ClientName                   string   `yaml:"client_name"`
	Description                  string   `yaml:"description"`
	Enabled                      *bool    `yaml:"enabled"`
	SecretHash                   string   `yaml:"secret_hash"`
	RequireClientSecret          *bool    `yaml:"require_client_secret"`
	AllowedGrantTypes            []string `yaml:"allowed_grant_types"`
	AllowedScopes                []string `yaml:"allowed_scopes"`
	RedirectURIs                 []string `yaml:"redirect_uris"`
	PostLogoutRedirectURIs       []string `yaml:"post_logout_redirect_uris"`
	RequireConsent               bool     `yaml:"require_consent"`
	RequirePKCE                  bool     `yaml:"require_pkce"`
	AllowOfflineAccess           bool     `yaml:"allow_offline_access"`
	AccessTokenLifetime          *int     `yaml:"access_token_lifetime"`
	IdentityTokenLifetime        *int     `yaml:"identity_token_lifetime"`
	AuthorizationCodeLifetime    *int     `yaml:"authorization_code_lifetime"`
	AbsoluteRefreshTokenLifetime *int     `yaml:"absolute_refresh_token_lifetime"`
}

type identityResourceDefinition struct {
	Name                    string   `yaml:"name"`
	DisplayName             string   `yaml:"display_name"`
	Description             string   `yaml:"description"`
	Enabled                 *bool    `yaml:"enabled"`
	Required                bool     `yaml:"required"`
	Emphasize               bool     `yaml:"emphasize"`
	ShowInDiscoveryDocument *bool    `yaml:"show_in_discovery_document"`
	UserClaims              []string `yaml:"user_claims"`
}

type apiResourceDefinition struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Description string   `yaml:"description"`
	Enabled     *bool    `yaml:"enabled"`
	UserClaims  []string `yaml:"user_claims"`
	Scopes      []string `yaml:"scopes"`
}

// LoadCanonicalConfiguration returns the configuration embedded in the
// binary. It performs no I/O and returns the same set on every call.
func LoadCanonicalConfiguration() (Set, error) {
	return Parse(canonicalArtifact)
}

// LoadFile reads an operator supplied artifact
func LoadFile(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("reading seed artifact %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a seed artifact, applying defaults for
// omitted fields. Unknown fields are rejected.
func Parse(data []byte) (Set, error) {
	var a artifact
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&a); err != nil && !errors.Is(err, io.EOF) {
		return Set{}, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	if a.Version != ArtifactVersion {
		return Set{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidArtifact, a.Version)
	}

	var set Set
	seenClients := make(map[string]bool)
	for _, def := range a.Clients {
		c := def.model()
		if seenClients[c.ClientID] {
			return Set{}, fmt.Errorf("%w: duplicate client %q", ErrInvalidArtifact, c.ClientID)
		}
		seenClients[c.ClientID] = true
		if err := c.Validate(); err != nil {
			return Set{}, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
		}
		set.Clients = append(set.Clients, c)
	}

	seenIdentity := make(map[string]bool)
	for _, def := range a.IdentityResources {
		r := def.model()
		if seenIdentity[r.Name] {
			return Set{}, fmt.Errorf("%w: duplicate identity resource %q", ErrInvalidArtifact, r.Name)
		}
		seenIdentity[r.Name] = true
		if err := r.Validate(); err != nil {
			return Set{}, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
		}
		set.IdentityResources = append(set.IdentityResources, r)
	}

	seenAPI := make(map[string]bool)
	for _, def := range a.ApiResources {
		r := def.model()
		if seenAPI[r.Name] {
			return Set{}, fmt.Errorf("%w: duplicate api resource %q", ErrInvalidArtifact, r.Name)
		}
		seenAPI[r.Name] = true
		if err := r.Validate(); err != nil {
			return Set{}, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
		}
		set.ApiResources = append(set.ApiResources, r)
	}

	return set, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (d clientDefinition) model() models.Client {
	grantTypes := make([]models.GrantType, 0, len(d.AllowedGrantTypes))
	for _, gt := range d.AllowedGrantTypes {
		grantTypes = append(grantTypes, models.GrantType(gt))
	}
	return models.Client{
		ClientID:                     d.ClientID,
		ClientName:                   d.ClientName,
		Description:                  d.Description,
		Enabled:                      boolOr(d.Enabled, true),
		SecretHash:                   d.SecretHash,
		RequireClientSecret:          boolOr(d.RequireClientSecret, true),
		AllowedGrantTypes:            grantTypes,
		AllowedScopes:                orEmpty(d.AllowedScopes),
		RedirectURIs:                 orEmpty(d.RedirectURIs),
		PostLogoutRedirectURIs:       orEmpty(d.PostLogoutRedirectURIs),
		RequireConsent:               d.RequireConsent,
		RequirePKCE:                  d.RequirePKCE,
		AllowOfflineAccess:           d.AllowOfflineAccess,
		AccessTokenLifetime:          intOr(d.AccessTokenLifetime, models.DefaultAccessTokenLifetime),
		IdentityTokenLifetime:        intOr(d.IdentityTokenLifetime, models.DefaultIdentityTokenLifetime),
		AuthorizationCodeLifetime:    intOr(d.AuthorizationCodeLifetime, models.DefaultAuthorizationCodeLifetime),
		AbsoluteRefreshTokenLifetime: intOr(d.AbsoluteRefreshTokenLifetime, models.DefaultAbsoluteRefreshTokenLifetime),
	}
}

func (d identityResourceDefinition) model() models.IdentityResource {
	return models.IdentityResource{
		Name:                    d.Name,
		DisplayName:             d.DisplayName,
		Description:             d.Description,
		Enabled:                 boolOr(d.Enabled, true),
		Required:                d.Required,
		Emphasize:               d.Emphasize,
		ShowInDiscoveryDocument: boolOr(d.ShowInDiscoveryDocument, true),
		UserClaims:              orEmpty(d.UserClaims),
	}
}

func (d apiResourceDefinition) model() models.ApiResource {
	scopes := d.Scopes
	if len(scopes) == 0 && d.Name != "" {
		scopes = []string{d.Name}
	}
	return models.ApiResource{
		Name:        d.Name,
		DisplayName: d.DisplayName,
		Description: d.Description,
		Enabled:     boolOr(d.Enabled, true),
		UserClaims:  orEmpty(d.UserClaims),
		Scopes:      scopes,
	}
}

// stamp sets the creation time on every entity in the set
func (s Set) stamp(now time.Time) Set {
	out := Set{
		Clients:           make([]models.Client, len(s.Clients)),
		IdentityResources: make([]models.IdentityResource, len(s.IdentityResources)),
		ApiResources:      make([]models.ApiResource, len(s.ApiResources)),
	}
	for i, c := range s.Clients {
		c.Created = now
		out.Clients[i] = c
	}
	for i, r := range s.IdentityResources {
		r.Created = now
		out.IdentityResources[i] = r
	}
	for i, r := range s.ApiResources {
		r.Created = now
		out.ApiResources[i] = r
	}
	return out
}
