package models

import (
	"fmt"
	"net/url"
	"time"
)

// GrantType is an OAuth grant a client is allowed to use
type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypeRefreshToken      GrantType = "refresh_token"
	GrantTypeImplicit          GrantType = "implicit"
	GrantTypeHybrid            GrantType = "hybrid"
	GrantTypePassword          GrantType = "password"
)

// AllowedGrantTypes is the set of grant types a client may be registered with
var AllowedGrantTypes = map[GrantType]bool{
	GrantTypeAuthorizationCode: true,
	GrantTypeClientCredentials: true,
	GrantTypeRefreshToken:      true,
	GrantTypeImplicit:          true,
	GrantTypeHybrid:            true,
	GrantTypePassword:          true,
}

// Default client lifetimes, in seconds
const (
	DefaultAccessTokenLifetime          = 3600
	DefaultIdentityTokenLifetime        = 300
	DefaultAuthorizationCodeLifetime    = 300
	DefaultAbsoluteRefreshTokenLifetime = 2592000
)

// Client represents a registered application permitted to request tokens.
// Clients are seeded once and are read-only afterwards.
type Client struct {
	ClientID                     string      `json:"client_id"`
	ClientName                   string      `json:"client_name"`
	Description                  string      `json:"description,omitempty"`
	Enabled                      bool        `json:"enabled"`
	SecretHash                   string      `json:"-"` // bcrypt or sha256:<hex>; never returned
	RequireClientSecret          bool        `json:"require_client_secret"`
	AllowedGrantTypes            []GrantType `json:"allowed_grant_types"`
	AllowedScopes                []string    `json:"allowed_scopes"`
	RedirectURIs                 []string    `json:"redirect_uris"`
	PostLogoutRedirectURIs       []string    `json:"post_logout_redirect_uris,omitempty"`
	RequireConsent               bool        `json:"require_consent"`
	RequirePKCE                  bool        `json:"require_pkce"`
	AllowOfflineAccess           bool        `json:"allow_offline_access"`
	AccessTokenLifetime          int         `json:"access_token_lifetime"`
	IdentityTokenLifetime        int         `json:"identity_token_lifetime"`
	AuthorizationCodeLifetime    int         `json:"authorization_code_lifetime"`
	AbsoluteRefreshTokenLifetime int         `json:"absolute_refresh_token_lifetime"`
	Created                      time.Time   `json:"created"`
}

// HasGrantType reports whether the client is allowed to use gt
func (c Client) HasGrantType(gt GrantType) bool {
	for _, allowed := range c.AllowedGrantTypes {
		if allowed == gt {
			return true
		}
	}
	return false
}

// HasScope reports whether the client may request scope
func (c Client) HasScope(scope string) bool {
	for _, allowed := range c.AllowedScopes {
		if allowed == scope {
			return true
		}
	}
	return false
}

// Validate checks the client invariants: identifier present, at least one
// known grant type, no conflicting grant types, absolute redirect URIs and
// positive lifetimes.
func (c Client) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if err := validateGrantTypes(c.AllowedGrantTypes); err != nil {
		return fmt.Errorf("client %q: %w", c.ClientID, err)
	}
	if err := validateRedirectURIs(c.RedirectURIs); err != nil {
		return fmt.Errorf("client %q: %w", c.ClientID, err)
	}
	if err := validateRedirectURIs(c.PostLogoutRedirectURIs); err != nil {
		return fmt.Errorf("client %q: post logout: %w", c.ClientID, err)
	}
	if c.RequireClientSecret && c.SecretHash == "" {
		return fmt.Errorf("client %q requires a secret but has no secret hash", c.ClientID)
	}
	if c.HasGrantType(GrantTypeClientCredentials) && !c.RequireClientSecret {
		return fmt.Errorf("client %q: client_credentials requires a client secret", c.ClientID)
	}
	lifetimes := map[string]int{
		"access_token_lifetime":           c.AccessTokenLifetime,
		"identity_token_lifetime":         c.IdentityTokenLifetime,
		"authorization_code_lifetime":     c.AuthorizationCodeLifetime,
		"absolute_refresh_token_lifetime": c.AbsoluteRefreshTokenLifetime,
	}
	for name, seconds := range lifetimes {
		if seconds <= 0 {
			return fmt.Errorf("client %q: %s must be positive", c.ClientID, name)
		}
	}
	return nil
}

// validateGrantTypes rejects empty, unknown, duplicate and conflicting grant types
func validateGrantTypes(grantTypes []GrantType) error {
	if len(grantTypes) == 0 {
		return fmt.Errorf("at least one grant type is required")
	}
	seen := make(map[GrantType]bool, len(grantTypes))
	for _, gt := range grantTypes {
		if !AllowedGrantTypes[gt] {
			return fmt.Errorf("invalid grant_type %q; allowed: authorization_code, client_credentials, refresh_token, implicit, hybrid, password", gt)
		}
		if seen[gt] {
			return fmt.Errorf("duplicate grant_type %q", gt)
		}
		seen[gt] = true
	}

	// Interactive flows are mutually exclusive.
	switch {
	case seen[GrantTypeImplicit] && seen[GrantTypeAuthorizationCode]:
		return fmt.Errorf("grant types implicit and authorization_code cannot be combined")
	case seen[GrantTypeImplicit] && seen[GrantTypeHybrid]:
		return fmt.Errorf("grant types implicit and hybrid cannot be combined")
	case seen[GrantTypeAuthorizationCode] && seen[GrantTypeHybrid]:
		return fmt.Errorf("grant types authorization_code and hybrid cannot be combined")
	}
	return nil
}

// validateRedirectURIs validates that all redirect URIs are valid absolute URLs
func validateRedirectURIs(uris []string) error {
	for _, uri := range uris {
		u, err := url.Parse(uri)
		if err != nil {
			return fmt.Errorf("invalid redirect_uri %q: %v", uri, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("redirect_uri %q must be an absolute URL with scheme and host", uri)
		}
		if u.Fragment != "" {
			return fmt.Errorf("redirect_uri %q must not contain a fragment", uri)
		}
	}
	return nil
}
