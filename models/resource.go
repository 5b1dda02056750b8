package models

import (
	"fmt"
	"time"
)

// IdentityResource is a named group of user claims (e.g. openid, profile)
// that can be requested as a scope.
type IdentityResource struct {
	Name                    string    `json:"name"`
	DisplayName             string    `json:"display_name"`
	Description             string    `json:"description,omitempty"`
	Enabled                 bool      `json:"enabled"`
	Required                bool      `json:"required"`
	Emphasize               bool      `json:"emphasize"`
	ShowInDiscoveryDocument bool      `json:"show_in_discovery_document"`
	UserClaims              []string  `json:"user_claims"`
	Created                 time.Time `json:"created"`
}

// Validate checks the identity resource invariants
func (r IdentityResource) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("identity resource name is required")
	}
	if len(r.UserClaims) == 0 {
		return fmt.Errorf("identity resource %q must expose at least one claim", r.Name)
	}
	return nil
}

// ApiResource is an API identifier a token can be scoped to, along with the
// user claims included in access tokens for it.
type ApiResource struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	UserClaims  []string  `json:"user_claims"`
	Scopes      []string  `json:"scopes"`
	Created     time.Time `json:"created"`
}

// Validate checks the api resource invariants
func (r ApiResource) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("api resource name is required")
	}
	if len(r.Scopes) == 0 {
		return fmt.Errorf("api resource %q must define at least one scope", r.Name)
	}
	return nil
}
