package models

import "time"

// PersistedGrantType identifies what a persisted grant record backs
type PersistedGrantType string

const (
	AuthorizationCodeGrant PersistedGrantType = "authorization_code"
	RefreshTokenGrant      PersistedGrantType = "refresh_token"
	ReferenceTokenGrant    PersistedGrantType = "reference_token"
	UserConsentGrant       PersistedGrantType = "user_consent"
)

// Valid reports whether t is a known grant record type
func (t PersistedGrantType) Valid() bool {
	switch t {
	case AuthorizationCodeGrant, RefreshTokenGrant, ReferenceTokenGrant, UserConsentGrant:
		return true
	}
	return false
}

// OneShot reports whether grants of this type are consumed on first use.
// Everything else is reusable until revoked or expired.
func (t PersistedGrantType) OneShot() bool {
	return t == AuthorizationCodeGrant
}

// OneShotGrantTypes lists the types that may only be consumed
func OneShotGrantTypes() []PersistedGrantType {
	return []PersistedGrantType{AuthorizationCodeGrant}
}

// PersistedGrant is the server-side record backing an issued authorization
// code, refresh token, reference token or consent decision.
// Key is the hash of the handle given to the caller, never the handle itself.
type PersistedGrant struct {
	Key          string             `json:"-"`
	Type         PersistedGrantType `json:"type"`
	SubjectID    string             `json:"subject_id"`
	ClientID     string             `json:"client_id"`
	CreationTime time.Time          `json:"creation_time"`
	Expiration   time.Time          `json:"expiration"`
	Data         []byte             `json:"data"`
}

// ExpiredAt reports whether the grant is unusable at now. A grant expiring
// exactly at now is already expired.
func (g PersistedGrant) ExpiredAt(now time.Time) bool {
	return !now.Before(g.Expiration)
}

// GrantFilter selects grants belonging to a subject, optionally narrowed by
// client and type.
type GrantFilter struct {
	SubjectID string             `json:"subject_id"`
	ClientID  string             `json:"client_id,omitempty"`
	Type      PersistedGrantType `json:"type,omitempty"`
}

