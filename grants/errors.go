package grants

import (
	"errors"

	"auth-server/registry"
	"auth-server/store"
)

var (
	// ErrGrantNotFound is returned when no grant exists for the key, including
	// one-shot grants that were already consumed
	ErrGrantNotFound = errors.New("grant not found")

	// ErrGrantExpired is returned when the grant exists but its expiration is
	// at or before now
	ErrGrantExpired = errors.New("grant expired")

	// ErrGrantTypeMismatch is returned when a reusable grant is consumed or a
	// one-shot grant is validated
	ErrGrantTypeMismatch = errors.New("grant type does not support this operation")

	// ErrInvalidGrant is returned for malformed issue or filter requests
	ErrInvalidGrant = errors.New("invalid grant request")

	// ErrClientNotFound is returned when issuing for an unknown or disabled client
	ErrClientNotFound = registry.ErrClientNotFound

	// ErrStoreUnavailable is the transient store failure; callers may retry
	ErrStoreUnavailable = store.ErrUnavailable
)
