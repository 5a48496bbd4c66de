// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/relay/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates an event with the same id is already stored.
	ErrDuplicate = errors.New("duplicate")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRestricted indicates the relay only accepts events from its owner.
	ErrRestricted = errors.New("restricted")

	// ErrRateLimited indicates the per-session message budget is exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidEvent indicates a structurally or cryptographically invalid
	// event. The text doubles as the OK-message machine-readable prefix.
	ErrInvalidEvent = errors.New("invalid")

	// ErrPow indicates insufficient proof of work on the event id.
	ErrPow = errors.New("pow")

	// ErrExpired indicates an event whose expiration tag is already in the past.
	ErrExpired = errors.New("expired")

	// ErrTooManySubscriptions indicates the per-session subscription cap was hit.
	ErrTooManySubscriptions = errors.New("too many subscriptions")

	// ErrSubscriptionIDTooLong indicates a subscription id over the length cap.
	ErrSubscriptionIDTooLong = errors.New("subscription id too long")
)
