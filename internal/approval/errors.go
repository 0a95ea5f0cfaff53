package approval

import "errors"

// Sentinel errors for decision outcomes. Stores and services return these
// (optionally wrapped) so the transport layer can translate them into HTTP
// statuses without inspecting strings.
//
// The race-or-replay family (ErrAlreadyProcessed, ErrTokenUsed, ErrTokenRevoked,
// ErrTokenExpired, ErrTokenAlreadyProcessed, ErrTokenRaceLost) are not server
// errors: the link is simply no longer valid.
var (
	// ErrValidation covers missing or malformed request/token/action input.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound: no request with the given RequestID.
	ErrNotFound = errors.New("request not found")

	// ErrAlreadyProcessed: the request left Pending before this decision landed.
	ErrAlreadyProcessed = errors.New("request already processed")

	// ErrTokenNotFound: no credential with the given (RequestID, Token).
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenUsed: the credential already carried a winning decision.
	ErrTokenUsed = errors.New("token already used")

	// ErrTokenRevoked: a sibling credential won and this one was revoked.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrTokenExpired: the credential's ExpirationTime has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenAlreadyProcessed: the credential's decision status left Pending.
	ErrTokenAlreadyProcessed = errors.New("token already processed")

	// ErrTokenRaceLost: the credential's conditional update failed against the
	// live row after the request update had already committed. The request state
	// stands; only this caller's credential lost the race.
	ErrTokenRaceLost = errors.New("token race lost")

	// ErrConditionFailed is returned by stores when a conditional update's
	// precondition does not hold against the live row. Services translate it
	// into the outcome-specific sentinel for their step.
	ErrConditionFailed = errors.New("precondition failed")

	// ErrDuplicateKey is returned by stores on insert when the key already
	// exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrDispatchFailed: the decision committed but the event could not be
	// enqueued within the retry budget. Recoverable by operator re-drive.
	ErrDispatchFailed = errors.New("decision dispatch failed")
)
