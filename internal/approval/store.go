package approval

import (
	"context"
	"time"
)

// RequestStore persists approval requests. Every mutation is a conditional
// update: implementations must evaluate the stated precondition atomically
// against the live row and return ErrConditionFailed when it does not hold.
type RequestStore interface {
	// Insert stores a new request. Returns ErrDuplicateKey if the RequestID
	// already exists.
	Insert(ctx context.Context, req Request) error

	// Get returns the request or ErrNotFound.
	Get(ctx context.Context, requestID string) (Request, error)

	// Decide sets Status to the given decision, guarded by Status = Pending.
	Decide(ctx context.Context, requestID string, decision Status) error

	// ClaimCompletion moves CompletionStatus from Unset to Completed and stamps
	// CompletionTimestamp, guarded by CompletionStatus = Unset. This is the
	// executor's idempotency gate.
	ClaimCompletion(ctx context.Context, requestID string, at time.Time) error

	// RecordResult writes the action result onto a request whose completion was
	// already claimed by this consumer.
	RecordResult(ctx context.Context, requestID string, result string) error
}

// CredentialStore persists single-use decision credentials keyed by
// (RequestID, Token). Conditional semantics as for RequestStore.
type CredentialStore interface {
	// Insert stores a new credential. Returns ErrDuplicateKey on a token
	// collision within the request.
	Insert(ctx context.Context, cred Credential) error

	// Get returns the credential or ErrTokenNotFound.
	Get(ctx context.Context, requestID, token string) (Credential, error)

	// MarkUsed sets Status to the decision and TokenStatus to Used, guarded by
	// (Status = Pending AND TokenStatus = Active AND ExpirationTime > now)
	// evaluated against the live row.
	MarkUsed(ctx context.Context, requestID, token string, decision Status, now time.Time) error

	// Revoke sets TokenStatus to Revoked, guarded by TokenStatus = Active.
	Revoke(ctx context.Context, requestID, token string) error

	// ListActive returns all credentials for the request with
	// TokenStatus = Active.
	ListActive(ctx context.Context, requestID string) ([]Credential, error)
}
