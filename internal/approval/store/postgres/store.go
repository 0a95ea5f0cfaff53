// Package postgres implements the approval stores on database/sql. Every
// precondition is compiled into the UPDATE's WHERE clause and checked through
// RowsAffected, so each mutation is a single atomic test-and-set.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"approvalgate/internal/approval"
)

// RequestStore implements approval.RequestStore on Postgres.
type RequestStore struct {
	db *sql.DB
}

func NewRequestStore(db *sql.DB) *RequestStore {
	return &RequestStore{db: db}
}

func (s *RequestStore) Insert(ctx context.Context, req approval.Request) error {
	params, err := json.Marshal(req.ActionParameters)
	if err != nil {
		return fmt.Errorf("marshal action parameters: %w", err)
	}

	query := `
		INSERT INTO approval_requests (
			request_id, incident_id, description, action, action_parameters,
			approver_emails, created_at, expiry_time, status, completion_status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		req.RequestID,
		req.IncidentID,
		req.Description,
		req.Action,
		params,
		pq.Array(req.ApproverEmails),
		req.CreatedAt,
		req.ExpiryTime,
		string(req.Status),
		string(req.CompletionStatus),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return approval.ErrDuplicateKey
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *RequestStore) Get(ctx context.Context, requestID string) (approval.Request, error) {
	query := `
		SELECT request_id, incident_id, description, action, action_parameters,
		       approver_emails, created_at, expiry_time, status,
		       completion_status, action_result, completion_timestamp
		FROM approval_requests
		WHERE request_id = $1
	`
	var (
		req       approval.Request
		params    []byte
		status    string
		compl     string
		result    sql.NullString
		completed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, requestID).Scan(
		&req.RequestID,
		&req.IncidentID,
		&req.Description,
		&req.Action,
		&params,
		pq.Array(&req.ApproverEmails),
		&req.CreatedAt,
		&req.ExpiryTime,
		&status,
		&compl,
		&result,
		&completed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return approval.Request{}, approval.ErrNotFound
	}
	if err != nil {
		return approval.Request{}, fmt.Errorf("query request: %w", err)
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req.ActionParameters); err != nil {
			return approval.Request{}, fmt.Errorf("unmarshal action parameters: %w", err)
		}
	}
	req.Status = approval.Status(status)
	req.CompletionStatus = approval.CompletionStatus(compl)
	if result.Valid {
		req.ActionResult = result.String
	}
	if completed.Valid {
		t := completed.Time
		req.CompletionTimestamp = &t
	}
	return req, nil
}

func (s *RequestStore) Decide(ctx context.Context, requestID string, decision approval.Status) error {
	query := `
		UPDATE approval_requests
		SET status = $2
		WHERE request_id = $1 AND status = $3
	`
	return s.conditional(ctx, query, requestID, string(decision), string(approval.StatusPending))
}

func (s *RequestStore) ClaimCompletion(ctx context.Context, requestID string, at time.Time) error {
	query := `
		UPDATE approval_requests
		SET completion_status = $2, completion_timestamp = $3
		WHERE request_id = $1 AND completion_status = $4
	`
	return s.conditional(ctx, query, requestID, string(approval.CompletionCompleted), at, string(approval.CompletionUnset))
}

func (s *RequestStore) RecordResult(ctx context.Context, requestID string, result string) error {
	query := `
		UPDATE approval_requests
		SET action_result = $2
		WHERE request_id = $1
	`
	res, err := s.db.ExecContext(ctx, query, requestID, result)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return approval.ErrNotFound
	}
	return nil
}

// conditional runs an UPDATE whose WHERE clause carries the precondition. Zero
// affected rows means either a missing row or a failed precondition; the two
// are distinguished with a follow-up existence check.
func (s *RequestStore) conditional(ctx context.Context, query string, requestID string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append([]any{requestID}, args...)...)
	if err != nil {
		return fmt.Errorf("conditional update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM approval_requests WHERE request_id = $1)`, requestID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("existence check: %w", err)
		}
		if !exists {
			return approval.ErrNotFound
		}
		return approval.ErrConditionFailed
	}
	return nil
}

// CredentialStore implements approval.CredentialStore on Postgres.
type CredentialStore struct {
	db *sql.DB
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Insert(ctx context.Context, cred approval.Credential) error {
	query := `
		INSERT INTO approval_credentials (
			request_id, token, approver_email, expiration_time, status, token_status
		)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		cred.RequestID,
		cred.Token,
		cred.ApproverEmail,
		cred.ExpirationTime,
		string(cred.Status),
		string(cred.TokenStatus),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return approval.ErrDuplicateKey
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Get(ctx context.Context, requestID, token string) (approval.Credential, error) {
	query := `
		SELECT request_id, token, approver_email, expiration_time, status, token_status
		FROM approval_credentials
		WHERE request_id = $1 AND token = $2
	`
	var (
		cred        approval.Credential
		status      string
		tokenStatus string
	)
	err := s.db.QueryRowContext(ctx, query, requestID, token).Scan(
		&cred.RequestID,
		&cred.Token,
		&cred.ApproverEmail,
		&cred.ExpirationTime,
		&status,
		&tokenStatus,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return approval.Credential{}, approval.ErrTokenNotFound
	}
	if err != nil {
		return approval.Credential{}, fmt.Errorf("query credential: %w", err)
	}
	cred.Status = approval.Status(status)
	cred.TokenStatus = approval.TokenStatus(tokenStatus)
	return cred, nil
}

// MarkUsed evaluates the full precondition against the live row, including the
// expiry comparison, inside the single UPDATE.
func (s *CredentialStore) MarkUsed(ctx context.Context, requestID, token string, decision approval.Status, now time.Time) error {
	query := `
		UPDATE approval_credentials
		SET status = $3, token_status = $4
		WHERE request_id = $1 AND token = $2
		  AND status = $5 AND token_status = $6 AND expiration_time > $7
	`
	res, err := s.db.ExecContext(ctx, query,
		requestID,
		token,
		string(decision),
		string(approval.TokenUsed),
		string(approval.StatusPending),
		string(approval.TokenActive),
		now,
	)
	if err != nil {
		return fmt.Errorf("mark used: %w", err)
	}
	return s.affectedOrFailed(ctx, res, requestID, token)
}

func (s *CredentialStore) Revoke(ctx context.Context, requestID, token string) error {
	query := `
		UPDATE approval_credentials
		SET token_status = $3
		WHERE request_id = $1 AND token = $2 AND token_status = $4
	`
	res, err := s.db.ExecContext(ctx, query,
		requestID,
		token,
		string(approval.TokenRevoked),
		string(approval.TokenActive),
	)
	if err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	return s.affectedOrFailed(ctx, res, requestID, token)
}

func (s *CredentialStore) ListActive(ctx context.Context, requestID string) ([]approval.Credential, error) {
	query := `
		SELECT request_id, token, approver_email, expiration_time, status, token_status
		FROM approval_credentials
		WHERE request_id = $1 AND token_status = $2
	`
	rows, err := s.db.QueryContext(ctx, query, requestID, string(approval.TokenActive))
	if err != nil {
		return nil, fmt.Errorf("query active credentials: %w", err)
	}
	defer rows.Close()

	var creds []approval.Credential
	for rows.Next() {
		var (
			cred        approval.Credential
			status      string
			tokenStatus string
		)
		if err := rows.Scan(
			&cred.RequestID,
			&cred.Token,
			&cred.ApproverEmail,
			&cred.ExpirationTime,
			&status,
			&tokenStatus,
		); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		cred.Status = approval.Status(status)
		cred.TokenStatus = approval.TokenStatus(tokenStatus)
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, nil
}

func (s *CredentialStore) affectedOrFailed(ctx context.Context, res sql.Result, requestID, token string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM approval_credentials WHERE request_id = $1 AND token = $2)`,
			requestID, token,
		).Scan(&exists); err != nil {
			return fmt.Errorf("existence check: %w", err)
		}
		if !exists {
			return approval.ErrTokenNotFound
		}
		return approval.ErrConditionFailed
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
