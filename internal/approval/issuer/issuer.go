// Package issuer creates approval requests and fans out one single-use
// decision credential per approver.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"approvalgate/internal/approval"
	"approvalgate/internal/approval/metrics"
	"approvalgate/internal/notify"
	"approvalgate/pkg/email"
)

// tokenRetries bounds regeneration attempts on a (RequestID, Token) collision.
const tokenRetries = 3

// CreateInput is the caller-supplied part of a new approval request.
type CreateInput struct {
	RequestID        string
	IncidentID       string
	Description      string
	Action           string
	ActionParameters map[string]string
	ApproverEmails   []string
}

// Service issues requests and credentials. Per-approver provisioning is
// best-effort: a failure on one approver does not roll back the others, and
// re-submitting the same RequestID fills in only the missing credentials.
type Service struct {
	requests    approval.RequestStore
	credentials approval.CredentialStore
	notifier    notify.Notifier
	logger      *slog.Logger
	metrics     *metrics.Metrics

	retention time.Duration
	tokenTTL  time.Duration

	now func() time.Time
}

func New(requests approval.RequestStore, credentials approval.CredentialStore, notifier notify.Notifier, logger *slog.Logger, m *metrics.Metrics, retention, tokenTTL time.Duration) *Service {
	return &Service{
		requests:    requests,
		credentials: credentials,
		notifier:    notifier,
		logger:      logger,
		metrics:     m,
		retention:   retention,
		tokenTTL:    tokenTTL,
		now:         time.Now,
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Create validates the input, inserts the request with Status = Pending, and
// issues one credential per approver. Returns the stored request.
func (s *Service) Create(ctx context.Context, in CreateInput) (approval.Request, error) {
	if err := validate(in); err != nil {
		return approval.Request{}, err
	}

	now := s.now().UTC()
	req := approval.Request{
		RequestID:        in.RequestID,
		IncidentID:       in.IncidentID,
		Description:      in.Description,
		Action:           in.Action,
		ActionParameters: in.ActionParameters,
		ApproverEmails:   in.ApproverEmails,
		CreatedAt:        now,
		ExpiryTime:       now.Add(s.retention),
		Status:           approval.StatusPending,
		CompletionStatus: approval.CompletionUnset,
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	err := s.requests.Insert(ctx, req)
	switch {
	case errors.Is(err, approval.ErrDuplicateKey):
		// Retry of a partially provisioned request: keep the stored record and
		// fill in the missing credentials below.
		stored, getErr := s.requests.Get(ctx, req.RequestID)
		if getErr != nil {
			return approval.Request{}, fmt.Errorf("load existing request: %w", getErr)
		}
		if stored.Status != approval.StatusPending {
			return approval.Request{}, approval.ErrAlreadyProcessed
		}
		req = stored
	case err != nil:
		return approval.Request{}, fmt.Errorf("insert request: %w", err)
	default:
		s.metrics.AddRequestCreated(len(req.ApproverEmails))
	}

	issued := 0
	for _, approver := range req.ApproverEmails {
		ok, err := s.issueCredential(ctx, req, approver)
		if err != nil {
			// Best-effort fan-out: later approvers still get their credential,
			// and a retry of the same RequestID re-attempts this one.
			s.logger.ErrorContext(ctx, "credential issuance failed",
				"request_id", req.RequestID,
				"approver", approver,
				"error", err,
			)
			continue
		}
		if ok {
			issued++
		}
	}

	s.logger.InfoContext(ctx, "approval request created",
		"request_id", req.RequestID,
		"incident_id", req.IncidentID,
		"action", req.Action,
		"approvers", len(req.ApproverEmails),
		"credentials_issued", issued,
	)
	return req, nil
}

// issueCredential inserts a credential for one approver unless they already
// hold an active one, then notifies them. Returns whether a new credential was
// created.
func (s *Service) issueCredential(ctx context.Context, req approval.Request, approver string) (bool, error) {
	active, err := s.credentials.ListActive(ctx, req.RequestID)
	if err != nil {
		return false, fmt.Errorf("list active credentials: %w", err)
	}
	for _, cred := range active {
		if cred.ApproverEmail == approver {
			return false, nil
		}
	}

	cred := approval.Credential{
		RequestID:      req.RequestID,
		ApproverEmail:  approver,
		ExpirationTime: s.now().UTC().Add(s.tokenTTL),
		Status:         approval.StatusPending,
		TokenStatus:    approval.TokenActive,
	}
	for attempt := 0; ; attempt++ {
		cred.Token, err = approval.NewToken()
		if err != nil {
			return false, err
		}
		err = s.credentials.Insert(ctx, cred)
		if err == nil {
			break
		}
		if errors.Is(err, approval.ErrDuplicateKey) && attempt < tokenRetries {
			continue
		}
		return false, fmt.Errorf("insert credential: %w", err)
	}

	if err := s.notifier.DecisionRequested(ctx, approver, req, cred.Token); err != nil {
		// Notification is a side effect outside the correctness contract.
		s.logger.WarnContext(ctx, "approver notification failed",
			"request_id", req.RequestID,
			"approver", approver,
			"error", err,
		)
	}
	return true, nil
}

func validate(in CreateInput) error {
	if in.IncidentID == "" {
		return fmt.Errorf("%w: incident id is required", approval.ErrValidation)
	}
	if in.Action == "" {
		return fmt.Errorf("%w: action is required", approval.ErrValidation)
	}
	if len(in.ApproverEmails) == 0 {
		return fmt.Errorf("%w: at least one approver is required", approval.ErrValidation)
	}
	for _, addr := range in.ApproverEmails {
		if !email.Valid(addr) {
			return fmt.Errorf("%w: invalid approver email %q", approval.ErrValidation, addr)
		}
	}
	return nil
}
