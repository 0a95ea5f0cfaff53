// Package gateway holds the decision state machine: it validates an inbound
// decision, transitions request and credential state through conditional
// updates only, revokes sibling credentials, and publishes the decision event.
//
// There is no in-process locking anywhere here. Concurrent Decide calls, double
// clicks and replayed links all resolve through the stores' compare-and-swap
// primitive: no two callers can both observe their precondition as satisfied
// for the same row.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"approvalgate/internal/approval"
	"approvalgate/internal/approval/metrics"
	"approvalgate/internal/notify"
	"approvalgate/internal/platform/queue"
)

const (
	publishAttempts = 3
	publishBackoff  = 100 * time.Millisecond
)

// Service is the decision gateway.
type Service struct {
	requests    approval.RequestStore
	credentials approval.CredentialStore
	queue       queue.Queue
	notifier    notify.Notifier
	logger      *slog.Logger
	metrics     *metrics.Metrics

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func New(requests approval.RequestStore, credentials approval.CredentialStore, q queue.Queue, notifier notify.Notifier, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		requests:    requests,
		credentials: credentials,
		queue:       q,
		notifier:    notifier,
		logger:      logger,
		metrics:     m,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Decide applies one approver's decision to a request. Exactly one concurrent
// caller per request can succeed; everyone else gets a distinct race-or-replay
// sentinel with zero additional writes.
func (s *Service) Decide(ctx context.Context, requestID, token string, action approval.Status) error {
	start := s.now()
	err := s.decide(ctx, requestID, token, action)
	s.metrics.ObserveDecideLatency(s.now().Sub(start))
	s.metrics.IncrementOutcome(outcomeLabel(err, action))
	return err
}

func (s *Service) decide(ctx context.Context, requestID, token string, action approval.Status) error {
	if requestID == "" || token == "" {
		return fmt.Errorf("%w: request id and token are required", approval.ErrValidation)
	}

	// Step 1: the request must exist and still be Pending. This read is only a
	// fast-fail; the authoritative check is the conditional update below.
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			return approval.ErrNotFound
		}
		return fmt.Errorf("get request: %w", err)
	}
	if req.Status != approval.StatusPending {
		return approval.ErrAlreadyProcessed
	}

	// Step 2: the credential must be live. Distinguish every rejection kind so
	// the caller can tell expired from used from revoked.
	cred, err := s.credentials.Get(ctx, requestID, token)
	if err != nil {
		if errors.Is(err, approval.ErrTokenNotFound) {
			return approval.ErrTokenNotFound
		}
		return fmt.Errorf("get credential: %w", err)
	}
	switch cred.TokenStatus {
	case approval.TokenActive:
	case approval.TokenUsed:
		return approval.ErrTokenUsed
	case approval.TokenRevoked:
		return approval.ErrTokenRevoked
	default:
		return approval.ErrTokenExpired
	}
	if cred.Status != approval.StatusPending {
		return approval.ErrTokenAlreadyProcessed
	}
	if !cred.ExpirationTime.After(s.now()) {
		return approval.ErrTokenExpired
	}

	// Step 3: transition the request, guarded by Status = Pending. A failure
	// here means another decision won between steps 1 and 3.
	if err := s.requests.Decide(ctx, requestID, action); err != nil {
		if errors.Is(err, approval.ErrConditionFailed) {
			return approval.ErrAlreadyProcessed
		}
		return fmt.Errorf("update request: %w", err)
	}

	// Step 4: consume the credential. The precondition (Pending, Active, not
	// expired) is evaluated against the live row inside the store. If it fails,
	// the request update above stands; only this credential lost.
	if err := s.credentials.MarkUsed(ctx, requestID, token, action, s.now()); err != nil {
		if errors.Is(err, approval.ErrConditionFailed) {
			return approval.ErrTokenRaceLost
		}
		return fmt.Errorf("consume credential: %w", err)
	}

	// Step 5: advisory cleanup. Uniqueness of Used is already guaranteed by
	// step 4's precondition, so individual revocation failures are swallowed.
	s.revokeSiblings(ctx, requestID, token)

	// Step 6: hand off to the executor. State has committed, so the publish is
	// the only step that may be retried.
	event := approval.DecisionEvent{
		RequestID:     requestID,
		IncidentID:    req.IncidentID,
		ApproverEmail: cred.ApproverEmail,
		Action:        action,
		ApprovedAt:    s.now().UTC(),
		ProposedAction: approval.ProposedAction{
			Action:     req.Action,
			Parameters: req.ActionParameters,
		},
	}
	if err := s.publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "decision committed but not dispatched",
			"request_id", requestID,
			"action", action,
			"error", err,
		)
		return approval.ErrDispatchFailed
	}

	if err := s.notifier.DecisionMade(ctx, req, action, cred.ApproverEmail); err != nil {
		s.logger.WarnContext(ctx, "decision notification failed",
			"request_id", requestID,
			"error", err,
		)
	}

	s.logger.InfoContext(ctx, "decision applied",
		"request_id", requestID,
		"incident_id", req.IncidentID,
		"action", action,
		"approver", cred.ApproverEmail,
	)
	return nil
}

func (s *Service) revokeSiblings(ctx context.Context, requestID, winningToken string) {
	active, err := s.credentials.ListActive(ctx, requestID)
	if err != nil {
		s.logger.WarnContext(ctx, "sibling credential listing failed",
			"request_id", requestID,
			"error", err,
		)
		return
	}
	revoked := 0
	for _, sibling := range active {
		if sibling.Token == winningToken {
			continue
		}
		err := s.credentials.Revoke(ctx, requestID, sibling.Token)
		switch {
		case err == nil:
			revoked++
		case errors.Is(err, approval.ErrConditionFailed):
			// The sibling transitioned to Used or Revoked on its own first.
		default:
			s.logger.WarnContext(ctx, "sibling revocation failed",
				"request_id", requestID,
				"error", err,
			)
		}
	}
	s.metrics.AddTokensRevoked(revoked)
}

func (s *Service) publish(ctx context.Context, event approval.DecisionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal decision event: %w", err)
	}
	var lastErr error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if attempt > 0 {
			s.metrics.AddPublishRetry()
			if err := s.sleep(ctx, publishBackoff<<(attempt-1)); err != nil {
				return err
			}
		}
		if lastErr = s.queue.Send(ctx, body); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("publish decision event: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func outcomeLabel(err error, action approval.Status) string {
	switch {
	case err == nil:
		switch action {
		case approval.StatusApproved:
			return "approved"
		case approval.StatusRejected:
			return "rejected"
		default:
			return "silent"
		}
	case errors.Is(err, approval.ErrValidation):
		return "validation"
	case errors.Is(err, approval.ErrNotFound):
		return "not_found"
	case errors.Is(err, approval.ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, approval.ErrTokenNotFound):
		return "token_not_found"
	case errors.Is(err, approval.ErrTokenUsed):
		return "token_used"
	case errors.Is(err, approval.ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, approval.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, approval.ErrTokenAlreadyProcessed):
		return "token_already_processed"
	case errors.Is(err, approval.ErrTokenRaceLost):
		return "token_race_lost"
	case errors.Is(err, approval.ErrDispatchFailed):
		return "dispatch_failed"
	default:
		return "error"
	}
}
