package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"approvalgate/internal/approval"
	"approvalgate/internal/approval/metrics"
	"approvalgate/internal/platform/queue"
)

var testMetrics = metrics.New()

type recordingNotifier struct {
	mu        sync.Mutex
	decisions []approval.Status
}

func (n *recordingNotifier) DecisionRequested(context.Context, string, approval.Request, string) error {
	return nil
}

func (n *recordingNotifier) DecisionMade(_ context.Context, _ approval.Request, decision approval.Status, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decisions = append(n.decisions, decision)
	return nil
}

type GatewaySuite struct {
	suite.Suite
	ctx         context.Context
	requests    *approval.InMemoryRequestStore
	credentials *approval.InMemoryCredentialStore
	queue       *queue.Memory
	notifier    *recordingNotifier
	svc         *Service
	now         time.Time
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.ctx = context.Background()
	s.requests = approval.NewInMemoryRequestStore()
	s.credentials = approval.NewInMemoryCredentialStore()
	s.queue = queue.NewMemory(time.Minute)
	s.notifier = &recordingNotifier{}
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.svc = New(s.requests, s.credentials, s.queue, s.notifier, logger, testMetrics)
	s.svc.SetClock(func() time.Time { return s.now })
}

func (s *GatewaySuite) seedRequest(requestID string, approvers ...string) map[string]string {
	req := approval.Request{
		RequestID:        requestID,
		IncidentID:       "INC-42",
		Description:      "disk full on db-7",
		Action:           "restart-service",
		ActionParameters: map[string]string{"service": "ingestd", "host": "db-7"},
		ApproverEmails:   approvers,
		CreatedAt:        s.now,
		ExpiryTime:       s.now.Add(7 * 24 * time.Hour),
		Status:           approval.StatusPending,
		CompletionStatus: approval.CompletionUnset,
	}
	s.Require().NoError(s.requests.Insert(s.ctx, req))

	tokens := make(map[string]string, len(approvers))
	for _, approver := range approvers {
		token, err := approval.NewToken()
		s.Require().NoError(err)
		tokens[approver] = token
		s.Require().NoError(s.credentials.Insert(s.ctx, approval.Credential{
			RequestID:      requestID,
			Token:          token,
			ApproverEmail:  approver,
			ExpirationTime: s.now.Add(24 * time.Hour),
			Status:         approval.StatusPending,
			TokenStatus:    approval.TokenActive,
		}))
	}
	return tokens
}

func (s *GatewaySuite) receiveEvents() []approval.DecisionEvent {
	msgs, err := s.queue.Receive(s.ctx, 100, 0)
	s.Require().NoError(err)
	events := make([]approval.DecisionEvent, 0, len(msgs))
	for _, msg := range msgs {
		var event approval.DecisionEvent
		s.Require().NoError(json.Unmarshal(msg.Body, &event))
		events = append(events, event)
	}
	return events
}

// Scenario A: first decision wins, winning credential is consumed, the sibling
// is revoked, and exactly one event is published.
func (s *GatewaySuite) TestFirstDecisionWins() {
	tokens := s.seedRequest("r1", "a@example.com", "b@example.com")

	s.Require().NoError(s.svc.Decide(s.ctx, "r1", tokens["a@example.com"], approval.StatusApproved))

	req, err := s.requests.Get(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal(approval.StatusApproved, req.Status)

	winner, err := s.credentials.Get(s.ctx, "r1", tokens["a@example.com"])
	s.Require().NoError(err)
	s.Equal(approval.TokenUsed, winner.TokenStatus)
	s.Equal(approval.StatusApproved, winner.Status)

	sibling, err := s.credentials.Get(s.ctx, "r1", tokens["b@example.com"])
	s.Require().NoError(err)
	s.Equal(approval.TokenRevoked, sibling.TokenStatus)

	events := s.receiveEvents()
	s.Require().Len(events, 1)
	s.Equal("r1", events[0].RequestID)
	s.Equal("a@example.com", events[0].ApproverEmail)
	s.Equal(approval.StatusApproved, events[0].Action)
	s.Equal("restart-service", events[0].ProposedAction.Action)
	s.Equal(map[string]string{"service": "ingestd", "host": "db-7"}, events[0].ProposedAction.Parameters)

	s.Equal([]approval.Status{approval.StatusApproved}, s.notifier.decisions)
}

// Scenario B: the loser's link reports TokenRevoked with no state change and
// no extra event.
func (s *GatewaySuite) TestRevokedSiblingLinkIsInert() {
	tokens := s.seedRequest("r1", "a@example.com", "b@example.com")
	s.Require().NoError(s.svc.Decide(s.ctx, "r1", tokens["a@example.com"], approval.StatusApproved))
	s.Require().Len(s.receiveEvents(), 1)

	err := s.svc.Decide(s.ctx, "r1", tokens["b@example.com"], approval.StatusRejected)
	s.ErrorIs(err, approval.ErrAlreadyProcessed)

	req, getErr := s.requests.Get(s.ctx, "r1")
	s.Require().NoError(getErr)
	s.Equal(approval.StatusApproved, req.Status)
	s.Empty(s.receiveEvents())
}

// Scenario C: unknown request id.
func (s *GatewaySuite) TestUnknownRequest() {
	err := s.svc.Decide(s.ctx, "unknown-id", "any-token", approval.StatusApproved)
	s.ErrorIs(err, approval.ErrNotFound)
	s.Empty(s.receiveEvents())
}

// Replaying the winning link yields AlreadyProcessed with zero additional
// writes and zero additional events.
func (s *GatewaySuite) TestReplayIsRejected() {
	tokens := s.seedRequest("r1", "a@example.com")
	token := tokens["a@example.com"]
	s.Require().NoError(s.svc.Decide(s.ctx, "r1", token, approval.StatusApproved))
	s.Require().Len(s.receiveEvents(), 1)

	before, err := s.credentials.Get(s.ctx, "r1", token)
	s.Require().NoError(err)

	s.ErrorIs(s.svc.Decide(s.ctx, "r1", token, approval.StatusApproved), approval.ErrAlreadyProcessed)

	after, err := s.credentials.Get(s.ctx, "r1", token)
	s.Require().NoError(err)
	s.Equal(before, after)
	s.Empty(s.receiveEvents())
}

func (s *GatewaySuite) TestDistinctTokenErrorKinds() {
	tokens := s.seedRequest("r1", "a@example.com", "b@example.com", "c@example.com")

	s.Run("unknown token", func() {
		s.ErrorIs(s.svc.Decide(s.ctx, "r1", "no-such-token", approval.StatusApproved), approval.ErrTokenNotFound)
	})

	s.Run("expired token", func() {
		expired, err := approval.NewToken()
		s.Require().NoError(err)
		s.Require().NoError(s.credentials.Insert(s.ctx, approval.Credential{
			RequestID:      "r1",
			Token:          expired,
			ApproverEmail:  "d@example.com",
			ExpirationTime: s.now.Add(-time.Minute),
			Status:         approval.StatusPending,
			TokenStatus:    approval.TokenActive,
		}))
		s.ErrorIs(s.svc.Decide(s.ctx, "r1", expired, approval.StatusApproved), approval.ErrTokenExpired)
	})

	s.Run("used then revoked are distinct", func() {
		s.Require().NoError(s.svc.Decide(s.ctx, "r1", tokens["a@example.com"], approval.StatusApproved))

		// Re-seed the request to Pending is impossible; the used/revoked checks
		// fire before the request check only via a fresh pending request.
		tokens2 := s.seedRequest("r2", "a@example.com", "b@example.com")
		s.Require().NoError(s.svc.Decide(s.ctx, "r2", tokens2["a@example.com"], approval.StatusRejected))

		// On r2 the sibling credential is Revoked, the winner Used; both are
		// reported as AlreadyProcessed at the request gate because the request
		// left Pending first.
		s.ErrorIs(s.svc.Decide(s.ctx, "r2", tokens2["b@example.com"], approval.StatusApproved), approval.ErrAlreadyProcessed)
	})
}

func (s *GatewaySuite) TestTokenStateErrorsOnPendingRequest() {
	// Craft credentials in every non-Active state against a still-pending
	// request so each distinct kind is independently triggerable.
	s.seedRequest("r1", "a@example.com")
	now := s.now
	for _, tc := range []struct {
		name   string
		cred   approval.Credential
		expect error
	}{
		{
			name: "used",
			cred: approval.Credential{
				Token: "used-token", Status: approval.StatusApproved,
				TokenStatus: approval.TokenUsed, ExpirationTime: now.Add(time.Hour),
			},
			expect: approval.ErrTokenUsed,
		},
		{
			name: "revoked",
			cred: approval.Credential{
				Token: "revoked-token", Status: approval.StatusPending,
				TokenStatus: approval.TokenRevoked, ExpirationTime: now.Add(time.Hour),
			},
			expect: approval.ErrTokenRevoked,
		},
		{
			name: "decision already recorded",
			cred: approval.Credential{
				Token: "processed-token", Status: approval.StatusSilent,
				TokenStatus: approval.TokenActive, ExpirationTime: now.Add(time.Hour),
			},
			expect: approval.ErrTokenAlreadyProcessed,
		},
	} {
		s.Run(tc.name, func() {
			cred := tc.cred
			cred.RequestID = "r1"
			cred.ApproverEmail = "x@example.com"
			s.Require().NoError(s.credentials.Insert(s.ctx, cred))
			s.ErrorIs(s.svc.Decide(s.ctx, "r1", cred.Token, approval.StatusApproved), tc.expect)
		})
	}
	s.Empty(s.receiveEvents())
}

func (s *GatewaySuite) TestValidation() {
	s.ErrorIs(s.svc.Decide(s.ctx, "", "token", approval.StatusApproved), approval.ErrValidation)
	s.ErrorIs(s.svc.Decide(s.ctx, "r1", "", approval.StatusApproved), approval.ErrValidation)
}

// Concurrent decisions on N distinct active credentials resolve to exactly one
// winner and exactly one published event, regardless of arrival order.
func (s *GatewaySuite) TestConcurrentDecisionsSingleWinner() {
	approvers := []string{
		"a@example.com", "b@example.com", "c@example.com",
		"d@example.com", "e@example.com", "f@example.com",
	}
	tokens := s.seedRequest("r1", approvers...)

	var wg sync.WaitGroup
	outcomes := make([]error, len(approvers))
	for i, approver := range approvers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = s.svc.Decide(s.ctx, "r1", tokens[approver], approval.StatusApproved)
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range outcomes {
		if err == nil {
			winners++
			continue
		}
		s.True(
			errors.Is(err, approval.ErrAlreadyProcessed) ||
				errors.Is(err, approval.ErrTokenRaceLost) ||
				errors.Is(err, approval.ErrTokenRevoked),
			"unexpected outcome: %v", err,
		)
	}
	s.Equal(1, winners)
	s.Len(s.receiveEvents(), 1)

	used := 0
	for _, token := range tokens {
		cred, err := s.credentials.Get(s.ctx, "r1", token)
		s.Require().NoError(err)
		switch cred.TokenStatus {
		case approval.TokenUsed:
			used++
		case approval.TokenRevoked:
		default:
			s.Failf("unexpected token status", "token %s: %s", token, cred.TokenStatus)
		}
	}
	s.Equal(1, used)
}

type flakyQueue struct {
	mu       sync.Mutex
	failures int
	sent     [][]byte
}

func (q *flakyQueue) Send(_ context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failures > 0 {
		q.failures--
		return errors.New("transient queue error")
	}
	q.sent = append(q.sent, body)
	return nil
}

func (q *flakyQueue) Receive(context.Context, int, time.Duration) ([]queue.Message, error) {
	return nil, nil
}

func (q *flakyQueue) Ack(context.Context, queue.Message) error { return nil }

func (s *GatewaySuite) TestPublishRetriesThenSucceeds() {
	tokens := s.seedRequest("r1", "a@example.com")
	fq := &flakyQueue{failures: 2}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(s.requests, s.credentials, fq, s.notifier, logger, testMetrics)
	svc.SetClock(func() time.Time { return s.now })
	svc.sleep = func(context.Context, time.Duration) error { return nil }

	s.Require().NoError(svc.Decide(s.ctx, "r1", tokens["a@example.com"], approval.StatusApproved))
	s.Len(fq.sent, 1)
}

func (s *GatewaySuite) TestPublishExhaustionSurfacesDispatchFailure() {
	tokens := s.seedRequest("r1", "a@example.com")
	fq := &flakyQueue{failures: 100}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(s.requests, s.credentials, fq, s.notifier, logger, testMetrics)
	svc.SetClock(func() time.Time { return s.now })
	svc.sleep = func(context.Context, time.Duration) error { return nil }

	err := svc.Decide(s.ctx, "r1", tokens["a@example.com"], approval.StatusApproved)
	s.ErrorIs(err, approval.ErrDispatchFailed)

	// The decision itself stands: the request committed before the publish.
	req, getErr := s.requests.Get(s.ctx, "r1")
	s.Require().NoError(getErr)
	s.Equal(approval.StatusApproved, req.Status)
}
