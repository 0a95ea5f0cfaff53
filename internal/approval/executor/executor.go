// Package executor consumes decision events and runs the approved remediation
// exactly once per request, tolerating at-least-once redelivery from the queue.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"approvalgate/internal/approval"
	"approvalgate/internal/approval/metrics"
	"approvalgate/internal/platform/queue"
)

// ActionRunner is the pluggable remediation capability. Implementations are
// supplied by the surrounding system.
type ActionRunner interface {
	Execute(ctx context.Context, action string, parameters map[string]string) (string, error)
}

// Options holds the polling knobs.
type Options struct {
	PollInterval time.Duration
	MaxMessages  int
	WaitTime     time.Duration

	// Concurrency bounds in-flight messages within one batch. Zero means the
	// batch size.
	Concurrency int
}

// Service is the single long-running polling loop.
type Service struct {
	queue    queue.Queue
	requests approval.RequestStore
	runner   ActionRunner
	logger   *slog.Logger
	metrics  *metrics.Metrics
	opts     Options

	now func() time.Time
}

func New(q queue.Queue, requests approval.RequestStore, runner ActionRunner, logger *slog.Logger, m *metrics.Metrics, opts Options) *Service {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = opts.MaxMessages
	}
	return &Service{
		queue:    q,
		requests: requests,
		runner:   runner,
		logger:   logger,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Run polls until the context is cancelled. In-flight messages finish before a
// cycle returns, so shutdown never abandons a claimed idempotency gate without
// its completion result.
func (s *Service) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "action executor starting",
		"max_messages", s.opts.MaxMessages,
		"wait_time", s.opts.WaitTime,
		"poll_interval", s.opts.PollInterval,
	)
	for {
		if err := s.poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.logger.ErrorContext(ctx, "poll cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "action executor stopping")
			return ctx.Err()
		case <-time.After(s.opts.PollInterval):
		}
	}
}

// poll receives one batch and processes its messages concurrently. One
// message's failure never blocks or fails the rest of the batch.
func (s *Service) poll(ctx context.Context) error {
	msgs, err := s.queue.Receive(ctx, s.opts.MaxMessages, s.opts.WaitTime)
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, msg := range msgs {
		g.Go(func() error {
			s.handle(gctx, msg)
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) handle(ctx context.Context, msg queue.Message) {
	var event approval.DecisionEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil || event.RequestID == "" {
		// A malformed message can never succeed; ack it away instead of letting
		// it cycle to the dead letter budget.
		s.logger.ErrorContext(ctx, "dropping malformed decision event",
			"message_id", msg.ID,
			"error", err,
		)
		s.ack(ctx, msg)
		s.metrics.IncrementProcessed("malformed")
		return
	}

	// Idempotency gate: claim completion before running the action. A
	// redelivered copy of an already-completed event fails the precondition,
	// skips the remediation and is acknowledged.
	err := s.requests.ClaimCompletion(ctx, event.RequestID, s.now().UTC())
	if errors.Is(err, approval.ErrConditionFailed) {
		s.logger.InfoContext(ctx, "request already completed, skipping redelivery",
			"request_id", event.RequestID,
			"message_id", msg.ID,
			"delivery_count", msg.DeliveryCount,
		)
		s.ack(ctx, msg)
		s.metrics.IncrementProcessed("duplicate")
		return
	}
	if err != nil {
		// Leave unacked; the queue's redelivery applies.
		s.logger.ErrorContext(ctx, "completion claim failed",
			"request_id", event.RequestID,
			"error", err,
		)
		s.metrics.IncrementProcessed("failed")
		return
	}

	result, err := s.runner.Execute(ctx, event.ProposedAction.Action, event.ProposedAction.Parameters)
	if err != nil {
		// The gate is claimed but the action failed: leave the message unacked
		// so a redelivery retries. The gate check on redelivery will see
		// Completed; operators resolve that via the dead letter path, which is
		// preferable to a double execution.
		s.logger.ErrorContext(ctx, "remediation action failed",
			"request_id", event.RequestID,
			"action", event.ProposedAction.Action,
			"delivery_count", msg.DeliveryCount,
			"error", err,
		)
		s.metrics.IncrementProcessed("failed")
		return
	}

	if err := s.requests.RecordResult(ctx, event.RequestID, result); err != nil {
		s.logger.ErrorContext(ctx, "recording action result failed",
			"request_id", event.RequestID,
			"error", err,
		)
		s.metrics.IncrementProcessed("failed")
		return
	}

	s.ack(ctx, msg)
	s.metrics.IncrementProcessed("completed")
	s.logger.InfoContext(ctx, "remediation executed",
		"request_id", event.RequestID,
		"action", event.ProposedAction.Action,
		"result", result,
	)
}

func (s *Service) ack(ctx context.Context, msg queue.Message) {
	if err := s.queue.Ack(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "ack failed, message may redeliver",
			"message_id", msg.ID,
			"error", err,
		)
	}
}
