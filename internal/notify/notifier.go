// Package notify carries the best-effort notification side effects of the
// approval workflow: the per-approver decision links at issuance and the
// post-decision announcement. Delivery guarantees are not part of the core's
// correctness contract, so callers log and continue on failure.
package notify

import (
	"context"

	"approvalgate/internal/approval"
)

// Notifier delivers approval workflow mail.
type Notifier interface {
	// DecisionRequested sends one approver their single-use decision links.
	DecisionRequested(ctx context.Context, approverEmail string, req approval.Request, token string) error

	// DecisionMade announces the winning decision to all approvers.
	DecisionMade(ctx context.Context, req approval.Request, decision approval.Status, decidedBy string) error
}
