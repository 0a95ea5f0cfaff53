package notify

import (
	"context"
	"log/slog"

	"approvalgate/internal/approval"
)

// LogNotifier writes rendered notifications to the log instead of delivering
// mail. It is the default until an outbound mail relay is wired in.
type LogNotifier struct {
	logger  *slog.Logger
	baseURL string
	sender  string
}

func NewLogNotifier(logger *slog.Logger, baseURL, sender string) *LogNotifier {
	return &LogNotifier{logger: logger, baseURL: baseURL, sender: sender}
}

func (n *LogNotifier) DecisionRequested(ctx context.Context, approverEmail string, req approval.Request, token string) error {
	n.logger.InfoContext(ctx, "decision requested notification",
		"from", n.sender,
		"to", approverEmail,
		"subject", RequestSubject(req),
		"body", RequestBody(n.baseURL, req, approverEmail, token),
	)
	return nil
}

func (n *LogNotifier) DecisionMade(ctx context.Context, req approval.Request, decision approval.Status, decidedBy string) error {
	n.logger.InfoContext(ctx, "decision made notification",
		"from", n.sender,
		"to", req.ApproverEmails,
		"subject", DecisionSubject(decision),
		"body", DecisionBody(req, decision, decidedBy),
	)
	return nil
}
