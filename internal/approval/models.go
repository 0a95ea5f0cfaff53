package approval

import "time"

// Status is the decision state of a request or credential. A request starts
// Pending and moves to exactly one of the other values, exactly once.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
	StatusSilent   Status = "Silent"
)

// ParseDecision validates an inbound approvalAction value. Pending is not a
// decision an approver can submit.
func ParseDecision(s string) (Status, bool) {
	switch Status(s) {
	case StatusApproved, StatusRejected, StatusSilent:
		return Status(s), true
	}
	return "", false
}

// TokenStatus tracks the lifecycle of a single-use credential independently of
// the decision it carries.
type TokenStatus string

const (
	TokenActive  TokenStatus = "Active"
	TokenUsed    TokenStatus = "Used"
	TokenRevoked TokenStatus = "Revoked"
	TokenExpired TokenStatus = "Expired"
)

// CompletionStatus marks whether the action executor has run the remediation
// for a decided request. It transitions Unset -> Completed exactly once.
type CompletionStatus string

const (
	CompletionUnset     CompletionStatus = "Unset"
	CompletionCompleted CompletionStatus = "Completed"
)

// Request is one approval workflow instance tied to a proposed remediation
// action. Status is mutated only by the gateway, CompletionStatus only by the
// executor; neither is ever written unconditionally.
type Request struct {
	RequestID        string
	IncidentID       string
	Description      string
	Action           string
	ActionParameters map[string]string
	ApproverEmails   []string
	CreatedAt        time.Time
	ExpiryTime       time.Time
	Status           Status

	CompletionStatus    CompletionStatus
	ActionResult        string
	CompletionTimestamp *time.Time
}

// Credential is a single-use, per-approver, time-bound bearer value keyed by
// (RequestID, Token). Status mirrors the decision once applied.
type Credential struct {
	RequestID      string
	Token          string
	ApproverEmail  string
	ExpirationTime time.Time
	Status         Status
	TokenStatus    TokenStatus
}

// DecisionEvent is the message handed from the gateway to the executor. It is
// immutable once published and may be delivered more than once.
type DecisionEvent struct {
	RequestID      string         `json:"RequestId"`
	IncidentID     string         `json:"IncidentId,omitempty"`
	ApproverEmail  string         `json:"ApproverEmail"`
	Action         Status         `json:"Action"`
	ApprovedAt     time.Time      `json:"ApprovedAt"`
	Comment        string         `json:"Comment,omitempty"`
	ProposedAction ProposedAction `json:"ProposedAction"`
}

// ProposedAction names the remediation the request asked approval for.
type ProposedAction struct {
	Action     string            `json:"Action"`
	Parameters map[string]string `json:"Parameters"`
}
