package notify

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"approvalgate/internal/approval"
	"approvalgate/pkg/email"
)

// DecisionLink builds the single-use link an approver follows to submit the
// given decision.
func DecisionLink(baseURL, requestID, token string, decision approval.Status) string {
	v := url.Values{}
	v.Set("approvalAction", string(decision))
	v.Set("token", token)
	v.Set("requestId", requestID)
	return baseURL + "?" + v.Encode()
}

// RequestSubject and RequestBody render the issuance mail.
func RequestSubject(req approval.Request) string {
	return fmt.Sprintf("Approval Request: %s", req.RequestID)
}

func RequestBody(baseURL string, req approval.Request, approverEmail, token string) string {
	first, _ := email.DeriveNameFromEmail(approverEmail)

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", first)
	fmt.Fprintf(&b, "Approval required for incident %s.\n\n", req.IncidentID)
	fmt.Fprintf(&b, "Description: %s\n", req.Description)
	fmt.Fprintf(&b, "Proposed action: %s\n", req.Action)
	fmt.Fprintf(&b, "Parameters: %s\n\n", formatParameters(req.ActionParameters))
	fmt.Fprintf(&b, "To approve, click here: %s\n", DecisionLink(baseURL, req.RequestID, token, approval.StatusApproved))
	fmt.Fprintf(&b, "To reject, click here: %s\n", DecisionLink(baseURL, req.RequestID, token, approval.StatusRejected))
	fmt.Fprintf(&b, "To silently ignore, click here: %s\n\n", DecisionLink(baseURL, req.RequestID, token, approval.StatusSilent))
	b.WriteString("This request will expire in 24 hours.\n")
	return b.String()
}

// DecisionSubject and DecisionBody render the post-decision announcement.
func DecisionSubject(decision approval.Status) string {
	return fmt.Sprintf("Approval Request: %s", decision)
}

func DecisionBody(req approval.Request, decision approval.Status, decidedBy string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s has %s for incident %s.\n\n", decidedBy, strings.ToLower(string(decision)), req.IncidentID)
	fmt.Fprintf(&b, "RequestId: %s\n", req.RequestID)
	fmt.Fprintf(&b, "Description: %s\n", req.Description)
	fmt.Fprintf(&b, "Action: %s\n", req.Action)
	fmt.Fprintf(&b, "Parameters: %s\n", formatParameters(req.ActionParameters))
	return b.String()
}

func formatParameters(params map[string]string) string {
	if len(params) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.Join(pairs, ", ")
}
