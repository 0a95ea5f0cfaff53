package notify

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"approvalgate/internal/approval"
)

func TestDecisionLink(t *testing.T) {
	link := DecisionLink("https://gate.example.com/api/approvals/decide", "r1", "tok-1", approval.StatusApproved)

	parsed, err := url.Parse(link)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "Approved", q.Get("approvalAction"))
	assert.Equal(t, "tok-1", q.Get("token"))
	assert.Equal(t, "r1", q.Get("requestId"))
}

func TestRequestBodyCarriesAllThreeDecisionLinks(t *testing.T) {
	req := approval.Request{
		RequestID:        "r1",
		IncidentID:       "INC-42",
		Description:      "disk full on db-7",
		Action:           "restart-service",
		ActionParameters: map[string]string{"service": "ingestd", "host": "db-7"},
	}

	body := RequestBody("https://gate.example.com/decide", req, "jane.doe@example.com", "tok-1")

	assert.Contains(t, body, "Hi Jane,")
	assert.Contains(t, body, "incident INC-42")
	assert.Contains(t, body, "host=db-7, service=ingestd")
	for _, decision := range []approval.Status{approval.StatusApproved, approval.StatusRejected, approval.StatusSilent} {
		assert.Contains(t, body, DecisionLink("https://gate.example.com/decide", "r1", "tok-1", decision))
	}
	assert.Contains(t, body, "expire in 24 hours")
}

func TestDecisionBody(t *testing.T) {
	req := approval.Request{
		RequestID:  "r1",
		IncidentID: "INC-42",
		Action:     "restart-service",
	}

	body := DecisionBody(req, approval.StatusRejected, "jane.doe@example.com")
	assert.Contains(t, body, "jane.doe@example.com has rejected for incident INC-42")
	assert.Contains(t, body, "RequestId: r1")
	assert.Contains(t, body, "Parameters: (none)")
}
