package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"approvalgate/internal/approval"
	"approvalgate/internal/approval/issuer"
)

//go:generate mockgen -source=handlers_approval.go -destination=mocks/approval-mocks.go -package=mocks IssuerService,GatewayService

// IssuerService creates approval requests.
type IssuerService interface {
	Create(ctx context.Context, in issuer.CreateInput) (approval.Request, error)
}

// GatewayService applies decisions.
type GatewayService interface {
	Decide(ctx context.Context, requestID, token string, action approval.Status) error
}

// Handler wires the approval endpoints to their services.
type Handler struct {
	issuer   IssuerService
	gateway  GatewayService
	requests approval.RequestStore
	logger   *slog.Logger
}

func NewHandler(issuerSvc IssuerService, gatewaySvc GatewayService, requests approval.RequestStore, logger *slog.Logger) *Handler {
	return &Handler{
		issuer:   issuerSvc,
		gateway:  gatewaySvc,
		requests: requests,
		logger:   logger,
	}
}

// Register mounts the approval endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/approvals", h.handleCreate)
	r.Get("/api/approvals/decide", h.handleDecide)
	r.Get("/api/approvals/{requestID}", h.handleGet)
}

type createRequest struct {
	RequestID        string            `json:"RequestId"`
	IncidentID       string            `json:"IncidentId"`
	Description      string            `json:"Description"`
	Action           string            `json:"Action"`
	ActionParameters map[string]string `json:"ActionParameters"`
	ApproverEmails   []string          `json:"ApproverEmails"`
}

type createResponse struct {
	RequestID  string    `json:"RequestId"`
	Status     string    `json:"Status"`
	CreatedAt  time.Time `json:"CreatedAt"`
	ExpiryTime time.Time `json:"ExpiryTime"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body createRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "malformed request body", http.StatusBadRequest)
		return
	}

	req, err := h.issuer.Create(ctx, issuer.CreateInput{
		RequestID:        body.RequestID,
		IncidentID:       body.IncidentID,
		Description:      body.Description,
		Action:           body.Action,
		ActionParameters: body.ActionParameters,
		ApproverEmails:   body.ApproverEmails,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "create approval request failed",
			"request_id", middleware.GetReqID(ctx),
			"incident_id", body.IncidentID,
			"error", err,
		)
		writeDecisionError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, createResponse{
		RequestID:  req.RequestID,
		Status:     string(req.Status),
		CreatedAt:  req.CreatedAt,
		ExpiryTime: req.ExpiryTime,
	})
}

// handleDecide is the decision link target. GET, because approvers follow
// links from notification mail.
func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	requestID := q.Get("requestId")
	token := q.Get("token")
	rawAction := q.Get("approvalAction")

	if requestID == "" || token == "" || rawAction == "" {
		writeError(w, "missing required parameters", http.StatusBadRequest)
		return
	}
	action, ok := approval.ParseDecision(rawAction)
	if !ok {
		writeError(w, "invalid approval action", http.StatusBadRequest)
		return
	}

	if err := h.gateway.Decide(ctx, requestID, token, action); err != nil {
		h.logger.InfoContext(ctx, "decision rejected",
			"request_id", requestID,
			"outcome", err.Error(),
		)
		writeDecisionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"RequestId": requestID,
		"Action":    string(action),
		"Message":   "decision recorded",
	})
}

type statusResponse struct {
	RequestID           string     `json:"RequestId"`
	IncidentID          string     `json:"IncidentId"`
	Action              string     `json:"Action"`
	Status              string     `json:"Status"`
	CompletionStatus    string     `json:"CompletionStatus"`
	ActionResult        string     `json:"ActionResult,omitempty"`
	CompletionTimestamp *time.Time `json:"CompletionTimestamp,omitempty"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chi.URLParam(r, "requestID")

	req, err := h.requests.Get(ctx, requestID)
	if err != nil {
		writeDecisionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		RequestID:           req.RequestID,
		IncidentID:          req.IncidentID,
		Action:              req.Action,
		Status:              string(req.Status),
		CompletionStatus:    string(req.CompletionStatus),
		ActionResult:        req.ActionResult,
		CompletionTimestamp: req.CompletionTimestamp,
	})
}

// writeDecisionError maps the approval sentinels onto HTTP statuses. The
// race-or-replay family is a client-side rejection, never a server error.
func writeDecisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, approval.ErrValidation):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, approval.ErrNotFound), errors.Is(err, approval.ErrTokenNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, approval.ErrTokenExpired):
		writeError(w, err.Error(), http.StatusGone)
	case errors.Is(err, approval.ErrAlreadyProcessed),
		errors.Is(err, approval.ErrTokenUsed),
		errors.Is(err, approval.ErrTokenRevoked),
		errors.Is(err, approval.ErrTokenAlreadyProcessed),
		errors.Is(err, approval.ErrTokenRaceLost):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, approval.ErrDispatchFailed):
		writeError(w, err.Error(), http.StatusBadGateway)
	default:
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
