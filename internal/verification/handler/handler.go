package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tiergate/internal/tier"
	"tiergate/internal/verification/metrics"
	"tiergate/internal/verification/models"
	id "tiergate/pkg/domain"
	dErrors "tiergate/pkg/domain-errors"
	"tiergate/pkg/platform/audit"
	"tiergate/pkg/platform/httputil"
	"tiergate/pkg/platform/retry"
	"tiergate/pkg/platform/signature"
	"tiergate/pkg/requestcontext"
)

const maxCallbackBytes = 64 << 10

// Service defines the ledger operations exposed over HTTP.
type Service interface {
	RecordRequirement(ctx context.Context, u models.Update) (*models.Result, error)
	RequirementsFor(ctx context.Context, userID id.UserID) (map[tier.RequirementKind]models.Record, error)
	AdminReject(ctx context.Context, userID id.UserID, k tier.RequirementKind, actorID, reason string) (*models.Result, error)
	History(ctx context.Context, userID id.UserID) ([]models.Transition, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Handler serves the signed KYC callback and the ledger read/admin endpoints.
type Handler struct {
	service  Service
	verifier *signature.Verifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	auditor  AuditPublisher
	retry    retry.Policy
}

type Option func(*Handler)

func WithAuditPublisher(p AuditPublisher) Option {
	return func(h *Handler) {
		h.auditor = p
	}
}

// WithRetryPolicy bounds the in-process retries of a callback whose ledger
// write hit unavailable storage.
func WithRetryPolicy(p retry.Policy) Option {
	return func(h *Handler) {
		h.retry = p
	}
}

func New(service Service, verifier *signature.Verifier, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Handler {
	h := &Handler{
		service:  service,
		verifier: verifier,
		logger:   logger,
		metrics:  m,
		retry:    retry.DefaultPolicy,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the public ledger endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/kyc", h.HandleKYCCallback)
	r.Get("/users/{userID}/requirements", h.HandleListRequirements)
	r.Get("/users/{userID}/requirements/history", h.HandleHistory)
}

// RegisterAdmin mounts the admin override. The caller wraps r with admin
// authentication.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/users/{userID}/requirements/{requirement}/reject", h.HandleAdminReject)
}

// HandleKYCCallback handles POST /webhooks/kyc. The signature is checked over
// the raw body before anything is parsed; forged callbacks never reach the
// ledger.
func (h *Handler) HandleKYCCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	err = h.verifier.Verify(body, r.Header.Get(signature.HeaderSignature), r.Header.Get(signature.HeaderTimestamp), requestcontext.Now(ctx))
	if err != nil {
		h.rejectSignature(ctx, err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid signature"))
		return
	}

	var req KYCCallbackRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid kyc callback body",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		h.logger.WarnContext(ctx, "kyc callback validation failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	update := req.Update()

	var result *models.Result
	err = retry.Do(ctx, h.retry, isUnavailable, func(err error, next time.Duration) {
		h.logger.WarnContext(ctx, "ledger write failed, retrying",
			"request_id", requestID,
			"user_id", update.UserID,
			"requirement", update.Requirement,
			"backoff", next,
			"error", err,
		)
	}, func(ctx context.Context) error {
		var err error
		result, err = h.service.RecordRequirement(ctx, update)
		return err
	})
	if err != nil {
		if isUnavailable(err) {
			h.metrics.WebhookStorageErrors.Inc()
			h.logger.ErrorContext(ctx, "kyc callback not stored, provider should redeliver",
				"request_id", requestID,
				"user_id", update.UserID,
				"requirement", update.Requirement,
				"event_seq", update.EventSeq,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "kyc callback processed",
		"request_id", requestID,
		"user_id", update.UserID,
		"requirement", update.Requirement,
		"event_seq", update.EventSeq,
		"outcome", result.Outcome,
	)
	httputil.WriteJSON(w, http.StatusOK, fromResult(result))
}

// HandleListRequirements handles GET /users/{userID}/requirements.
func (h *Handler) HandleListRequirements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	records, err := h.service.RequirementsFor(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "list requirements failed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromRecords(userID, records, tier.RequirementKinds()))
}

// HandleHistory handles GET /users/{userID}/requirements/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	history, err := h.service.History(ctx, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromHistory(userID, history))
}

// HandleAdminReject handles POST /admin/users/{userID}/requirements/{requirement}/reject.
func (h *Handler) HandleAdminReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actorID := requestcontext.ActorID(ctx)
	if actorID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	k, err := tier.ParseRequirementKind(chi.URLParam(r, "requirement"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[AdminRejectRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.AdminReject(ctx, userID, k, actorID, req.Reason)
	if err != nil {
		h.logger.ErrorContext(ctx, "admin reject failed",
			"request_id", requestID,
			"user_id", userID,
			"requirement", k,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromResult(result))
}

func (h *Handler) rejectSignature(ctx context.Context, err error) {
	reason := rejectionReason(err)
	h.metrics.SignatureRejections.WithLabelValues(reason).Inc()

	attributes := []any{
		"subject", "kyc_webhook",
		"reason", reason,
		"ip", requestcontext.ClientIP(ctx),
		"request_id", requestcontext.RequestID(ctx),
	}
	level := slog.LevelWarn
	if errors.Is(err, signature.ErrNoSecret) {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, string(audit.EventWebhookSignatureRejected),
		append(attributes, "event", string(audit.EventWebhookSignatureRejected), "log_type", "audit")...)

	if h.auditor == nil {
		return
	}
	if err := h.auditor.Emit(ctx, audit.FromAttributes(string(audit.EventWebhookSignatureRejected), attributes)); err != nil {
		h.logger.ErrorContext(ctx, "failed to emit audit event", "error", err)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, signature.ErrMissingSignature):
		return "missing"
	case errors.Is(err, signature.ErrMalformedSignature):
		return "malformed"
	case errors.Is(err, signature.ErrTimestampSkew):
		return "timestamp_skew"
	case errors.Is(err, signature.ErrNoSecret):
		return "not_configured"
	default:
		return "mismatch"
	}
}

func isUnavailable(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeUnavailable)
}
