package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"tiergate/internal/limits/models"
	id "tiergate/pkg/domain"
	dErrors "tiergate/pkg/domain-errors"
	"tiergate/pkg/platform/httputil"
	"tiergate/pkg/requestcontext"
)

type Service interface {
	Authorize(ctx context.Context, userID id.UserID, op models.Operation, amount decimal.Decimal) (models.Decision, error)
	Usage(ctx context.Context, userID id.UserID) (models.Usage, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/limits/authorize", h.HandleAuthorize)
	r.Get("/users/{userID}/usage", h.HandleUsage)
}

// AuthorizeRequest carries the amount as a decimal string so no precision is
// lost in JSON.
type AuthorizeRequest struct {
	UserID    string `json:"user_id"`
	Operation string `json:"operation"`
	Amount    string `json:"amount"`

	userID    id.UserID
	operation models.Operation
	amount    decimal.Decimal
}

func (r *AuthorizeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	var err error
	if r.userID, err = id.ParseUserID(strings.TrimSpace(r.UserID)); err != nil {
		return err
	}
	if r.operation, err = models.ParseOperation(strings.TrimSpace(r.Operation)); err != nil {
		return err
	}
	if r.amount, err = models.ParseAmount(strings.TrimSpace(r.Amount)); err != nil {
		return err
	}
	return nil
}

type DecisionResponse struct {
	Authorized       bool    `json:"authorized"`
	Reason           string  `json:"reason,omitempty"`
	LimitKind        string  `json:"limit_kind,omitempty"`
	Operation        string  `json:"operation"`
	Amount           string  `json:"amount"`
	Tier             string  `json:"tier"`
	RemainingDaily   string  `json:"remaining_daily"`
	RemainingMonthly *string `json:"remaining_monthly,omitempty"`
}

type WindowResponse struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Consumed    string    `json:"consumed"`
	Limit       string    `json:"limit"`
	Remaining   string    `json:"remaining"`
}

type UsageResponse struct {
	UserID          string         `json:"user_id"`
	Tier            string         `json:"tier"`
	WithdrawalLimit string         `json:"withdrawal_limit"`
	Daily           WindowResponse `json:"daily"`
	Monthly         WindowResponse `json:"monthly"`
}

// HandleAuthorize handles POST /limits/authorize. Denials are answered 200
// with authorized=false and a machine-readable reason.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[AuthorizeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	d, err := h.service.Authorize(ctx, req.userID, req.operation, req.amount)
	if err != nil {
		h.logger.ErrorContext(ctx, "limit authorization failed",
			"request_id", requestID,
			"user_id", req.userID,
			"operation", req.operation,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "limit authorization decided",
		"request_id", requestID,
		"user_id", req.userID,
		"operation", req.operation,
		"authorized", d.Authorized,
		"reason", d.Reason,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	resp := DecisionResponse{
		Authorized:     d.Authorized,
		Reason:         string(d.Reason),
		LimitKind:      string(d.LimitKind),
		Operation:      string(d.Operation),
		Amount:         d.Amount.String(),
		Tier:           d.TierKey,
		RemainingDaily: d.RemainingDaily.String(),
	}
	if d.RemainingMonthly != nil {
		rem := d.RemainingMonthly.String()
		resp.RemainingMonthly = &rem
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleUsage handles GET /users/{userID}/usage.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	u, err := h.service.Usage(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "usage lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, UsageResponse{
		UserID:          u.UserID.String(),
		Tier:            u.TierKey,
		WithdrawalLimit: u.WithdrawalLimit.String(),
		Daily:           fromWindow(u.Daily),
		Monthly:         fromWindow(u.Monthly),
	})
}

func fromWindow(u models.WindowUsage) WindowResponse {
	return WindowResponse{
		PeriodStart: u.Window.PeriodStart,
		PeriodEnd:   u.Window.PeriodEnd,
		Consumed:    u.Window.Consumed.String(),
		Limit:       u.Limit.String(),
		Remaining:   u.Remaining.String(),
	}
}
