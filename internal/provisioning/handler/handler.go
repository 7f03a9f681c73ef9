package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tiergate/internal/providers"
	"tiergate/internal/provisioning/models"
	id "tiergate/pkg/domain"
	dErrors "tiergate/pkg/domain-errors"
	"tiergate/pkg/platform/httputil"
	"tiergate/pkg/requestcontext"
)

type Service interface {
	Signup(ctx context.Context, req models.SignupRequest) (*models.Result, error)
	Transaction(ctx context.Context, txnID id.TransactionID) (*models.Transaction, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/signup", h.HandleSignup)
}

// RegisterAdmin mounts operator routes; callers wrap r with admin auth.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/provisioning/transactions/{transactionID}", h.HandleGetTransaction)
}

type SignupRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Country   string `json:"country"`
	Phone     string `json:"phone,omitempty"`

	req models.SignupRequest
}

func (r *SignupRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.req = models.SignupRequest{
		Email: r.Email,
		Profile: providers.Profile{
			FirstName: r.FirstName,
			LastName:  r.LastName,
			Country:   r.Country,
			Phone:     r.Phone,
		},
	}
	r.req.Normalize()
	return r.req.Validate()
}

type SignupResponse struct {
	TransactionID     string `json:"transaction_id"`
	IdentityID        string `json:"identity_id"`
	ExchangeAccountID string `json:"exchange_account_id"`
}

type SignupFailedResponse struct {
	Error string `json:"error"`
	Step  string `json:"step"`
}

type TransactionResponse struct {
	TransactionID     string  `json:"transaction_id"`
	IdentityID        string  `json:"identity_id"`
	ExchangeAccountID *string `json:"exchange_account_id,omitempty"`
	State             string  `json:"state"`
	Attempts          int     `json:"attempts"`
	LastError         string  `json:"last_error,omitempty"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

// HandleSignup handles POST /signup. Saga failures carry only the failed
// step and a machine reason.
func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[SignupRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.Signup(ctx, req.req)
	var failed *models.SignupFailed
	if errors.As(err, &failed) {
		h.logger.InfoContext(ctx, "signup failed",
			"request_id", requestID,
			"step", string(failed.Step),
			"reason", string(failed.Reason),
		)
		httputil.WriteJSON(w, statusForReason(failed.Reason), SignupFailedResponse{
			Error: string(failed.Reason),
			Step:  string(failed.Step),
		})
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "signup errored",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, SignupResponse{
		TransactionID:     res.TransactionID.String(),
		IdentityID:        res.IdentityID,
		ExchangeAccountID: res.ExchangeAccountID,
	})
}

// HandleGetTransaction handles GET /admin/provisioning/transactions/{transactionID}.
func (h *Handler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txnID, err := id.ParseTransactionID(chi.URLParam(r, "transactionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	txn, err := h.service.Transaction(ctx, txnID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, TransactionResponse{
		TransactionID:     txn.ID.String(),
		IdentityID:        txn.IdentityAccountID,
		ExchangeAccountID: txn.ExchangeAccountID,
		State:             string(txn.State),
		Attempts:          txn.Attempts,
		LastError:         txn.LastError,
		CreatedAt:         txn.CreatedAt.Format(timeFormat),
		UpdatedAt:         txn.UpdatedAt.Format(timeFormat),
	})
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func statusForReason(reason models.Reason) int {
	switch reason {
	case models.ReasonDuplicateEmail:
		return http.StatusConflict
	case models.ReasonInvalidInput:
		return http.StatusBadRequest
	case models.ReasonRejectedByCompliance:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}
