package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tiergate/internal/gate"
	"tiergate/internal/tier"
	id "tiergate/pkg/domain"
	"tiergate/pkg/platform/httputil"
	"tiergate/pkg/requestcontext"
)

// Evaluator is the gate surface exposed over HTTP.
type Evaluator interface {
	Snapshot(ctx context.Context, userID id.UserID) (gate.Snapshot, error)
	Progress(ctx context.Context, userID id.UserID, tierKey string) (gate.Progress, error)
	CanRequestRequirement(ctx context.Context, userID id.UserID, k tier.RequirementKind) (gate.Decision, error)
	HasFeature(ctx context.Context, userID id.UserID, f tier.FeatureFlag) (bool, error)
}

// Catalog lists the tiers.
type Catalog interface {
	TiersInOrder() []tier.Tier
}

type Handler struct {
	evaluator Evaluator
	catalog   Catalog
	logger    *slog.Logger
}

func New(evaluator Evaluator, catalog Catalog, logger *slog.Logger) *Handler {
	return &Handler{evaluator: evaluator, catalog: catalog, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/tiers", h.HandleListTiers)
	r.Get("/users/{userID}/tier", h.HandleSnapshot)
	r.Get("/users/{userID}/tiers/{tierKey}/progress", h.HandleProgress)
	r.Get("/users/{userID}/requirements/{requirement}/eligibility", h.HandleEligibility)
	r.Get("/users/{userID}/features/{feature}", h.HandleFeature)
}

// HandleListTiers handles GET /tiers.
func (h *Handler) HandleListTiers(w http.ResponseWriter, _ *http.Request) {
	tiers := h.catalog.TiersInOrder()
	resp := TiersResponse{Tiers: make([]TierResponse, 0, len(tiers))}
	for _, t := range tiers {
		resp.Tiers = append(resp.Tiers, fromTier(t))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleSnapshot handles GET /users/{userID}/tier.
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	snap, err := h.evaluator.Snapshot(ctx, userID)
	if err != nil {
		h.logFailure(ctx, "tier snapshot failed", userID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromSnapshot(userID.String(), snap))
}

// HandleProgress handles GET /users/{userID}/tiers/{tierKey}/progress.
func (h *Handler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	key := chi.URLParam(r, "tierKey")
	p, err := h.evaluator.Progress(ctx, userID, key)
	if err != nil {
		h.logFailure(ctx, "tier progress failed", userID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromProgress(key, p))
}

// HandleEligibility handles GET /users/{userID}/requirements/{requirement}/eligibility.
func (h *Handler) HandleEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
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
	d, err := h.evaluator.CanRequestRequirement(ctx, userID, k)
	if err != nil {
		h.logFailure(ctx, "eligibility check failed", userID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromDecision(k, d))
}

// HandleFeature handles GET /users/{userID}/features/{feature}.
func (h *Handler) HandleFeature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	f, err := tier.ParseFeatureFlag(chi.URLParam(r, "feature"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	enabled, err := h.evaluator.HasFeature(ctx, userID, f)
	if err != nil {
		h.logFailure(ctx, "feature check failed", userID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FeatureResponse{Feature: string(f), Enabled: enabled})
}

func (h *Handler) logFailure(ctx context.Context, msg string, userID id.UserID, err error) {
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"user_id", userID,
		"error", err,
	)
}
