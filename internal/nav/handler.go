// Package nav exposes the navigation-time API consumed by the SPA: the
// filtered menu, per-route access checks, and the presence signals that feed
// the session heartbeat.
package nav

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vetor-crm/vetor-crm/internal/access"
	"github.com/vetor-crm/vetor-crm/internal/heartbeat"
	"github.com/vetor-crm/vetor-crm/internal/platform/httpx"
	"github.com/vetor-crm/vetor-crm/internal/presence"
	"github.com/vetor-crm/vetor-crm/internal/shared"
)

// Handler wires the navigation and presence endpoints.
type Handler struct {
	logger     *slog.Logger
	evaluators *access.Evaluators
	table      *access.RouteTable
	menu       []access.MenuSection
	heartbeats *heartbeat.Manager
	presence   *presence.Tracker
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, evaluators *access.Evaluators, table *access.RouteTable, menu []access.MenuSection, heartbeats *heartbeat.Manager, tracker *presence.Tracker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:     logger,
		evaluators: evaluators,
		table:      table,
		menu:       menu,
		heartbeats: heartbeats,
		presence:   tracker,
	}
}

// MountRoutes registers navigation routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/menu", h.showMenu)
	r.Get("/can", h.canAccess)
	r.Post("/location", h.updateLocation)
	r.Post("/visible", h.visible)
	r.Post("/activity", h.activity)
	r.Post("/refresh", h.refreshPermissions)
}

func (h *Handler) currentEvaluator(w http.ResponseWriter, r *http.Request) (*access.Evaluator, int64, bool) {
	userID, ok := shared.CurrentUserID(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return nil, 0, false
	}
	eval, ok := h.evaluators.Get(userID)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return nil, 0, false
	}
	return eval, userID, true
}

// ensureFresh reloads an expired snapshot before a decision is made. Auth
// rejections bubble as 401 so the client forces a logout; transient failures
// degrade to "no access" silently.
func (h *Handler) ensureFresh(w http.ResponseWriter, r *http.Request, eval *access.Evaluator) bool {
	if _, fresh := eval.Snapshot(); fresh {
		return true
	}
	if err := eval.Refresh(r.Context()); err != nil {
		if errors.Is(err, shared.ErrAuth) {
			httpx.RespondError(w, err)
			return false
		}
		h.logger.Warn("permission refresh failed",
			slog.Int64("user_id", eval.UserID()),
			slog.Any("error", err))
	}
	return true
}

func (h *Handler) showMenu(w http.ResponseWriter, r *http.Request) {
	eval, _, ok := h.currentEvaluator(w, r)
	if !ok {
		return
	}
	if !h.ensureFresh(w, r, eval) {
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"sections": access.FilterMenu(eval, h.menu),
	})
}

func (h *Handler) canAccess(w http.ResponseWriter, r *http.Request) {
	eval, _, ok := h.currentEvaluator(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "path query parameter required")
		return
	}
	if !h.ensureFresh(w, r, eval) {
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": h.table.CanAccess(eval, path)})
}

type locationRequest struct {
	PaginaAtual string `json:"paginaAtual"`
}

func (h *Handler) updateLocation(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := h.currentEvaluator(w, r)
	if !ok {
		return
	}
	var req locationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.PaginaAtual == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "paginaAtual required")
		return
	}
	if hb, ok := h.heartbeats.Get(userID); ok {
		hb.UpdateLocation(req.PaginaAtual)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) visible(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := h.currentEvaluator(w, r)
	if !ok {
		return
	}
	if hb, ok := h.heartbeats.Get(userID); ok {
		hb.OnVisible(r.Context())
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := h.currentEvaluator(w, r)
	if !ok {
		return
	}
	if hb, ok := h.heartbeats.Get(userID); ok {
		hb.OnActivity()
	}
	if h.presence != nil {
		if err := h.presence.MarkActive(r.Context(), userID); err != nil {
			h.logger.Warn("presence mark active", slog.Any("error", err))
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) refreshPermissions(w http.ResponseWriter, r *http.Request) {
	eval, _, ok := h.currentEvaluator(w, r)
	if !ok {
		return
	}
	if err := eval.Refresh(r.Context()); err != nil {
		if errors.Is(err, shared.ErrAuth) {
			httpx.RespondError(w, err)
			return
		}
		// Degrades to fail-closed decisions until the next attempt.
		h.logger.Warn("explicit permission refresh failed", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}
