package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vetor-crm/vetor-crm/internal/access"
	"github.com/vetor-crm/vetor-crm/internal/platform/httpx"
	"github.com/vetor-crm/vetor-crm/internal/shared"
)

// Handler exposes the access-event trail to user administrators.
type Handler struct {
	logger     *slog.Logger
	recorder   *Recorder
	evaluators *access.Evaluators
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, recorder *Recorder, evaluators *access.Evaluators) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, recorder: recorder, evaluators: evaluators}
}

// MountRoutes registers audit routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/events", h.listEvents)
}

type eventResponse struct {
	UserID int64          `json:"userId"`
	Kind   string         `json:"kind"`
	Meta   map[string]any `json:"meta,omitempty"`
	At     time.Time      `json:"at"`
}

// listEvents returns the latest access-control events. Only users allowed to
// view the user-administration module may read the trail.
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.CurrentUserID(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	eval, ok := h.evaluators.Get(userID)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	if !eval.HasPermission(access.ModuleUsuario, access.ActionVisualizar) {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	events, err := h.recorder.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list audit events", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{UserID: ev.UserID, Kind: ev.Kind, Meta: ev.Meta, At: ev.At})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"events": out})
}
