package documents

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tendant/simple-accounts/internal/http/features/common"
	"github.com/tendant/simple-accounts/internal/http/middleware"
	"github.com/tendant/simple-accounts/internal/httputil"
	"github.com/tendant/simple-accounts/pkg/domain"
	"github.com/tendant/simple-accounts/pkg/repository"
)

// Handler serves user documents. Each user may only touch their own.
type Handler struct {
	logger    *slog.Logger
	documents repository.DocumentRepository
	clock     clock.Clock
}

// NewHandler creates a new documents handler. A nil clock uses the wall
// clock.
func NewHandler(logger *slog.Logger, documents repository.DocumentRepository, clk clock.Clock) *Handler {
	if clk == nil {
		clk = clock.New()
	}
	return &Handler{logger: logger, documents: documents, clock: clk}
}

// Get returns the caller's document.
// GET /v1/documents/users/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.owner(w, r)
	if !ok {
		return
	}

	doc, err := h.documents.Get(r.Context(), userID)
	if err != nil {
		common.WriteError(w, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, doc)
}

// Put creates or replaces the caller's document. The body is the field
// object.
// PUT /v1/documents/users/{id}
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.documents.Put)
}

// Merge overwrites the given fields of the caller's document.
// PATCH /v1/documents/users/{id}
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.documents.Merge)
}

// Delete removes the caller's document. Deleting a missing document
// succeeds.
// DELETE /v1/documents/users/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.owner(w, r)
	if !ok {
		return
	}

	if err := h.documents.Delete(r.Context(), userID); err != nil {
		common.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type writeOp func(ctx context.Context, userID uuid.UUID, fields map[string]any, now time.Time) (*domain.Document, error)

func (h *Handler) write(w http.ResponseWriter, r *http.Request, op writeOp) {
	userID, ok := h.owner(w, r)
	if !ok {
		return
	}

	var fields map[string]any
	if err := httputil.DecodeJSON(r, &fields); err != nil {
		common.BadRequest(w, err)
		return
	}
	if fields == nil {
		common.BadRequest(w, domain.NewValidationError("fields", "body must be a JSON object"))
		return
	}
	if err := repository.CheckFieldNames(fields); err != nil {
		common.WriteError(w, h.logger, err)
		return
	}

	doc, err := op(r.Context(), userID, fields, h.clock.Now().UTC())
	if err != nil {
		common.WriteError(w, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, doc)
}

// owner parses the {id} path parameter and checks it names the caller.
func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	callerID, ok := middleware.GetUserID(r.Context())
	if !ok {
		common.WriteError(w, h.logger, domain.ErrNotAuthenticated)
		return uuid.Nil, false
	}

	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.BadRequest(w, domain.NewValidationError("id", "invalid user id"))
		return uuid.Nil, false
	}
	if userID != callerID {
		h.logger.Warn("document access denied", "caller", callerID, "target", userID)
		common.WriteError(w, h.logger, domain.ErrPermissionDenied)
		return uuid.Nil, false
	}
	return userID, true
}
