package reconcile

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/scanstock/scanstock/internal/ledger"
	"github.com/scanstock/scanstock/internal/platform/httpx"
)

// Handler wires HTTP endpoints for invoice reconciliation.
type Handler struct {
	logger *slog.Logger
	engine *Engine
}

// NewHandler constructs the reconciliation handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/finalize", h.handleFinalize)
	r.Get("/{id}", h.handleGet)
}

type rejection struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var payload Payload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.JSON(w, http.StatusBadRequest, rejection{Error: "invalid JSON body", Details: err.Error()})
		return
	}

	result, err := h.engine.Finalize(r.Context(), payload)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			httpx.JSON(w, http.StatusBadRequest, rejection{Error: "validation failed", Details: verr.Error()})
			return
		}
		h.logger.Error("finalize invoice",
			slog.String("request_id", payload.RequestID),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "invoice could not be processed; safe to retry with the same requestId")
		return
	}

	httpx.JSON(w, http.StatusOK, result)
}

type invoiceResponse struct {
	Invoice ledger.Invoice        `json:"invoice"`
	Images  []ledger.InvoiceImage `json:"images,omitempty"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	invoice, images, err := h.engine.GetInvoice(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "invoice not found")
			return
		}
		h.logger.Error("get invoice", slog.Int64("id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, invoiceResponse{Invoice: invoice, Images: images})
}
