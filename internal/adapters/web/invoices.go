package web

import (
	"net/http"

	"procurement-recon/internal/app"

	"github.com/go-chi/chi/v5"
)

// apiCreateInvoice handles POST /api/invoices.
func (h *Handler) apiCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req app.CreateInvoiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeError(w, r, "at least one item is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	req.Actor = actorFromContext(r.Context())

	result, err := h.svc.CreateInvoice(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiListInvoices handles GET /api/invoices.
func (h *Handler) apiListInvoices(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListInvoices(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiGetInvoice handles GET /api/invoices/{inv}.
func (h *Handler) apiGetInvoice(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.GetInvoice(r.Context(), chi.URLParam(r, "inv"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, summary)
}

// apiDeleteInvoice handles DELETE /api/invoices/{inv}.
func (h *Handler) apiDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteInvoice(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "inv")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
