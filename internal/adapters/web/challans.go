package web

import (
	"net/http"

	"procurement-recon/internal/app"

	"github.com/go-chi/chi/v5"
)

// apiCreateDC handles POST /api/dcs. A rejected batch returns 422 with every rejection.
func (h *Handler) apiCreateDC(w http.ResponseWriter, r *http.Request) {
	var req app.CreateDCRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeError(w, r, "at least one item is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	req.Actor = actorFromContext(r.Context())

	result, err := h.svc.CreateDC(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiListDCs handles GET /api/purchase-orders/{po}/dcs and GET /api/dcs?po=.
// Without a purchase order it lists unlinked DCs.
func (h *Handler) apiListDCs(w http.ResponseWriter, r *http.Request) {
	po := chi.URLParam(r, "po")
	if po == "" {
		po = r.URL.Query().Get("po")
	}
	result, err := h.svc.ListDCs(r.Context(), po)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiGetDC handles GET /api/dcs/{dc}.
func (h *Handler) apiGetDC(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.GetDC(r.Context(), chi.URLParam(r, "dc"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, summary)
}

// apiDeleteDC handles DELETE /api/dcs/{dc}. Returns 409 while invoices link the DC.
func (h *Handler) apiDeleteDC(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDC(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "dc")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// apiRemainingToInvoice handles GET /api/dcs/{dc}/items/{lineNo}/remaining.
func (h *Handler) apiRemainingToInvoice(w http.ResponseWriter, r *http.Request) {
	lineNo, ok := intParam(w, r, "lineNo")
	if !ok {
		return
	}
	result, err := h.svc.RemainingToInvoice(r.Context(), chi.URLParam(r, "dc"), lineNo)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}
