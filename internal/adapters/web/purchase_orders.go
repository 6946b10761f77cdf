package web

import (
	"net/http"

	"procurement-recon/internal/app"

	"github.com/go-chi/chi/v5"
)

// apiImportPurchaseOrder handles POST /api/purchase-orders.
func (h *Handler) apiImportPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req app.ImportPurchaseOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Actor = actorFromContext(r.Context())

	result, err := h.svc.ImportPurchaseOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result.PurchaseOrder)
}

// apiListPurchaseOrders handles GET /api/purchase-orders.
func (h *Handler) apiListPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListPurchaseOrders(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiGetPurchaseOrder handles GET /api/purchase-orders/{po}.
func (h *Handler) apiGetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.GetPurchaseOrder(r.Context(), chi.URLParam(r, "po"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, summary)
}

// apiLotPositions handles GET /api/purchase-orders/{po}/lots.
func (h *Handler) apiLotPositions(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.LotPositions(r.Context(), chi.URLParam(r, "po"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiRemainingToDispatch handles GET /api/lots/{lineID}/{lotNo}/remaining.
func (h *Handler) apiRemainingToDispatch(w http.ResponseWriter, r *http.Request) {
	lineID, ok := intParam(w, r, "lineID")
	if !ok {
		return
	}
	lotNo, ok := intParam(w, r, "lotNo")
	if !ok {
		return
	}
	result, err := h.svc.RemainingToDispatch(r.Context(), lineID, lotNo)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiRequestSchema handles GET /api/schema/{op}.
func (h *Handler) apiRequestSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.svc.RequestSchema(chi.URLParam(r, "op"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, schema)
}
