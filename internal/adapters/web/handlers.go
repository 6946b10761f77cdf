package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"procurement-recon/internal/app"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps write request bodies.
const maxBodyBytes = 1 << 20

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc    app.ApplicationService
	router chi.Router
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, allowedOrigins string) http.Handler {
	h := &Handler{svc: svc}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recoverer)
	r.Use(CORS(allowedOrigins))
	r.Use(Actor)

	r.Get("/api/health", h.health)
	r.Get("/api/schema/{op}", h.apiRequestSchema)

	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(maxBodyBytes))

		// ── Purchase orders ──────────────────────────────────────────────────
		r.Post("/api/purchase-orders", h.apiImportPurchaseOrder)
		r.Get("/api/purchase-orders", h.apiListPurchaseOrders)
		r.Get("/api/purchase-orders/{po}", h.apiGetPurchaseOrder)
		r.Get("/api/purchase-orders/{po}/lots", h.apiLotPositions)
		r.Get("/api/purchase-orders/{po}/dcs", h.apiListDCs)
		r.Get("/api/lots/{lineID}/{lotNo}/remaining", h.apiRemainingToDispatch)

		// ── Delivery challans ────────────────────────────────────────────────
		r.Post("/api/dcs", h.apiCreateDC)
		r.Get("/api/dcs", h.apiListDCs)
		r.Get("/api/dcs/{dc}", h.apiGetDC)
		r.Delete("/api/dcs/{dc}", h.apiDeleteDC)
		r.Get("/api/dcs/{dc}/items/{lineNo}/remaining", h.apiRemainingToInvoice)

		// ── Invoices ─────────────────────────────────────────────────────────
		r.Post("/api/invoices", h.apiCreateInvoice)
		r.Get("/api/invoices", h.apiListInvoices)
		r.Get("/api/invoices/{inv}", h.apiGetInvoice)
		r.Delete("/api/invoices/{inv}", h.apiDeleteInvoice)
	})

	h.router = r
	return r
}

// health returns service status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}
	writeJSON(w, response{Status: "ok"})
}

// intParam parses a positive integer URL parameter, writing 400 on failure.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v <= 0 {
		writeError(w, r, "invalid "+name, "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
