package app

import (
	"procurement-recon/internal/core"

	"github.com/shopspring/decimal"
)

// PurchaseOrderResult is returned by ImportPurchaseOrder.
type PurchaseOrderResult struct {
	PurchaseOrder *core.PurchaseOrder `json:"purchase_order"`
}

// PurchaseOrdersResult is returned by ListPurchaseOrders.
type PurchaseOrdersResult struct {
	PurchaseOrders []core.PurchaseOrder `json:"purchase_orders"`
}

// LotPositionsResult is returned by LotPositions.
type LotPositionsResult struct {
	PONumber string             `json:"po_number"`
	Lots     []core.LotPosition `json:"lots"`
}

// RemainingResult is returned by RemainingToDispatch and RemainingToInvoice.
type RemainingResult struct {
	Ref       string          `json:"ref"`
	Remaining decimal.Decimal `json:"remaining_qty"`
}

// DCResult is returned by CreateDC. Lots are the post-commit positions of the PO.
type DCResult struct {
	DC             *core.DeliveryChallan `json:"dc"`
	Lots           []core.LedgerEntry    `json:"lots"`
	DispatchStatus core.Status           `json:"po_dispatch_status"`
}

// DCListResult is returned by ListDCs.
type DCListResult struct {
	PONumber string                 `json:"po_number"`
	DCs      []core.DeliveryChallan `json:"dcs"`
}

// InvoiceResult is returned by CreateInvoice.
type InvoiceResult struct {
	Invoice       *core.Invoice          `json:"invoice"`
	DCStatuses    map[string]core.Status `json:"dc_statuses"`
	InvoiceStatus core.Status            `json:"po_invoice_status"`
}

// InvoiceListResult is returned by ListInvoices.
type InvoiceListResult struct {
	Invoices []core.Invoice `json:"invoices"`
}
