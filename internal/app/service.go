package app

import (
	"context"

	"procurement-recon/internal/core"
)

// ApplicationService is the single interface all UI adapters (CLI, Web) call.
// It decouples presentation from business logic. Implementations must contain
// no fmt.Println, no ANSI codes, and no display logic of any kind.
type ApplicationService interface {
	// ImportPurchaseOrder ingests a purchase order and creates zeroed ledger entries for its lots.
	ImportPurchaseOrder(ctx context.Context, req ImportPurchaseOrderRequest) (*PurchaseOrderResult, error)

	// ListPurchaseOrders returns every ingested purchase order.
	ListPurchaseOrders(ctx context.Context) (*PurchaseOrdersResult, error)

	// GetPurchaseOrder returns a purchase order with lot positions and PO-level statuses.
	GetPurchaseOrder(ctx context.Context, poNumber string) (*core.POSummary, error)

	// LotPositions returns the lot-wise ordered, dispatched, invoiced and remaining quantities.
	LotPositions(ctx context.Context, poNumber string) (*LotPositionsResult, error)

	// RemainingToDispatch returns ordered minus dispatched for one lot.
	RemainingToDispatch(ctx context.Context, poLineID, lotNo int) (*RemainingResult, error)

	// RemainingToInvoice returns dispatched minus invoiced for one DC item.
	RemainingToInvoice(ctx context.Context, dcNumber string, lineNo int) (*RemainingResult, error)

	// CreateDC validates and commits a delivery challan. On rejection nothing is written
	// and the returned error carries every rejected item.
	CreateDC(ctx context.Context, req CreateDCRequest) (*DCResult, error)

	// GetDC returns a DC with the invoicing position of each item.
	GetDC(ctx context.Context, dcNumber string) (*core.DCSummary, error)

	// ListDCs returns the DCs of a purchase order. An empty poNumber lists unlinked DCs.
	ListDCs(ctx context.Context, poNumber string) (*DCListResult, error)

	// DeleteDC removes a DC and reverses its dispatch. Refused while invoices link it.
	DeleteDC(ctx context.Context, actor, dcNumber string) error

	// CreateInvoice validates and commits an invoice against one or more DCs of one PO.
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*InvoiceResult, error)

	// GetInvoice returns an invoice with the current invoicing status of its DCs.
	GetInvoice(ctx context.Context, invoiceNumber string) (*core.InvoiceSummary, error)

	// ListInvoices returns every invoice.
	ListInvoices(ctx context.Context) (*InvoiceListResult, error)

	// DeleteInvoice removes an invoice and reverses its claims.
	DeleteInvoice(ctx context.Context, actor, invoiceNumber string) error

	// RequestSchema returns the JSON schema of a write request: "purchase-order", "dc" or "invoice".
	RequestSchema(op string) (any, error)
}
