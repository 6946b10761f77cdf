package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// LotPosition is the display view of one lot.
type LotPosition struct {
	POLineID            int             `json:"po_line_id"`
	LineNo              int             `json:"line_no"`
	MaterialCode        string          `json:"material_code"`
	Description         string          `json:"description"`
	Unit                string          `json:"unit"`
	HSNCode             string          `json:"hsn_code"`
	LotNo               int             `json:"lot_no"`
	DueDate             time.Time       `json:"due_date"`
	OrderedQty          decimal.Decimal `json:"ordered_qty"`
	DispatchedQty       decimal.Decimal `json:"dispatched_qty"`
	InvoicedQty         decimal.Decimal `json:"invoiced_qty"`
	RemainingToDispatch decimal.Decimal `json:"remaining_to_dispatch"`
	RemainingToInvoice  decimal.Decimal `json:"remaining_to_invoice"`
	DispatchStatus      Status          `json:"dispatch_status"`
	InvoiceStatus       Status          `json:"invoice_status"`
}

// POSummary is a purchase order with its lot positions and derived statuses.
type POSummary struct {
	PO             *PurchaseOrder  `json:"purchase_order"`
	Lots           []LotPosition   `json:"lots"`
	OrderedQty     decimal.Decimal `json:"ordered_qty"`
	DispatchedQty  decimal.Decimal `json:"dispatched_qty"`
	InvoicedQty    decimal.Decimal `json:"invoiced_qty"`
	DispatchStatus Status          `json:"dispatch_status"`
	InvoiceStatus  Status          `json:"invoice_status"`
}

// DCItemPosition is one DC item with its invoicing position.
type DCItemPosition struct {
	DCItem
	InvoicedQty        decimal.Decimal `json:"invoiced_qty"`
	RemainingToInvoice decimal.Decimal `json:"remaining_to_invoice"`
	Status             Status          `json:"status"`
}

// DCSummary is a DC with per-item invoicing positions.
type DCSummary struct {
	DC            *DeliveryChallan `json:"dc"`
	Items         []DCItemPosition `json:"items"`
	InvoiceStatus Status           `json:"invoice_status"`
	Invoices      []string         `json:"invoices"`
}

// InvoiceSummary is an invoice with the invoicing status of its DCs and of its PO.
type InvoiceSummary struct {
	Invoice       *Invoice          `json:"invoice"`
	DCStatuses    map[string]Status `json:"dc_statuses"`
	InvoiceStatus Status            `json:"po_invoice_status"`
}

// AuditFinding is a scope whose ledger disagrees with its documents.
type AuditFinding struct {
	Scope  string `json:"scope"`
	Detail string `json:"detail"`
}

// Query is the read-only façade consumed by UI and reporting collaborators. Every
// projection is built from one consistent book snapshot.
type Query struct {
	store Reader
}

// NewQuery constructs a Query over r.
func NewQuery(r Reader) *Query {
	return &Query{store: r}
}

// RemainingToDispatch returns ordered minus dispatched for the lot.
func (q *Query) RemainingToDispatch(ctx context.Context, ref LotRef) (decimal.Decimal, error) {
	po, err := q.store.POForLine(ctx, ref.POLineID)
	if err != nil {
		return decimal.Zero, err
	}
	book, err := q.store.LoadBook(ctx, po)
	if err != nil {
		return decimal.Zero, err
	}
	return NewQuantityLedger(book).RemainingToDispatch(ref)
}

// RemainingToInvoice returns the DC item's dispatched quantity not yet invoiced.
func (q *Query) RemainingToInvoice(ctx context.Context, ref DCItemRef) (decimal.Decimal, error) {
	dc, err := q.store.GetDC(ctx, ref.DCNumber)
	if err != nil {
		return decimal.Zero, err
	}
	book, err := q.store.LoadBook(ctx, dc.PONumber)
	if err != nil {
		return decimal.Zero, err
	}
	return NewQuantityLedger(book).RemainingToInvoice(ref)
}

// LotPositions returns every lot of the purchase order with remaining quantities.
func (q *Query) LotPositions(ctx context.Context, poNumber string) ([]LotPosition, error) {
	summary, err := q.POSummary(ctx, poNumber)
	if err != nil {
		return nil, err
	}
	return summary.Lots, nil
}

// POSummary returns the purchase order with lot positions and PO-level statuses.
func (q *Query) POSummary(ctx context.Context, poNumber string) (*POSummary, error) {
	if poNumber == UnlinkedScope {
		return nil, fmt.Errorf("purchase order number is required: %w", ErrNotFound)
	}
	book, err := q.store.LoadBook(ctx, poNumber)
	if err != nil {
		return nil, err
	}
	if book.PO == nil {
		return nil, fmt.Errorf("purchase order %s: %w", poNumber, ErrNotFound)
	}

	s := &POSummary{PO: book.PO}
	var entries []LedgerEntry
	for _, line := range book.PO.Lines {
		for _, lot := range line.Lots {
			ref := LotRef{POLineID: line.ID, LotNo: lot.LotNo}
			e, ok := book.Entries[ref]
			if !ok {
				return nil, fmt.Errorf("ledger entry for %s: %w", ref, ErrNotFound)
			}
			entries = append(entries, *e)
			s.Lots = append(s.Lots, LotPosition{
				POLineID:            line.ID,
				LineNo:              line.LineNo,
				MaterialCode:        line.MaterialCode,
				Description:         line.Description,
				Unit:                line.Unit,
				HSNCode:             line.HSNCode,
				LotNo:               lot.LotNo,
				DueDate:             lot.DueDate,
				OrderedQty:          e.OrderedQty,
				DispatchedQty:       e.DispatchedQty,
				InvoicedQty:         e.InvoicedQty,
				RemainingToDispatch: e.RemainingToDispatch(),
				RemainingToInvoice:  e.DispatchedQty.Sub(e.InvoicedQty),
				DispatchStatus:      LotStatus(*e),
				InvoiceStatus:       LotInvoiceStatus(*e),
			})
			s.OrderedQty = s.OrderedQty.Add(e.OrderedQty)
			s.DispatchedQty = s.DispatchedQty.Add(e.DispatchedQty)
			s.InvoicedQty = s.InvoicedQty.Add(e.InvoicedQty)
		}
	}
	s.DispatchStatus = PODispatchStatus(entries)
	s.InvoiceStatus = POInvoiceStatus(entries)
	return s, nil
}

// DCSummary returns a DC with the invoicing position of each item.
func (q *Query) DCSummary(ctx context.Context, dcNumber string) (*DCSummary, error) {
	dc, err := q.store.GetDC(ctx, dcNumber)
	if err != nil {
		return nil, err
	}
	book, err := q.store.LoadBook(ctx, dc.PONumber)
	if err != nil {
		return nil, err
	}

	s := &DCSummary{DC: dc, Invoices: []string{}}
	var positions []ItemPosition
	for _, it := range dc.Items {
		pos, ok := book.Items[dc.Ref(it.LineNo)]
		if !ok {
			// Deleted between the two reads.
			return nil, fmt.Errorf("DC %s: %w", dcNumber, ErrNotFound)
		}
		positions = append(positions, *pos)
		s.Items = append(s.Items, DCItemPosition{
			DCItem:             it,
			InvoicedQty:        pos.InvoicedQty,
			RemainingToInvoice: pos.RemainingToInvoice(),
			Status:             Progress(pos.InvoicedQty, pos.DispatchedQty),
		})
	}
	s.InvoiceStatus = DCInvoiceStatus(positions)

	invoices, err := q.store.ListInvoices(ctx)
	if err != nil {
		return nil, err
	}
	for _, inv := range invoices {
		for _, n := range inv.DCNumbers {
			if n == dcNumber {
				s.Invoices = append(s.Invoices, inv.Number)
				break
			}
		}
	}
	sort.Strings(s.Invoices)
	return s, nil
}

// Invoice returns one invoice.
func (q *Query) Invoice(ctx context.Context, invoiceNumber string) (*Invoice, error) {
	return q.store.GetInvoice(ctx, invoiceNumber)
}

// InvoiceSummary returns an invoice with the current invoicing status of each linked DC.
func (q *Query) InvoiceSummary(ctx context.Context, invoiceNumber string) (*InvoiceSummary, error) {
	inv, err := q.store.GetInvoice(ctx, invoiceNumber)
	if err != nil {
		return nil, err
	}
	book, err := q.store.LoadBook(ctx, inv.PONumber)
	if err != nil {
		return nil, err
	}
	return &InvoiceSummary{
		Invoice:       inv,
		DCStatuses:    dcStatuses(book, inv.DCNumbers),
		InvoiceStatus: POInvoiceStatus(book.SortedEntries()),
	}, nil
}

// ListPurchaseOrders returns all ingested purchase orders.
func (q *Query) ListPurchaseOrders(ctx context.Context) ([]PurchaseOrder, error) {
	return q.store.ListPurchaseOrders(ctx)
}

// ListDCs returns the DCs of a purchase order.
func (q *Query) ListDCs(ctx context.Context, poNumber string) ([]DeliveryChallan, error) {
	return q.store.ListDCs(ctx, poNumber)
}

// ListInvoices returns all invoices.
func (q *Query) ListInvoices(ctx context.Context) ([]Invoice, error) {
	return q.store.ListInvoices(ctx)
}

// AuditLedger re-verifies the ledger of every purchase order and of unlinked DCs against
// their documents. An empty result means the stored ledger is consistent.
func (q *Query) AuditLedger(ctx context.Context) ([]AuditFinding, error) {
	pos, err := q.store.ListPurchaseOrders(ctx)
	if err != nil {
		return nil, err
	}
	scopes := make([]string, 0, len(pos)+1)
	for _, po := range pos {
		scopes = append(scopes, po.Number)
	}
	scopes = append(scopes, UnlinkedScope)

	var findings []AuditFinding
	for _, scope := range scopes {
		book, err := q.store.LoadBook(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("load ledger for %q: %w", scope, err)
		}
		if err := NewQuantityLedger(book).Audit(); err != nil {
			findings = append(findings, AuditFinding{Scope: scope, Detail: err.Error()})
		}
	}
	return findings, nil
}
