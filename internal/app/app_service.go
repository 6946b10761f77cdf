package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"procurement-recon/internal/core"
)

const dateLayout = "2006-01-02"

type appService struct {
	lifecycle    *core.Lifecycle
	query        *core.Query
	defaultActor string
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(lifecycle *core.Lifecycle, query *core.Query, defaultActor string) ApplicationService {
	return &appService{
		lifecycle:    lifecycle,
		query:        query,
		defaultActor: defaultActor,
	}
}

// ImportPurchaseOrder ingests a purchase order.
func (s *appService) ImportPurchaseOrder(ctx context.Context, req ImportPurchaseOrderRequest) (*PurchaseOrderResult, error) {
	dates := dateParser{}
	po := &core.PurchaseOrder{
		Number:      req.PONumber,
		SupplierRef: req.SupplierRef,
		OrderedDate: dates.parse("ordered_date", req.OrderedDate),
		Lines:       make([]core.POLine, len(req.Lines)),
	}
	for i, l := range req.Lines {
		line := core.POLine{
			LineNo:       l.LineNo,
			MaterialCode: l.MaterialCode,
			Description:  l.Description,
			Unit:         l.Unit,
			HSNCode:      l.HSNCode,
			TotalOrdered: l.TotalOrdered,
			Lots:         make([]core.Lot, len(l.Lots)),
		}
		for j, lot := range l.Lots {
			line.Lots[j] = core.Lot{
				LotNo:      lot.LotNo,
				OrderedQty: lot.OrderedQty,
				DueDate:    dates.parse(fmt.Sprintf("lines[%d].lots[%d].due_date", i, j), lot.DueDate),
			}
		}
		po.Lines[i] = line
	}
	if err := dates.err(); err != nil {
		return nil, err
	}

	saved, err := s.lifecycle.ImportPurchaseOrder(ctx, s.actor(req.Actor), po)
	if err != nil {
		return nil, err
	}
	return &PurchaseOrderResult{PurchaseOrder: saved}, nil
}

// ListPurchaseOrders returns every ingested purchase order.
func (s *appService) ListPurchaseOrders(ctx context.Context) (*PurchaseOrdersResult, error) {
	pos, err := s.query.ListPurchaseOrders(ctx)
	if err != nil {
		return nil, err
	}
	return &PurchaseOrdersResult{PurchaseOrders: pos}, nil
}

// GetPurchaseOrder returns the PO summary.
func (s *appService) GetPurchaseOrder(ctx context.Context, poNumber string) (*core.POSummary, error) {
	return s.query.POSummary(ctx, poNumber)
}

// LotPositions returns lot-wise positions of a purchase order.
func (s *appService) LotPositions(ctx context.Context, poNumber string) (*LotPositionsResult, error) {
	lots, err := s.query.LotPositions(ctx, poNumber)
	if err != nil {
		return nil, err
	}
	return &LotPositionsResult{PONumber: poNumber, Lots: lots}, nil
}

// RemainingToDispatch returns what is left to dispatch on one lot.
func (s *appService) RemainingToDispatch(ctx context.Context, poLineID, lotNo int) (*RemainingResult, error) {
	ref := core.LotRef{POLineID: poLineID, LotNo: lotNo}
	rem, err := s.query.RemainingToDispatch(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &RemainingResult{Ref: ref.String(), Remaining: rem}, nil
}

// RemainingToInvoice returns what is left to invoice on one DC item.
func (s *appService) RemainingToInvoice(ctx context.Context, dcNumber string, lineNo int) (*RemainingResult, error) {
	ref := core.DCItemRef{DCNumber: dcNumber, LineNo: lineNo}
	rem, err := s.query.RemainingToInvoice(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &RemainingResult{Ref: ref.String(), Remaining: rem}, nil
}

// CreateDC creates a delivery challan.
func (s *appService) CreateDC(ctx context.Context, req CreateDCRequest) (*DCResult, error) {
	dates := dateParser{}
	header := core.DCHeader{
		Number:      req.DCNumber,
		Date:        dates.parse("dc_date", req.DCDate),
		PONumber:    req.PONumber,
		Consignee:   req.Consignee,
		VehicleNo:   req.VehicleNo,
		Transporter: req.Transporter,
	}
	if err := dates.err(); err != nil {
		return nil, err
	}

	items := make([]core.DCItemInput, len(req.Items))
	for i, it := range req.Items {
		items[i] = core.DCItemInput{Description: it.Description, Unit: it.Unit, Qty: it.DispatchedQty}
		if it.POLineID != 0 || it.LotNo != 0 {
			items[i].Lot = &core.LotRef{POLineID: it.POLineID, LotNo: it.LotNo}
		}
	}

	receipt, err := s.lifecycle.CreateDC(ctx, s.actor(req.Actor), header, items)
	if err != nil {
		return nil, err
	}
	return &DCResult{DC: receipt.DC, Lots: receipt.Entries, DispatchStatus: receipt.DispatchStatus}, nil
}

// GetDC returns the DC summary.
func (s *appService) GetDC(ctx context.Context, dcNumber string) (*core.DCSummary, error) {
	return s.query.DCSummary(ctx, dcNumber)
}

// ListDCs returns the DCs of a purchase order.
func (s *appService) ListDCs(ctx context.Context, poNumber string) (*DCListResult, error) {
	dcs, err := s.query.ListDCs(ctx, poNumber)
	if err != nil {
		return nil, err
	}
	return &DCListResult{PONumber: poNumber, DCs: dcs}, nil
}

// DeleteDC removes a DC.
func (s *appService) DeleteDC(ctx context.Context, actor, dcNumber string) error {
	return s.lifecycle.DeleteDC(ctx, s.actor(actor), dcNumber)
}

// CreateInvoice creates an invoice.
func (s *appService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*InvoiceResult, error) {
	dates := dateParser{}
	header := core.InvoiceHeader{
		Number:        req.InvoiceNumber,
		Date:          dates.parse("invoice_date", req.InvoiceDate),
		BuyerName:     req.BuyerName,
		BuyerGSTIN:    req.BuyerGSTIN,
		PlaceOfSupply: req.PlaceOfSupply,
		Taxes:         core.TaxRates{CGST: req.CGSTRate, SGST: req.SGSTRate, IGST: req.IGSTRate},
	}
	if err := dates.err(); err != nil {
		return nil, err
	}

	dcNumbers := req.DCNumbers
	if len(dcNumbers) == 0 {
		// Link every DC the items reference, in first-seen order.
		seen := make(map[string]bool)
		for _, it := range req.Items {
			if !seen[it.DCNumber] {
				seen[it.DCNumber] = true
				dcNumbers = append(dcNumbers, it.DCNumber)
			}
		}
	}

	items := make([]core.InvoiceItemInput, len(req.Items))
	for i, it := range req.Items {
		items[i] = core.InvoiceItemInput{
			DCItem: core.DCItemRef{DCNumber: it.DCNumber, LineNo: it.DCLineNo},
			Qty:    it.InvoicedQty,
			Rate:   it.Rate,
		}
	}

	receipt, err := s.lifecycle.CreateInvoice(ctx, s.actor(req.Actor), header, dcNumbers, items)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{
		Invoice:       receipt.Invoice,
		DCStatuses:    receipt.DCStatuses,
		InvoiceStatus: receipt.InvoiceStatus,
	}, nil
}

// GetInvoice returns the invoice summary.
func (s *appService) GetInvoice(ctx context.Context, invoiceNumber string) (*core.InvoiceSummary, error) {
	return s.query.InvoiceSummary(ctx, invoiceNumber)
}

// ListInvoices returns every invoice, newest number last.
func (s *appService) ListInvoices(ctx context.Context) (*InvoiceListResult, error) {
	invoices, err := s.query.ListInvoices(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(invoices, func(i, j int) bool { return invoices[i].Number < invoices[j].Number })
	return &InvoiceListResult{Invoices: invoices}, nil
}

// DeleteInvoice removes an invoice.
func (s *appService) DeleteInvoice(ctx context.Context, actor, invoiceNumber string) error {
	return s.lifecycle.DeleteInvoice(ctx, s.actor(actor), invoiceNumber)
}

func (s *appService) actor(actor string) string {
	if actor == "" {
		return s.defaultActor
	}
	return actor
}

// dateParser parses optional YYYY-MM-DD fields and collects every malformed one.
type dateParser struct {
	rejections []core.Rejection
}

func (p *dateParser) parse(field, value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		p.rejections = append(p.rejections, core.Rejection{Ref: field, Reason: fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", value)})
		return time.Time{}
	}
	return t
}

func (p *dateParser) err() error {
	if len(p.rejections) == 0 {
		return nil
	}
	return &core.ValidationError{Rejections: p.rejections}
}
