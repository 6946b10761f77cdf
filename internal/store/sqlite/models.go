package sqlite

import (
	"time"

	"procurement-recon/internal/core"

	"github.com/shopspring/decimal"
)

// Quantities and amounts are stored as decimal text so SQLite never rounds them
// through floating point.

type purchaseOrderRow struct {
	PONumber    string `gorm:"primaryKey"`
	SupplierRef string
	OrderedDate *time.Time
	LockVersion int64 `gorm:"not null;default:0"`
	CreatedAt   time.Time
}

func (purchaseOrderRow) TableName() string { return "purchase_orders" }

type poLineRow struct {
	ID           int    `gorm:"primaryKey;autoIncrement"`
	PONumber     string `gorm:"not null;uniqueIndex:idx_po_lines_number"`
	LineNo       int    `gorm:"not null;uniqueIndex:idx_po_lines_number"`
	MaterialCode string `gorm:"not null"`
	Description  string
	Unit         string
	HSNCode      string
	TotalOrdered decimal.NullDecimal `gorm:"type:text"`
}

func (poLineRow) TableName() string { return "po_lines" }

type poLotRow struct {
	POLineID      int             `gorm:"primaryKey;autoIncrement:false"`
	LotNo         int             `gorm:"primaryKey;autoIncrement:false"`
	OrderedQty    decimal.Decimal `gorm:"type:text;not null"`
	DueDate       *time.Time
	DispatchedQty decimal.Decimal `gorm:"type:text;not null"`
	InvoicedQty   decimal.Decimal `gorm:"type:text;not null"`
}

func (poLotRow) TableName() string { return "po_lots" }

type dcRow struct {
	DCNumber    string `gorm:"primaryKey"`
	DCDate      time.Time
	PONumber    string `gorm:"index"` // empty for DCs without a purchase order
	Consignee   string
	VehicleNo   string
	Transporter string
	CreatedBy   string
	CreatedAt   time.Time
}

func (dcRow) TableName() string { return "delivery_challans" }

type dcItemRow struct {
	DCNumber      string `gorm:"primaryKey"`
	LineNo        int    `gorm:"primaryKey;autoIncrement:false"`
	POLineID      *int
	LotNo         *int
	Description   string
	Unit          string
	DispatchedQty decimal.Decimal `gorm:"type:text;not null"`
}

func (dcItemRow) TableName() string { return "dc_items" }

type invoiceRow struct {
	InvoiceNumber string `gorm:"primaryKey"`
	InvoiceDate   time.Time
	BuyerName     string
	BuyerGSTIN    string
	PlaceOfSupply string
	PONumber      string          `gorm:"index"`
	CGSTRate      decimal.Decimal `gorm:"type:text"`
	SGSTRate      decimal.Decimal `gorm:"type:text"`
	IGSTRate      decimal.Decimal `gorm:"type:text"`
	TaxableValue  decimal.Decimal `gorm:"type:text"`
	CGSTAmount    decimal.Decimal `gorm:"type:text"`
	SGSTAmount    decimal.Decimal `gorm:"type:text"`
	IGSTAmount    decimal.Decimal `gorm:"type:text"`
	GrandTotal    decimal.Decimal `gorm:"type:text"`
	CreatedBy     string
	CreatedAt     time.Time
}

func (invoiceRow) TableName() string { return "invoices" }

type invoiceDCRow struct {
	InvoiceNumber string `gorm:"primaryKey"`
	DCNumber      string `gorm:"primaryKey;index"`
	Position      int
}

func (invoiceDCRow) TableName() string { return "invoice_dcs" }

type invoiceItemRow struct {
	InvoiceNumber string `gorm:"primaryKey"`
	LineNo        int    `gorm:"primaryKey;autoIncrement:false"`
	DCNumber      string `gorm:"index:idx_invoice_items_dc_item"`
	DCLineNo      int    `gorm:"index:idx_invoice_items_dc_item"`
	InvoicedQty   decimal.Decimal `gorm:"type:text;not null"`
	Rate          decimal.Decimal `gorm:"type:text;not null"`
}

func (invoiceItemRow) TableName() string { return "invoice_items" }

type sequenceRow struct {
	DocType    string `gorm:"primaryKey"`
	Year       int    `gorm:"primaryKey;autoIncrement:false"`
	LastNumber int64
}

func (sequenceRow) TableName() string { return "document_sequences" }

type scopeLockRow struct {
	Scope   string `gorm:"primaryKey"`
	Version int64
}

func (scopeLockRow) TableName() string { return "scope_locks" }

type eventRow struct {
	ID         uint `gorm:"primaryKey"`
	Action     string
	DocType    string
	Number     string `gorm:"index"`
	PONumber   string
	Actor      string
	OccurredAt time.Time
}

func (eventRow) TableName() string { return "document_events" }

func allModels() []any {
	return []any{
		&purchaseOrderRow{}, &poLineRow{}, &poLotRow{},
		&dcRow{}, &dcItemRow{},
		&invoiceRow{}, &invoiceDCRow{}, &invoiceItemRow{},
		&sequenceRow{}, &scopeLockRow{}, &eventRow{},
	}
}

// ==================== Conversions ====================

func toDCRows(dc *core.DeliveryChallan) (dcRow, []dcItemRow) {
	row := dcRow{
		DCNumber: dc.Number, DCDate: dc.Date, PONumber: dc.PONumber, Consignee: dc.Consignee,
		VehicleNo: dc.VehicleNo, Transporter: dc.Transporter, CreatedBy: dc.CreatedBy, CreatedAt: dc.CreatedAt,
	}
	items := make([]dcItemRow, len(dc.Items))
	for i, it := range dc.Items {
		items[i] = dcItemRow{DCNumber: dc.Number, LineNo: it.LineNo, Description: it.Description, Unit: it.Unit, DispatchedQty: it.DispatchedQty}
		if it.Lot != nil {
			lineID, lotNo := it.Lot.POLineID, it.Lot.LotNo
			items[i].POLineID, items[i].LotNo = &lineID, &lotNo
		}
	}
	return row, items
}

func fromDCRows(row dcRow, items []dcItemRow) *core.DeliveryChallan {
	dc := &core.DeliveryChallan{
		Number: row.DCNumber, Date: row.DCDate, PONumber: row.PONumber, Consignee: row.Consignee,
		VehicleNo: row.VehicleNo, Transporter: row.Transporter, CreatedBy: row.CreatedBy, CreatedAt: row.CreatedAt,
	}
	for _, it := range items {
		dc.Items = append(dc.Items, core.DCItem{
			LineNo: it.LineNo, Lot: lotRef(it.POLineID, it.LotNo), Description: it.Description, Unit: it.Unit, DispatchedQty: it.DispatchedQty,
		})
	}
	return dc
}

func toInvoiceRows(inv *core.Invoice) (invoiceRow, []invoiceDCRow, []invoiceItemRow) {
	row := invoiceRow{
		InvoiceNumber: inv.Number, InvoiceDate: inv.Date, BuyerName: inv.BuyerName, BuyerGSTIN: inv.BuyerGSTIN,
		PlaceOfSupply: inv.PlaceOfSupply, PONumber: inv.PONumber,
		CGSTRate: inv.Taxes.CGST, SGSTRate: inv.Taxes.SGST, IGSTRate: inv.Taxes.IGST,
		TaxableValue: inv.Totals.Taxable, CGSTAmount: inv.Totals.CGST, SGSTAmount: inv.Totals.SGST,
		IGSTAmount: inv.Totals.IGST, GrandTotal: inv.Totals.Grand,
		CreatedBy: inv.CreatedBy, CreatedAt: inv.CreatedAt,
	}
	links := make([]invoiceDCRow, len(inv.DCNumbers))
	for i, n := range inv.DCNumbers {
		links[i] = invoiceDCRow{InvoiceNumber: inv.Number, DCNumber: n, Position: i + 1}
	}
	items := make([]invoiceItemRow, len(inv.Items))
	for i, it := range inv.Items {
		items[i] = invoiceItemRow{
			InvoiceNumber: inv.Number, LineNo: it.LineNo, DCNumber: it.DCItem.DCNumber, DCLineNo: it.DCItem.LineNo,
			InvoicedQty: it.InvoicedQty, Rate: it.Rate,
		}
	}
	return row, links, items
}

func fromInvoiceRows(row invoiceRow, links []invoiceDCRow, items []invoiceItemRow) *core.Invoice {
	inv := &core.Invoice{
		Number: row.InvoiceNumber, Date: row.InvoiceDate, BuyerName: row.BuyerName, BuyerGSTIN: row.BuyerGSTIN,
		PlaceOfSupply: row.PlaceOfSupply, PONumber: row.PONumber,
		Taxes: core.TaxRates{CGST: row.CGSTRate, SGST: row.SGSTRate, IGST: row.IGSTRate},
		Totals: core.InvoiceTotals{
			Taxable: row.TaxableValue, CGST: row.CGSTAmount, SGST: row.SGSTAmount, IGST: row.IGSTAmount, Grand: row.GrandTotal,
		},
		CreatedBy: row.CreatedBy, CreatedAt: row.CreatedAt,
		DCNumbers: make([]string, 0, len(links)),
	}
	for _, l := range links {
		inv.DCNumbers = append(inv.DCNumbers, l.DCNumber)
	}
	for _, it := range items {
		inv.Items = append(inv.Items, core.InvoiceItem{
			LineNo: it.LineNo, DCItem: core.DCItemRef{DCNumber: it.DCNumber, LineNo: it.DCLineNo},
			InvoicedQty: it.InvoicedQty, Rate: it.Rate,
		})
	}
	return inv
}

func lotRef(lineID, lotNo *int) *core.LotRef {
	if lineID == nil || lotNo == nil {
		return nil
	}
	return &core.LotRef{POLineID: *lineID, LotNo: *lotNo}
}
