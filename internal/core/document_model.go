package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the three-state fulfilment status shared by lots, DCs and POs.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusPartial  Status = "PARTIAL"
	StatusComplete Status = "COMPLETE"
)

// Document types used for numbering and audit events.
const (
	DocTypeDC      = "DC"
	DocTypeInvoice = "INV"
	DocTypePO      = "PO"
)

// DCItemRef identifies a DC item by its DC number and line number.
type DCItemRef struct {
	DCNumber string `json:"dc_number"`
	LineNo   int    `json:"line_no"`
}

func (r DCItemRef) String() string {
	return fmt.Sprintf("%s/%d", r.DCNumber, r.LineNo)
}

// DeliveryChallan records goods dispatched, optionally against one purchase order.
// An empty PONumber marks an unlinked DC whose items are all manual.
type DeliveryChallan struct {
	Number      string    `json:"dc_number"`
	Date        time.Time `json:"date"`
	PONumber    string    `json:"po_number,omitempty"`
	Consignee   string    `json:"consignee"`
	VehicleNo   string    `json:"vehicle_no,omitempty"`
	Transporter string    `json:"transporter,omitempty"`
	Items       []DCItem  `json:"items"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// DCItem is one dispatched line. A nil Lot marks a manual item outside lot tracking.
type DCItem struct {
	LineNo        int             `json:"line_no"`
	Lot           *LotRef         `json:"lot,omitempty"`
	Description   string          `json:"description,omitempty"`
	Unit          string          `json:"unit,omitempty"`
	DispatchedQty decimal.Decimal `json:"dispatched_qty"`
}

// Ref returns the item's reference within its DC.
func (dc *DeliveryChallan) Ref(lineNo int) DCItemRef {
	return DCItemRef{DCNumber: dc.Number, LineNo: lineNo}
}

// TaxRates are percentage rates supplied by the caller for the invoice.
type TaxRates struct {
	CGST decimal.Decimal `json:"cgst_rate"`
	SGST decimal.Decimal `json:"sgst_rate"`
	IGST decimal.Decimal `json:"igst_rate"`
}

// InvoiceTotals are derived from items and tax rates.
type InvoiceTotals struct {
	Taxable decimal.Decimal `json:"taxable"`
	CGST    decimal.Decimal `json:"cgst"`
	SGST    decimal.Decimal `json:"sgst"`
	IGST    decimal.Decimal `json:"igst"`
	Grand   decimal.Decimal `json:"grand"`
}

// Invoice bills quantities already dispatched on one or more DCs of the same PO.
type Invoice struct {
	Number        string        `json:"invoice_number"`
	Date          time.Time     `json:"date"`
	BuyerName     string        `json:"buyer_name"`
	BuyerGSTIN    string        `json:"buyer_gstin,omitempty"`
	PlaceOfSupply string        `json:"place_of_supply,omitempty"`
	PONumber      string        `json:"po_number,omitempty"`
	DCNumbers     []string      `json:"dc_numbers"`
	Items         []InvoiceItem `json:"items"`
	Taxes         TaxRates      `json:"taxes"`
	Totals        InvoiceTotals `json:"totals"`
	CreatedBy     string        `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`
}

// InvoiceItem claims a quantity against one DC item.
type InvoiceItem struct {
	LineNo      int             `json:"line_no"`
	DCItem      DCItemRef       `json:"dc_item"`
	InvoicedQty decimal.Decimal `json:"invoiced_qty"`
	Rate        decimal.Decimal `json:"rate"`
}

var hundred = decimal.NewFromInt(100)

// ComputeTotals derives taxable value and tax amounts, rounded to two places.
func ComputeTotals(items []InvoiceItem, taxes TaxRates) InvoiceTotals {
	taxable := decimal.Zero
	for _, it := range items {
		taxable = taxable.Add(it.InvoicedQty.Mul(it.Rate))
	}
	taxable = taxable.Round(2)
	t := InvoiceTotals{
		Taxable: taxable,
		CGST:    taxable.Mul(taxes.CGST).Div(hundred).Round(2),
		SGST:    taxable.Mul(taxes.SGST).Div(hundred).Round(2),
		IGST:    taxable.Mul(taxes.IGST).Div(hundred).Round(2),
	}
	t.Grand = t.Taxable.Add(t.CGST).Add(t.SGST).Add(t.IGST)
	return t
}

// DocumentEvent is an audit record written in the same transaction as the change it records.
type DocumentEvent struct {
	Action   string    `json:"action"` // CREATE, DELETE, IMPORT
	DocType  string    `json:"doc_type"`
	Number   string    `json:"number"`
	PONumber string    `json:"po_number,omitempty"`
	Actor    string    `json:"actor"`
	At       time.Time `json:"at"`
}
