package app

import (
	"github.com/shopspring/decimal"
)

// Quantities and rates decode from JSON strings or numbers. Dates are YYYY-MM-DD.

// ImportPurchaseOrderRequest is the input for ingesting a purchase order.
type ImportPurchaseOrderRequest struct {
	Actor       string              `json:"-"`
	PONumber    string              `json:"po_number" jsonschema_description:"Unique purchase order number"`
	SupplierRef string              `json:"supplier_ref,omitempty" jsonschema_description:"Supplier's own reference for the order"`
	OrderedDate string              `json:"ordered_date,omitempty" jsonschema_description:"Order date, YYYY-MM-DD"`
	Lines       []ImportPOLineInput `json:"lines" jsonschema_description:"Material lines, each split into delivery lots"`
}

// ImportPOLineInput is a single line within an ImportPurchaseOrderRequest.
type ImportPOLineInput struct {
	LineNo       int                `json:"line_no" jsonschema_description:"Line number, unique within the PO"`
	MaterialCode string             `json:"material_code" jsonschema_description:"Material code"`
	Description  string             `json:"description,omitempty"`
	Unit         string             `json:"unit,omitempty" jsonschema_description:"Unit of measure, e.g. NOS, KG"`
	HSNCode      string             `json:"hsn_code,omitempty" jsonschema_description:"HSN classification code"`
	TotalOrdered *decimal.Decimal   `json:"total_ordered,omitempty" jsonschema_description:"Declared line total; must equal the sum of lot quantities"`
	Lots         []ImportPOLotInput `json:"lots" jsonschema_description:"Delivery lots of this line"`
}

// ImportPOLotInput is one delivery lot of an ImportPOLineInput.
type ImportPOLotInput struct {
	LotNo      int             `json:"lot_no" jsonschema_description:"Lot number, unique within the line"`
	OrderedQty decimal.Decimal `json:"ordered_qty" jsonschema_description:"Quantity ordered for this lot"`
	DueDate    string          `json:"due_date,omitempty" jsonschema_description:"Scheduled delivery date, YYYY-MM-DD"`
}

// CreateDCRequest is the input for creating a delivery challan.
type CreateDCRequest struct {
	Actor       string            `json:"-"`
	DCNumber    string            `json:"dc_number,omitempty" jsonschema_description:"DC number; omit to have one assigned"`
	DCDate      string            `json:"dc_date,omitempty" jsonschema_description:"DC date, YYYY-MM-DD; defaults to today"`
	PONumber    string            `json:"po_number,omitempty" jsonschema_description:"Purchase order dispatched against; omit for a DC of manual items only"`
	Consignee   string            `json:"consignee,omitempty"`
	VehicleNo   string            `json:"vehicle_no,omitempty"`
	Transporter string            `json:"transporter,omitempty"`
	Items       []DCItemInputLine `json:"items" jsonschema_description:"Dispatched items"`
}

// DCItemInputLine is a single item within a CreateDCRequest. Items without a lot are manual.
type DCItemInputLine struct {
	POLineID      int             `json:"po_line_id,omitempty" jsonschema_description:"PO line ID of the lot; omit for a manual item"`
	LotNo         int             `json:"lot_no,omitempty" jsonschema_description:"Lot number within the PO line"`
	Description   string          `json:"description,omitempty"`
	Unit          string          `json:"unit,omitempty"`
	DispatchedQty decimal.Decimal `json:"dispatched_qty" jsonschema_description:"Quantity dispatched, greater than zero"`
}

// CreateInvoiceRequest is the input for creating an invoice.
type CreateInvoiceRequest struct {
	Actor         string                 `json:"-"`
	InvoiceNumber string                 `json:"invoice_number,omitempty" jsonschema_description:"Invoice number; omit to have one assigned"`
	InvoiceDate   string                 `json:"invoice_date,omitempty" jsonschema_description:"Invoice date, YYYY-MM-DD; defaults to today"`
	BuyerName     string                 `json:"buyer_name,omitempty"`
	BuyerGSTIN    string                 `json:"buyer_gstin,omitempty"`
	PlaceOfSupply string                 `json:"place_of_supply,omitempty"`
	CGSTRate      decimal.Decimal        `json:"cgst_rate,omitempty" jsonschema_description:"CGST percentage"`
	SGSTRate      decimal.Decimal        `json:"sgst_rate,omitempty" jsonschema_description:"SGST percentage"`
	IGSTRate      decimal.Decimal        `json:"igst_rate,omitempty" jsonschema_description:"IGST percentage"`
	DCNumbers     []string               `json:"dc_numbers" jsonschema_description:"Linked DCs, all on the same purchase order"`
	Items         []InvoiceItemInputLine `json:"items" jsonschema_description:"Quantities claimed against DC items"`
}

// InvoiceItemInputLine is a single item within a CreateInvoiceRequest.
type InvoiceItemInputLine struct {
	DCNumber    string          `json:"dc_number" jsonschema_description:"DC the item belongs to"`
	DCLineNo    int             `json:"dc_line_no" jsonschema_description:"Line number of the item within the DC"`
	InvoicedQty decimal.Decimal `json:"invoiced_qty" jsonschema_description:"Quantity invoiced, greater than zero"`
	Rate        decimal.Decimal `json:"rate" jsonschema_description:"Unit rate"`
}
