package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseOrder is an ingested purchase order. Its lines and lots are immutable once
// delivery challans reference them.
type PurchaseOrder struct {
	Number      string    `json:"po_number"`
	SupplierRef string    `json:"supplier_ref"`
	OrderedDate time.Time `json:"ordered_date"`
	Lines       []POLine  `json:"lines"`
	CreatedAt   time.Time `json:"created_at"`
}

// POLine is a single material line on a purchase order. ID is assigned by the store.
type POLine struct {
	ID           int              `json:"id"`
	PONumber     string           `json:"po_number"`
	LineNo       int              `json:"line_no"`
	MaterialCode string           `json:"material_code"`
	Description  string           `json:"description"`
	Unit         string           `json:"unit"`
	HSNCode      string           `json:"hsn_code"`
	TotalOrdered *decimal.Decimal `json:"total_ordered,omitempty"` // optional declared line total
	Lots         []Lot            `json:"lots"`
}

// Lot is a scheduled delivery tranche of a PO line: the finest unit of quantity tracking.
type Lot struct {
	LotNo      int             `json:"lot_no"`
	OrderedQty decimal.Decimal `json:"ordered_qty"`
	DueDate    time.Time       `json:"due_date"`
}

// LotRef identifies a lot by its PO line and lot number.
type LotRef struct {
	POLineID int `json:"po_line_id"`
	LotNo    int `json:"lot_no"`
}

func (r LotRef) String() string {
	return fmt.Sprintf("line %d lot %d", r.POLineID, r.LotNo)
}

// LedgerEntry is the materialized quantity position of one lot.
type LedgerEntry struct {
	Lot           LotRef          `json:"lot"`
	OrderedQty    decimal.Decimal `json:"ordered_qty"`
	DispatchedQty decimal.Decimal `json:"dispatched_qty"`
	InvoicedQty   decimal.Decimal `json:"invoiced_qty"`
}

// RemainingToDispatch returns ordered minus dispatched.
func (e LedgerEntry) RemainingToDispatch() decimal.Decimal {
	return e.OrderedQty.Sub(e.DispatchedQty)
}

// Validate checks the structural rules a purchase order must satisfy before ingestion.
// All problems are reported together.
func (po *PurchaseOrder) Validate() error {
	var rejections []Rejection
	reject := func(ref, reason string) {
		rejections = append(rejections, Rejection{Ref: ref, Reason: reason})
	}

	if po.Number == "" {
		reject("po_number", "PO number is required")
	}
	if len(po.Lines) == 0 {
		reject("lines", "purchase order must have at least one line")
	}

	seenLines := make(map[int]bool, len(po.Lines))
	for _, line := range po.Lines {
		ref := fmt.Sprintf("line %d", line.LineNo)
		if line.LineNo <= 0 {
			reject(ref, "line number must be positive")
		}
		if seenLines[line.LineNo] {
			reject(ref, "duplicate line number")
		}
		seenLines[line.LineNo] = true
		if line.MaterialCode == "" {
			reject(ref, "material code is required")
		}
		if len(line.Lots) == 0 {
			reject(ref, "line must have at least one lot")
		}

		sum := decimal.Zero
		seenLots := make(map[int]bool, len(line.Lots))
		for _, lot := range line.Lots {
			lotRef := fmt.Sprintf("line %d lot %d", line.LineNo, lot.LotNo)
			if seenLots[lot.LotNo] {
				reject(lotRef, "duplicate lot number")
			}
			seenLots[lot.LotNo] = true
			if lot.OrderedQty.IsNegative() {
				rejections = append(rejections, Rejection{
					Ref: lotRef, Reason: "ordered quantity cannot be negative", Requested: lot.OrderedQty,
				})
			}
			sum = sum.Add(lot.OrderedQty)
		}
		if line.TotalOrdered != nil && !line.TotalOrdered.Equal(sum) {
			rejections = append(rejections, Rejection{
				Ref:       ref,
				Reason:    "sum of lot quantities does not match declared line total",
				Requested: *line.TotalOrdered,
				Available: sum,
			})
		}
	}

	if len(rejections) > 0 {
		return &ValidationError{Rejections: rejections}
	}
	return nil
}
