package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DispatchRequest is one proposed DC item. A nil Lot is a manual item.
type DispatchRequest struct {
	Lot *LotRef
	Qty decimal.Decimal
}

// InvoiceClaim is one proposed invoice item.
type InvoiceClaim struct {
	Item DCItemRef
	Qty  decimal.Decimal
}

// Engine validates whole batches against a Book before anything is applied.
// Every item is checked; the returned ValidationError lists all failures.
type Engine struct{}

// NewEngine returns a reconciliation engine.
func NewEngine() *Engine { return &Engine{} }

// ValidateDispatchBatch checks that every lot exists under poNumber, every quantity is
// positive, and that no lot is dispatched beyond its remaining quantity. Quantities for the
// same lot within the batch are accumulated.
func (e *Engine) ValidateDispatchBatch(book *Book, poNumber string, items []DispatchRequest) error {
	var rejections []Rejection
	if len(items) == 0 {
		rejections = append(rejections, Rejection{Ref: "items", Reason: "DC must have at least one item"})
	}

	pending := make(map[LotRef]decimal.Decimal)
	for i, item := range items {
		ref := fmt.Sprintf("item %d", i+1)
		if item.Lot != nil {
			ref = fmt.Sprintf("item %d (%s)", i+1, item.Lot)
		}

		if !item.Qty.IsPositive() {
			rejections = append(rejections, Rejection{Ref: ref, Reason: "quantity must be positive", Requested: item.Qty})
			continue
		}
		if item.Lot == nil {
			continue
		}
		if poNumber == UnlinkedScope {
			rejections = append(rejections, Rejection{Ref: ref, Reason: "lot reference requires a purchase order", Requested: item.Qty})
			continue
		}

		entry, ok := book.Entries[*item.Lot]
		if !ok || book.Scope != poNumber {
			rejections = append(rejections, Rejection{
				Ref: ref, Reason: fmt.Sprintf("lot not found under purchase order %s", poNumber), Requested: item.Qty,
			})
			continue
		}

		available := entry.RemainingToDispatch().Sub(pending[*item.Lot])
		if item.Qty.GreaterThan(available) {
			rejections = append(rejections, Rejection{
				Ref:       ref,
				Reason:    "quantity exceeds remaining to dispatch",
				Requested: item.Qty,
				Available: decimal.Max(available, decimal.Zero),
			})
			continue
		}
		pending[*item.Lot] = pending[*item.Lot].Add(item.Qty)
	}

	if len(rejections) > 0 {
		return &ValidationError{Rejections: rejections}
	}
	return nil
}

// ValidateInvoiceBatch checks that every claimed DC item exists, is live, belongs to one of
// dcNumbers, and that no item is invoiced beyond its remaining quantity.
func (e *Engine) ValidateInvoiceBatch(book *Book, dcNumbers []string, items []InvoiceClaim) error {
	var rejections []Rejection
	if len(dcNumbers) == 0 {
		rejections = append(rejections, Rejection{Ref: "dc_numbers", Reason: "invoice must reference at least one DC"})
	}
	if len(items) == 0 {
		rejections = append(rejections, Rejection{Ref: "items", Reason: "invoice must have at least one item"})
	}

	liveDCs := make(map[string]bool)
	for ref := range book.Items {
		liveDCs[ref.DCNumber] = true
	}
	linked := make(map[string]bool, len(dcNumbers))
	for _, n := range dcNumbers {
		if linked[n] {
			continue
		}
		linked[n] = true
		if !liveDCs[n] {
			rejections = append(rejections, Rejection{Ref: "DC " + n, Reason: "DC not found"})
		}
	}

	pending := make(map[DCItemRef]decimal.Decimal)
	for i, claim := range items {
		ref := fmt.Sprintf("item %d (DC %s)", i+1, claim.Item)

		if !claim.Qty.IsPositive() {
			rejections = append(rejections, Rejection{Ref: ref, Reason: "quantity must be positive", Requested: claim.Qty})
			continue
		}
		if !linked[claim.Item.DCNumber] {
			rejections = append(rejections, Rejection{Ref: ref, Reason: "DC item does not belong to the linked DCs", Requested: claim.Qty})
			continue
		}
		pos, ok := book.Items[claim.Item]
		if !ok {
			rejections = append(rejections, Rejection{Ref: ref, Reason: "DC item not found", Requested: claim.Qty})
			continue
		}

		available := pos.RemainingToInvoice().Sub(pending[claim.Item])
		if claim.Qty.GreaterThan(available) {
			rejections = append(rejections, Rejection{
				Ref:       ref,
				Reason:    "quantity exceeds remaining to invoice",
				Requested: claim.Qty,
				Available: decimal.Max(available, decimal.Zero),
			})
			continue
		}
		pending[claim.Item] = pending[claim.Item].Add(claim.Qty)
	}

	if len(rejections) > 0 {
		return &ValidationError{Rejections: rejections}
	}
	return nil
}

// Progress is the three-state rule: nothing done is PENDING, done equal to target is
// COMPLETE, anything in between is PARTIAL.
func Progress(done, target decimal.Decimal) Status {
	switch {
	case done.IsZero():
		return StatusPending
	case done.Equal(target):
		return StatusComplete
	default:
		return StatusPartial
	}
}

// LotStatus compares dispatched with ordered.
func LotStatus(e LedgerEntry) Status {
	return Progress(e.DispatchedQty, e.OrderedQty)
}

// LotInvoiceStatus compares invoiced with dispatched.
func LotInvoiceStatus(e LedgerEntry) Status {
	return Progress(e.InvoicedQty, e.DispatchedQty)
}

// DCInvoiceStatus reports whether a DC's items have been invoiced.
func DCInvoiceStatus(items []ItemPosition) Status {
	dispatched, invoiced := decimal.Zero, decimal.Zero
	for _, it := range items {
		dispatched = dispatched.Add(it.DispatchedQty)
		invoiced = invoiced.Add(it.InvoicedQty)
	}
	return Progress(invoiced, dispatched)
}

// PODispatchStatus reports whether a purchase order has been fully dispatched.
func PODispatchStatus(entries []LedgerEntry) Status {
	ordered, dispatched := decimal.Zero, decimal.Zero
	for _, e := range entries {
		ordered = ordered.Add(e.OrderedQty)
		dispatched = dispatched.Add(e.DispatchedQty)
	}
	return Progress(dispatched, ordered)
}

// POInvoiceStatus reports whether everything dispatched against a purchase order is invoiced.
func POInvoiceStatus(entries []LedgerEntry) Status {
	dispatched, invoiced := decimal.Zero, decimal.Zero
	for _, e := range entries {
		dispatched = dispatched.Add(e.DispatchedQty)
		invoiced = invoiced.Add(e.InvoicedQty)
	}
	return Progress(invoiced, dispatched)
}
