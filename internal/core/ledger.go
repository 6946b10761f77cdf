package core

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// UnlinkedScope is the lock and book scope of DCs that reference no purchase order.
const UnlinkedScope = ""

// ItemPosition is the dispatched and invoiced quantity of one live DC item.
// Lot is nil for manual items, which bypass lot tracking.
type ItemPosition struct {
	Ref           DCItemRef
	Lot           *LotRef
	DispatchedQty decimal.Decimal
	InvoicedQty   decimal.Decimal
}

// RemainingToInvoice returns dispatched minus already invoiced.
func (p ItemPosition) RemainingToInvoice() decimal.Decimal {
	return p.DispatchedQty.Sub(p.InvoicedQty)
}

// Book is the working set of one scope (one purchase order, or the unlinked scope):
// the materialized lot entries and every live DC item with its invoiced quantity.
// Stores load a Book inside a transaction; the ledger mutates it; stores persist it.
type Book struct {
	Scope   string
	PO      *PurchaseOrder
	Entries map[LotRef]*LedgerEntry
	Items   map[DCItemRef]*ItemPosition
}

// NewBook returns an empty book for scope.
func NewBook(scope string, po *PurchaseOrder) *Book {
	return &Book{
		Scope:   scope,
		PO:      po,
		Entries: make(map[LotRef]*LedgerEntry),
		Items:   make(map[DCItemRef]*ItemPosition),
	}
}

// SortedEntries returns the lot entries ordered by line and lot number.
func (b *Book) SortedEntries() []LedgerEntry {
	out := make([]LedgerEntry, 0, len(b.Entries))
	for _, e := range b.Entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Lot.POLineID != out[j].Lot.POLineID {
			return out[i].Lot.POLineID < out[j].Lot.POLineID
		}
		return out[i].Lot.LotNo < out[j].Lot.LotNo
	})
	return out
}

// QuantityLedger holds the authoritative per-lot counters of a Book and exposes the
// read-modify-write operations on them. Changes are staged in the Book; they become
// durable only when the Lifecycle commits the enclosing store transaction.
type QuantityLedger struct {
	book    *Book
	changed map[LotRef]bool
}

// NewQuantityLedger wraps book.
func NewQuantityLedger(book *Book) *QuantityLedger {
	return &QuantityLedger{book: book, changed: make(map[LotRef]bool)}
}

// Book returns the underlying book.
func (l *QuantityLedger) Book() *Book { return l.book }

func (l *QuantityLedger) entry(ref LotRef) (*LedgerEntry, error) {
	e, ok := l.book.Entries[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return e, nil
}

func (l *QuantityLedger) item(ref DCItemRef) (*ItemPosition, error) {
	it, ok := l.book.Items[ref]
	if !ok {
		return nil, fmt.Errorf("DC item %s: %w", ref, ErrNotFound)
	}
	return it, nil
}

// RemainingToDispatch returns ordered minus dispatched for the lot.
func (l *QuantityLedger) RemainingToDispatch(ref LotRef) (decimal.Decimal, error) {
	e, err := l.entry(ref)
	if err != nil {
		return decimal.Zero, err
	}
	return e.RemainingToDispatch(), nil
}

// RemainingToInvoice returns the item's dispatched quantity minus what invoices already claim.
func (l *QuantityLedger) RemainingToInvoice(ref DCItemRef) (decimal.Decimal, error) {
	it, err := l.item(ref)
	if err != nil {
		return decimal.Zero, err
	}
	return it.RemainingToInvoice(), nil
}

// ApplyDispatch increases the lot's dispatched quantity.
func (l *QuantityLedger) ApplyDispatch(ref LotRef, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%s: %w", ref, ErrInvalidQuantity)
	}
	e, err := l.entry(ref)
	if err != nil {
		return err
	}
	next := e.DispatchedQty.Add(qty)
	if next.GreaterThan(e.OrderedQty) {
		return fmt.Errorf("%s: dispatching %s with %s remaining: %w",
			ref, qty, e.RemainingToDispatch(), ErrOverDispatch)
	}
	e.DispatchedQty = next
	l.changed[ref] = true
	return nil
}

// ReverseDispatch decreases the lot's dispatched quantity. Going below zero, or below the
// lot's invoiced quantity, can only happen if bookkeeping is already inconsistent.
func (l *QuantityLedger) ReverseDispatch(ref LotRef, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%s: %w", ref, ErrInvalidQuantity)
	}
	e, err := l.entry(ref)
	if err != nil {
		return err
	}
	next := e.DispatchedQty.Sub(qty)
	if next.IsNegative() {
		return &InvariantViolation{Lot: ref, Detail: fmt.Sprintf("reversing %s leaves dispatched %s", qty, next)}
	}
	if next.LessThan(e.InvoicedQty) {
		return &InvariantViolation{Lot: ref, Detail: fmt.Sprintf("reversing %s leaves dispatched %s below invoiced %s", qty, next, e.InvoicedQty)}
	}
	e.DispatchedQty = next
	l.changed[ref] = true
	return nil
}

// TrackItem registers a new DC item and, for lot-linked items, applies its dispatch.
func (l *QuantityLedger) TrackItem(ref DCItemRef, lot *LotRef, qty decimal.Decimal) error {
	if _, exists := l.book.Items[ref]; exists {
		return fmt.Errorf("DC item %s already recorded: %w", ref, ErrConflict)
	}
	if lot != nil {
		if err := l.ApplyDispatch(*lot, qty); err != nil {
			return err
		}
	} else if !qty.IsPositive() {
		return fmt.Errorf("DC item %s: %w", ref, ErrInvalidQuantity)
	}
	var lotCopy *LotRef
	if lot != nil {
		lr := *lot
		lotCopy = &lr
	}
	l.book.Items[ref] = &ItemPosition{Ref: ref, Lot: lotCopy, DispatchedQty: qty, InvoicedQty: decimal.Zero}
	return nil
}

// UntrackItem removes a DC item and reverses its dispatch. Items still claimed by an
// invoice cannot be removed.
func (l *QuantityLedger) UntrackItem(ref DCItemRef) error {
	it, err := l.item(ref)
	if err != nil {
		return err
	}
	if !it.InvoicedQty.IsZero() {
		return fmt.Errorf("DC item %s is invoiced (%s): %w", ref, it.InvoicedQty, ErrConflict)
	}
	if it.Lot != nil {
		if err := l.ReverseDispatch(*it.Lot, it.DispatchedQty); err != nil {
			return err
		}
	}
	delete(l.book.Items, ref)
	return nil
}

// ApplyInvoice increases the invoiced quantity of a DC item and of its lot.
func (l *QuantityLedger) ApplyInvoice(ref DCItemRef, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("DC item %s: %w", ref, ErrInvalidQuantity)
	}
	it, err := l.item(ref)
	if err != nil {
		return err
	}
	if it.InvoicedQty.Add(qty).GreaterThan(it.DispatchedQty) {
		return fmt.Errorf("DC item %s: invoicing %s with %s remaining: %w",
			ref, qty, it.RemainingToInvoice(), ErrOverInvoice)
	}
	if it.Lot != nil {
		e, err := l.entry(*it.Lot)
		if err != nil {
			return err
		}
		next := e.InvoicedQty.Add(qty)
		if next.GreaterThan(e.DispatchedQty) {
			return &InvariantViolation{Lot: *it.Lot, Detail: fmt.Sprintf("invoiced %s would exceed dispatched %s", next, e.DispatchedQty)}
		}
		e.InvoicedQty = next
		l.changed[*it.Lot] = true
	}
	it.InvoicedQty = it.InvoicedQty.Add(qty)
	return nil
}

// ReverseInvoice decreases the invoiced quantity of a DC item and of its lot.
func (l *QuantityLedger) ReverseInvoice(ref DCItemRef, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("DC item %s: %w", ref, ErrInvalidQuantity)
	}
	it, err := l.item(ref)
	if err != nil {
		// An invoice may only reference live DC items, so its item must be in the book.
		return &InvariantViolation{Detail: fmt.Sprintf("invoiced DC item %s is missing", ref)}
	}
	next := it.InvoicedQty.Sub(qty)
	if next.IsNegative() {
		lot := LotRef{}
		if it.Lot != nil {
			lot = *it.Lot
		}
		return &InvariantViolation{Lot: lot, Detail: fmt.Sprintf("DC item %s invoiced would become %s", ref, next)}
	}
	if it.Lot != nil {
		e, err := l.entry(*it.Lot)
		if err != nil {
			return err
		}
		lotNext := e.InvoicedQty.Sub(qty)
		if lotNext.IsNegative() {
			return &InvariantViolation{Lot: *it.Lot, Detail: fmt.Sprintf("lot invoiced would become %s", lotNext)}
		}
		e.InvoicedQty = lotNext
		l.changed[*it.Lot] = true
	}
	it.InvoicedQty = next
	return nil
}

// Audit recomputes every lot's dispatched and invoiced quantity from the live DC items
// and compares them with the materialized entries.
func (l *QuantityLedger) Audit() error {
	dispatched := make(map[LotRef]decimal.Decimal, len(l.book.Entries))
	invoiced := make(map[LotRef]decimal.Decimal, len(l.book.Entries))
	for _, it := range l.book.Items {
		if it.InvoicedQty.IsNegative() || it.InvoicedQty.GreaterThan(it.DispatchedQty) {
			lot := LotRef{}
			if it.Lot != nil {
				lot = *it.Lot
			}
			return &InvariantViolation{Lot: lot, Detail: fmt.Sprintf("DC item %s invoiced %s of dispatched %s", it.Ref, it.InvoicedQty, it.DispatchedQty)}
		}
		if it.Lot == nil {
			continue
		}
		if _, ok := l.book.Entries[*it.Lot]; !ok {
			return &InvariantViolation{Lot: *it.Lot, Detail: fmt.Sprintf("DC item %s references an unknown lot", it.Ref)}
		}
		dispatched[*it.Lot] = dispatched[*it.Lot].Add(it.DispatchedQty)
		invoiced[*it.Lot] = invoiced[*it.Lot].Add(it.InvoicedQty)
	}

	for ref, e := range l.book.Entries {
		switch {
		case e.DispatchedQty.IsNegative() || e.DispatchedQty.GreaterThan(e.OrderedQty):
			return &InvariantViolation{Lot: ref, Detail: fmt.Sprintf("dispatched %s outside [0, %s]", e.DispatchedQty, e.OrderedQty)}
		case e.InvoicedQty.IsNegative() || e.InvoicedQty.GreaterThan(e.DispatchedQty):
			return &InvariantViolation{Lot: ref, Detail: fmt.Sprintf("invoiced %s outside [0, %s]", e.InvoicedQty, e.DispatchedQty)}
		case !e.DispatchedQty.Equal(dispatched[ref]):
			return &InvariantViolation{Lot: ref, Detail: fmt.Sprintf("dispatched %s but DC items sum to %s", e.DispatchedQty, dispatched[ref])}
		case !e.InvoicedQty.Equal(invoiced[ref]):
			return &InvariantViolation{Lot: ref, Detail: fmt.Sprintf("invoiced %s but invoice items sum to %s", e.InvoicedQty, invoiced[ref])}
		}
	}
	return nil
}

// Changed returns the entries modified through this ledger, ordered by lot.
func (l *QuantityLedger) Changed() []LedgerEntry {
	out := make([]LedgerEntry, 0, len(l.changed))
	for ref := range l.changed {
		out = append(out, *l.book.Entries[ref])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Lot.POLineID != out[j].Lot.POLineID {
			return out[i].Lot.POLineID < out[j].Lot.POLineID
		}
		return out[i].Lot.LotNo < out[j].Lot.LotNo
	})
	return out
}
