package core_test

import (
	"errors"
	"testing"

	"procurement-recon/internal/core"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newTestBook returns a book with one lot of the given ordered quantity.
func newTestBook(ordered string) (*core.Book, core.LotRef) {
	ref := core.LotRef{POLineID: 1, LotNo: 1}
	book := core.NewBook("PO-1", &core.PurchaseOrder{Number: "PO-1"})
	book.Entries[ref] = &core.LedgerEntry{Lot: ref, OrderedQty: d(ordered)}
	return book, ref
}

func TestQuantityLedger_Dispatch(t *testing.T) {
	book, lot := newTestBook("100")
	ledger := core.NewQuantityLedger(book)

	t.Run("rejects non-positive quantities", func(t *testing.T) {
		for _, qty := range []string{"0", "-1"} {
			if err := ledger.ApplyDispatch(lot, d(qty)); !errors.Is(err, core.ErrInvalidQuantity) {
				t.Errorf("ApplyDispatch(%s): expected ErrInvalidQuantity, got %v", qty, err)
			}
		}
	})

	t.Run("unknown lot", func(t *testing.T) {
		_, err := ledger.RemainingToDispatch(core.LotRef{POLineID: 9, LotNo: 1})
		if !errors.Is(err, core.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("bounded by ordered quantity", func(t *testing.T) {
		if err := ledger.ApplyDispatch(lot, d("60.5")); err != nil {
			t.Fatalf("ApplyDispatch: %v", err)
		}
		if err := ledger.ApplyDispatch(lot, d("39.6")); !errors.Is(err, core.ErrOverDispatch) {
			t.Errorf("expected ErrOverDispatch, got %v", err)
		}
		rem, err := ledger.RemainingToDispatch(lot)
		if err != nil {
			t.Fatalf("RemainingToDispatch: %v", err)
		}
		if !rem.Equal(d("39.5")) {
			t.Errorf("expected remaining 39.5, got %s", rem)
		}
		if err := ledger.ApplyDispatch(lot, d("39.5")); err != nil {
			t.Errorf("dispatching exactly the remainder should succeed: %v", err)
		}
	})

	t.Run("reversal below zero is an invariant violation", func(t *testing.T) {
		err := ledger.ReverseDispatch(lot, d("100.01"))
		var iv *core.InvariantViolation
		if !errors.As(err, &iv) {
			t.Fatalf("expected InvariantViolation, got %v", err)
		}
		if iv.Lot != lot {
			t.Errorf("expected violation at %s, got %s", lot, iv.Lot)
		}
	})

	changed := ledger.Changed()
	if len(changed) != 1 || !changed[0].DispatchedQty.Equal(d("100")) {
		t.Errorf("expected one changed entry with dispatched 100, got %+v", changed)
	}
}

func TestQuantityLedger_Invoice(t *testing.T) {
	book, lot := newTestBook("100")
	ledger := core.NewQuantityLedger(book)
	item := core.DCItemRef{DCNumber: "DC1", LineNo: 1}

	if err := ledger.TrackItem(item, &lot, d("60")); err != nil {
		t.Fatalf("TrackItem: %v", err)
	}
	if err := ledger.ApplyInvoice(item, d("25")); err != nil {
		t.Fatalf("ApplyInvoice: %v", err)
	}
	if err := ledger.ApplyInvoice(item, d("35.01")); !errors.Is(err, core.ErrOverInvoice) {
		t.Errorf("expected ErrOverInvoice, got %v", err)
	}

	rem, err := ledger.RemainingToInvoice(item)
	if err != nil {
		t.Fatalf("RemainingToInvoice: %v", err)
	}
	if !rem.Equal(d("35")) {
		t.Errorf("expected remaining to invoice 35, got %s", rem)
	}
	if e := book.Entries[lot]; !e.InvoicedQty.Equal(d("25")) {
		t.Errorf("expected lot invoiced 25, got %s", e.InvoicedQty)
	}

	if err := ledger.UntrackItem(item); !errors.Is(err, core.ErrConflict) {
		t.Errorf("untracking an invoiced item should conflict, got %v", err)
	}
	if err := ledger.ReverseInvoice(item, d("25")); err != nil {
		t.Fatalf("ReverseInvoice: %v", err)
	}
	if err := ledger.UntrackItem(item); err != nil {
		t.Fatalf("UntrackItem: %v", err)
	}
	if e := book.Entries[lot]; !e.DispatchedQty.IsZero() || !e.InvoicedQty.IsZero() {
		t.Errorf("expected lot back to zero, got dispatched %s invoiced %s", e.DispatchedQty, e.InvoicedQty)
	}
	if err := ledger.Audit(); err != nil {
		t.Errorf("Audit: %v", err)
	}
}

func TestQuantityLedger_ManualItemsBypassLots(t *testing.T) {
	book := core.NewBook(core.UnlinkedScope, nil)
	ledger := core.NewQuantityLedger(book)
	item := core.DCItemRef{DCNumber: "DC9", LineNo: 1}

	if err := ledger.TrackItem(item, nil, d("5")); err != nil {
		t.Fatalf("TrackItem: %v", err)
	}
	if err := ledger.ApplyInvoice(item, d("5")); err != nil {
		t.Fatalf("ApplyInvoice: %v", err)
	}
	if err := ledger.ApplyInvoice(item, d("0.001")); !errors.Is(err, core.ErrOverInvoice) {
		t.Errorf("expected ErrOverInvoice, got %v", err)
	}
	if len(ledger.Changed()) != 0 {
		t.Errorf("manual items must not touch lot entries")
	}
}

func TestQuantityLedger_AuditDetectsDivergence(t *testing.T) {
	book, lot := newTestBook("100")
	ledger := core.NewQuantityLedger(book)
	if err := ledger.TrackItem(core.DCItemRef{DCNumber: "DC1", LineNo: 1}, &lot, d("40")); err != nil {
		t.Fatalf("TrackItem: %v", err)
	}
	if err := ledger.Audit(); err != nil {
		t.Fatalf("Audit on consistent book: %v", err)
	}

	// Materialized counter drifts away from the item sum.
	book.Entries[lot].DispatchedQty = d("41")
	err := ledger.Audit()
	if !errors.Is(err, core.ErrInvariant) {
		t.Errorf("expected ErrInvariant, got %v", err)
	}
}
