package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"procurement-recon/internal/core"
	"procurement-recon/internal/store/sqlite"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(path, time.Second, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedPO(t *testing.T, lc *core.Lifecycle) core.LotRef {
	t.Helper()
	total := d("100.5")
	po := &core.PurchaseOrder{
		Number: "PO-SQ-1",
		Lines: []core.POLine{{
			LineNo: 1, MaterialCode: "MAT-7", HSNCode: "8483", TotalOrdered: &total,
			Lots: []core.Lot{{LotNo: 1, OrderedQty: d("60.25")}, {LotNo: 2, OrderedQty: d("40.25")}},
		}},
	}
	saved, err := lc.ImportPurchaseOrder(context.Background(), "", po)
	if err != nil {
		t.Fatalf("ImportPurchaseOrder: %v", err)
	}
	return core.LotRef{POLineID: saved.Lines[0].ID, LotNo: 1}
}

func TestStore_Lifecycle(t *testing.T) {
	store := openStore(t, "file:"+t.Name()+"?mode=memory&cache=shared")
	ctx := context.Background()
	lc := core.NewLifecycle(store, core.NewEngine(), core.NewLockTable(time.Second))
	q := core.NewQuery(store)
	lot := seedPO(t, lc)

	if _, err := lc.CreateDC(ctx, "alice", core.DCHeader{Number: "DC1", PONumber: "PO-SQ-1"},
		[]core.DCItemInput{{Lot: &lot, Qty: d("60.2")}, {Description: "crate", Qty: d("1")}}); err != nil {
		t.Fatalf("CreateDC: %v", err)
	}

	_, err := lc.CreateDC(ctx, "alice", core.DCHeader{Number: "DC2", PONumber: "PO-SQ-1"},
		[]core.DCItemInput{{Lot: &lot, Qty: d("0.06")}})
	if rej := core.Rejections(err); len(rej) != 1 || !rej[0].Available.Equal(d("0.05")) {
		t.Fatalf("expected one rejection with 0.05 available, got %v", err)
	}

	if _, err := lc.CreateInvoice(ctx, "bob", core.InvoiceHeader{Number: "INV1", Taxes: core.TaxRates{CGST: d("2.5"), SGST: d("2.5")}},
		[]string{"DC1"}, []core.InvoiceItemInput{
			{DCItem: core.DCItemRef{DCNumber: "DC1", LineNo: 1}, Qty: d("30.1"), Rate: d("99.99")},
			{DCItem: core.DCItemRef{DCNumber: "DC1", LineNo: 2}, Qty: d("1"), Rate: d("0")},
		}); err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	summary, err := q.DCSummary(ctx, "DC1")
	if err != nil {
		t.Fatalf("DCSummary: %v", err)
	}
	if !summary.Items[0].RemainingToInvoice.Equal(d("30.1")) || summary.Items[1].Status != core.StatusComplete {
		t.Errorf("unexpected DC summary: %+v", summary.Items)
	}

	if err := lc.DeleteDC(ctx, "", "DC1"); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := lc.DeleteInvoice(ctx, "", "INV1"); err != nil {
		t.Fatalf("DeleteInvoice: %v", err)
	}
	if err := lc.DeleteDC(ctx, "", "DC1"); err != nil {
		t.Fatalf("DeleteDC: %v", err)
	}

	book, err := store.LoadBook(ctx, "PO-SQ-1")
	if err != nil {
		t.Fatalf("LoadBook: %v", err)
	}
	if err := core.NewQuantityLedger(book).Audit(); err != nil {
		t.Errorf("Audit: %v", err)
	}
	if len(book.Items) != 0 || !book.Entries[lot].DispatchedQty.IsZero() {
		t.Errorf("expected an empty book, got %d items and %+v", len(book.Items), book.Entries[lot])
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recon.db")
	ctx := context.Background()

	first, err := sqlite.Open(path, time.Second, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	lc := core.NewLifecycle(first, core.NewEngine(), core.NewLockTable(time.Second))
	lot := seedPO(t, lc)
	date := time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC)
	r, err := lc.CreateDC(ctx, "", core.DCHeader{Date: date, PONumber: "PO-SQ-1"}, []core.DCItemInput{{Lot: &lot, Qty: d("10")}})
	if err != nil {
		t.Fatalf("CreateDC: %v", err)
	}
	if r.DC.Number != "DC-2026-00001" {
		t.Errorf("expected DC-2026-00001, got %s", r.DC.Number)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := openStore(t, path)
	po, err := second.GetPurchaseOrder(ctx, "PO-SQ-1")
	if err != nil {
		t.Fatalf("GetPurchaseOrder: %v", err)
	}
	if po.Lines[0].TotalOrdered == nil || !po.Lines[0].TotalOrdered.Equal(d("100.5")) || len(po.Lines[0].Lots) != 2 {
		t.Errorf("purchase order did not round-trip: %+v", po.Lines[0])
	}
	rem, err := core.NewQuery(second).RemainingToDispatch(ctx, lot)
	if err != nil {
		t.Fatalf("RemainingToDispatch: %v", err)
	}
	if !rem.Equal(d("50.25")) {
		t.Errorf("expected remaining 50.25, got %s", rem)
	}

	lc2 := core.NewLifecycle(second, core.NewEngine(), core.NewLockTable(time.Second))
	r, err = lc2.CreateDC(ctx, "", core.DCHeader{Date: date, PONumber: "PO-SQ-1"}, []core.DCItemInput{{Lot: &lot, Qty: d("1")}})
	if err != nil {
		t.Fatalf("CreateDC after reopen: %v", err)
	}
	if r.DC.Number != "DC-2026-00002" {
		t.Errorf("sequence did not survive reopen, got %s", r.DC.Number)
	}
}

func TestStore_SystemNumbersAfterUserNumber(t *testing.T) {
	store := openStore(t, "file:"+t.Name()+"?mode=memory&cache=shared")
	ctx := context.Background()
	lc := core.NewLifecycle(store, core.NewEngine(), core.NewLockTable(time.Second))
	lot := seedPO(t, lc)
	date := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	if _, err := lc.CreateDC(ctx, "alice", core.DCHeader{Number: "DC-2026-00001", Date: date, PONumber: "PO-SQ-1"},
		[]core.DCItemInput{{Lot: &lot, Qty: d("1")}}); err != nil {
		t.Fatalf("CreateDC with user number: %v", err)
	}

	for i, want := range []string{"DC-2026-00002", "DC-2026-00003", "DC-2026-00004"} {
		r, err := lc.CreateDC(ctx, "", core.DCHeader{Date: date, PONumber: "PO-SQ-1"}, []core.DCItemInput{{Lot: &lot, Qty: d("1")}})
		if err != nil {
			t.Fatalf("system-numbered CreateDC #%d: %v", i+1, err)
		}
		if r.DC.Number != want {
			t.Errorf("CreateDC #%d: expected %s, got %s", i+1, want, r.DC.Number)
		}
	}
}

// Two stores on one file behave like two processes: the second writer gives up with
// ErrBusy while the first holds the database write lock.
func TestStore_WriterBlockedByOtherProcessIsBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recon.db")
	ctx := context.Background()

	holder := openStore(t, path)
	lot := seedPO(t, core.NewLifecycle(holder, core.NewEngine(), core.NewLockTable(time.Second)))

	waiter, err := sqlite.Open(path, 100*time.Millisecond, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = waiter.Close() })

	held, err := holder.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := held.LockScope(ctx, "PO-SQ-1"); err != nil {
		t.Fatalf("LockScope: %v", err)
	}

	lc := core.NewLifecycle(waiter, core.NewEngine(), core.NewLockTable(time.Second))
	_, err = lc.CreateDC(ctx, "", core.DCHeader{PONumber: "PO-SQ-1"}, []core.DCItemInput{{Lot: &lot, Qty: d("1")}})
	if !errors.Is(err, core.ErrBusy) {
		t.Errorf("expected ErrBusy while another connection writes, got %v", err)
	}

	if err := held.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, err := lc.CreateDC(ctx, "", core.DCHeader{PONumber: "PO-SQ-1"}, []core.DCItemInput{{Lot: &lot, Qty: d("1")}}); err != nil {
		t.Errorf("CreateDC after the lock is released: %v", err)
	}
}

func TestStore_NotFound(t *testing.T) {
	store := openStore(t, "file:"+t.Name()+"?mode=memory&cache=shared")
	ctx := context.Background()

	if _, err := store.GetDC(ctx, "DC-404"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetDC: expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetInvoice(ctx, "INV-404"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetInvoice: expected ErrNotFound, got %v", err)
	}
	if _, err := store.LoadBook(ctx, "PO-404"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("LoadBook: expected ErrNotFound, got %v", err)
	}
	if _, err := store.POForLine(ctx, 42); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("POForLine: expected ErrNotFound, got %v", err)
	}
}
