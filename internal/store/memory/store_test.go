package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"procurement-recon/internal/core"
	"procurement-recon/internal/store/memory"

	"github.com/shopspring/decimal"
)

func seed(t *testing.T, s *memory.Store) core.LotRef {
	t.Helper()
	po := &core.PurchaseOrder{
		Number: "PO-1",
		Lines:  []core.POLine{{LineNo: 1, MaterialCode: "M", Lots: []core.Lot{{LotNo: 1, OrderedQty: decimal.NewFromInt(10)}}}},
	}
	if err := s.CreatePurchaseOrder(context.Background(), po, core.DocumentEvent{Action: "IMPORT", Number: "PO-1"}); err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}
	return core.LotRef{POLineID: po.Lines[0].ID, LotNo: 1}
}

func TestStore_TransactionVisibility(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	lot := seed(t, s)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	dc := &core.DeliveryChallan{Number: "DC1", PONumber: "PO-1", Date: time.Now(), Items: []core.DCItem{
		{LineNo: 1, Lot: &lot, DispatchedQty: decimal.NewFromInt(4)},
	}}
	if err := tx.InsertDC(ctx, dc); err != nil {
		t.Fatalf("InsertDC: %v", err)
	}
	if err := tx.SaveEntries(ctx, []core.LedgerEntry{{Lot: lot, OrderedQty: decimal.NewFromInt(10), DispatchedQty: decimal.NewFromInt(4)}}); err != nil {
		t.Fatalf("SaveEntries: %v", err)
	}

	// Staged writes are invisible until commit.
	if _, err := s.GetDC(ctx, "DC1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected uncommitted DC to be invisible, got %v", err)
	}
	book, err := s.LoadBook(ctx, "PO-1")
	if err != nil {
		t.Fatalf("LoadBook: %v", err)
	}
	if !book.Entries[lot].DispatchedQty.IsZero() || len(book.Items) != 0 {
		t.Errorf("uncommitted changes leaked into book")
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.Commit(ctx); err == nil {
		t.Errorf("second commit should fail")
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Errorf("rollback after commit should be a no-op, got %v", err)
	}

	book, err = s.LoadBook(ctx, "PO-1")
	if err != nil {
		t.Fatalf("LoadBook: %v", err)
	}
	if !book.Entries[lot].DispatchedQty.Equal(decimal.NewFromInt(4)) || len(book.Items) != 1 {
		t.Errorf("committed changes missing from book: %+v", book.Entries[lot])
	}
	if err := core.NewQuantityLedger(book).Audit(); err != nil {
		t.Errorf("Audit: %v", err)
	}
}

func TestStore_RollbackDiscards(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	seed(t, s)

	tx, _ := s.Begin(ctx)
	_ = tx.InsertDC(ctx, &core.DeliveryChallan{Number: "DC1", PONumber: "PO-1"})
	_ = tx.AppendEvent(ctx, core.DocumentEvent{Action: "CREATE", Number: "DC1"})
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if _, err := s.GetDC(ctx, "DC1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("rolled back DC is visible: %v", err)
	}
	if n := len(s.Events()); n != 1 {
		t.Errorf("expected only the import event, got %d", n)
	}
}

func TestStore_DuplicatesConflict(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	seed(t, s)

	dup := &core.PurchaseOrder{Number: "PO-1", Lines: []core.POLine{{LineNo: 1, MaterialCode: "M"}}}
	if err := s.CreatePurchaseOrder(ctx, dup, core.DocumentEvent{}); !errors.Is(err, core.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate PO, got %v", err)
	}

	// Two transactions racing to insert the same DC number: the second commit conflicts.
	a, _ := s.Begin(ctx)
	b, _ := s.Begin(ctx)
	_ = a.InsertDC(ctx, &core.DeliveryChallan{Number: "DC1", PONumber: "PO-1"})
	_ = b.InsertDC(ctx, &core.DeliveryChallan{Number: "DC1", PONumber: "PO-1"})
	if err := a.Commit(ctx); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := b.Commit(ctx); !errors.Is(err, core.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestStore_LockScopeUnknownPO(t *testing.T) {
	s := memory.New()
	tx, _ := s.Begin(context.Background())
	defer tx.Rollback(context.Background())

	if err := tx.LockScope(context.Background(), "PO-X"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := tx.LockScope(context.Background(), core.UnlinkedScope); err != nil {
		t.Errorf("unlinked scope always locks: %v", err)
	}
}
