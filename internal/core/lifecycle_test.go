package core_test

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"procurement-recon/internal/core"
	"procurement-recon/internal/store/memory"

	"github.com/shopspring/decimal"
)

type harness struct {
	ctx   context.Context
	store *memory.Store
	locks *core.LockTable
	lc    *core.Lifecycle
	q     *core.Query
}

func newHarness(t *testing.T, lockTimeout time.Duration) *harness {
	t.Helper()
	st := memory.New()
	locks := core.NewLockTable(lockTimeout)
	return &harness{
		ctx:   context.Background(),
		store: st,
		locks: locks,
		lc:    core.NewLifecycle(st, core.NewEngine(), locks),
		q:     core.NewQuery(st),
	}
}

// importPO ingests a purchase order with one line whose lots have the given ordered
// quantities, and returns the lot references in order.
func (h *harness) importPO(t *testing.T, number string, lots ...string) []core.LotRef {
	t.Helper()
	po := &core.PurchaseOrder{
		Number: number,
		Lines:  []core.POLine{{LineNo: 1, MaterialCode: "MAT-100", Description: "Bearing housing", Unit: "NOS"}},
	}
	for i, qty := range lots {
		po.Lines[0].Lots = append(po.Lines[0].Lots, core.Lot{LotNo: i + 1, OrderedQty: d(qty)})
	}
	saved, err := h.lc.ImportPurchaseOrder(h.ctx, "importer", po)
	if err != nil {
		t.Fatalf("ImportPurchaseOrder(%s): %v", number, err)
	}
	refs := make([]core.LotRef, len(saved.Lines[0].Lots))
	for i, lot := range saved.Lines[0].Lots {
		refs[i] = core.LotRef{POLineID: saved.Lines[0].ID, LotNo: lot.LotNo}
	}
	return refs
}

func item(lot core.LotRef, qty string) core.DCItemInput {
	return core.DCItemInput{Lot: &lot, Qty: d(qty)}
}

func (h *harness) createDC(t *testing.T, number, po string, items ...core.DCItemInput) *core.DCReceipt {
	t.Helper()
	r, err := h.lc.CreateDC(h.ctx, "alice", core.DCHeader{Number: number, PONumber: po}, items)
	if err != nil {
		t.Fatalf("CreateDC(%s): %v", number, err)
	}
	return r
}

func (h *harness) createInvoice(t *testing.T, number string, dcs []string, items ...core.InvoiceItemInput) *core.InvoiceReceipt {
	t.Helper()
	r, err := h.lc.CreateInvoice(h.ctx, "bob", core.InvoiceHeader{Number: number, BuyerName: "Acme Industries"}, dcs, items)
	if err != nil {
		t.Fatalf("CreateInvoice(%s): %v", number, err)
	}
	return r
}

func (h *harness) remaining(t *testing.T, lot core.LotRef) decimal.Decimal {
	t.Helper()
	rem, err := h.q.RemainingToDispatch(h.ctx, lot)
	if err != nil {
		t.Fatalf("RemainingToDispatch: %v", err)
	}
	return rem
}

func TestLifecycle_DispatchAgainstLot(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	lots := h.importPO(t, "PO-1", "100")

	r := h.createDC(t, "DC1", "PO-1", item(lots[0], "60"))
	if r.DispatchStatus != core.StatusPartial {
		t.Errorf("expected PO dispatch PARTIAL, got %s", r.DispatchStatus)
	}
	if rem := h.remaining(t, lots[0]); !rem.Equal(d("40")) {
		t.Fatalf("expected remaining 40, got %s", rem)
	}

	// Over-dispatch is rejected with the exact shortfall and commits nothing.
	_, err := h.lc.CreateDC(h.ctx, "alice", core.DCHeader{Number: "DC2", PONumber: "PO-1"}, []core.DCItemInput{item(lots[0], "50")})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	rejections := core.Rejections(err)
	if len(rejections) != 1 || !rejections[0].Requested.Equal(d("50")) || !rejections[0].Available.Equal(d("40")) {
		t.Errorf("unexpected rejections: %+v", rejections)
	}
	if _, err := h.q.DCSummary(h.ctx, "DC2"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("rejected DC must not exist, got %v", err)
	}
	if rem := h.remaining(t, lots[0]); !rem.Equal(d("40")) {
		t.Errorf("remaining changed after rejection: %s", rem)
	}

	r = h.createDC(t, "DC2", "PO-1", item(lots[0], "40"))
	if r.DispatchStatus != core.StatusComplete {
		t.Errorf("expected PO dispatch COMPLETE, got %s", r.DispatchStatus)
	}
	positions, err := h.q.LotPositions(h.ctx, "PO-1")
	if err != nil {
		t.Fatalf("LotPositions: %v", err)
	}
	if !positions[0].RemainingToDispatch.IsZero() || positions[0].DispatchStatus != core.StatusComplete {
		t.Errorf("expected lot fully dispatched, got %+v", positions[0])
	}
}

func TestLifecycle_CreateDCUnknownPurchaseOrder(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	lots := h.importPO(t, "PO-1", "10")

	_, err := h.lc.CreateDC(h.ctx, "", core.DCHeader{PONumber: "PO-404"}, []core.DCItemInput{item(lots[0], "1")})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLifecycle_InvoiceAgainstDC(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	lots := h.importPO(t, "PO-1", "100")
	h.createDC(t, "DC1", "PO-1", item(lots[0], "60"))
	dcItem := core.DCItemRef{DCNumber: "DC1", LineNo: 1}

	r := h.createInvoice(t, "INV1", []string{"DC1"}, core.InvoiceItemInput{DCItem: dcItem, Qty: d("60"), Rate: d("10")})
	if r.DCStatuses["DC1"] != core.StatusComplete {
		t.Errorf("expected DC1 invoicing COMPLETE, got %s", r.DCStatuses["DC1"])
	}
	if !r.Invoice.Totals.Taxable.Equal(d("600")) {
		t.Errorf("expected taxable 600, got %s", r.Invoice.Totals.Taxable)
	}
	if r.Invoice.PONumber != "PO-1" {
		t.Errorf("expected invoice scoped to PO-1, got %q", r.Invoice.PONumber)
	}

	rem, err := h.q.RemainingToInvoice(h.ctx, dcItem)
	if err != nil {
		t.Fatalf("RemainingToInvoice: %v", err)
	}
	if !rem.IsZero() {
		t.Errorf("expected nothing left to invoice, got %s", rem)
	}

	_, err = h.lc.CreateInvoice(h.ctx, "bob", core.InvoiceHeader{Number: "INV2"}, []string{"DC1"},
		[]core.InvoiceItemInput{{DCItem: dcItem, Qty: d("1"), Rate: d("10")}})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected ErrValidation for over-invoice, got %v", err)
	}

	summary, err := h.q.POSummary(h.ctx, "PO-1")
	if err != nil {
		t.Fatalf("POSummary: %v", err)
	}
	if summary.DispatchStatus != core.StatusPartial || summary.InvoiceStatus != core.StatusComplete {
		t.Errorf("expected dispatch PARTIAL and invoicing COMPLETE, got %s/%s", summary.DispatchStatus, summary.InvoiceStatus)
	}

	invSummary, err := h.q.InvoiceSummary(h.ctx, "INV1")
	if err != nil {
		t.Fatalf("InvoiceSummary: %v", err)
	}
	if invSummary.DCStatuses["DC1"] != core.StatusComplete || invSummary.InvoiceStatus != core.StatusComplete {
		t.Errorf("unexpected invoice summary: %+v", invSummary)
	}
}

func TestLifecycle_InvoiceValidationReportsEveryProblem(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	lots := h.importPO(t, "PO-1", "100")
	h.createDC(t, "DC1", "PO-1", item(lots[0], "10"), item(lots[0], "5"))

	_, err := h.lc.CreateInvoice(h.ctx, "", core.InvoiceHeader{}, []string{"DC1", "DC-MISSING"}, []core.InvoiceItemInput{
		{DCItem: core.DCItemRef{DCNumber: "DC1", LineNo: 1}, Qty: d("11"), Rate: d("1")},
		{DCItem: core.DCItemRef{DCNumber: "DC1", LineNo: 2}, Qty: d("5"), Rate: d("-1")},
		{DCItem: core.DCItemRef{DCNumber: "DC1", LineNo: 3}, Qty: d("1"), Rate: d("1")},
	})
	if got := len(core.Rejections(err)); got != 4 {
		t.Errorf("expected 4 rejections (missing DC, over-claim, unknown item, negative rate), got %d: %v", got, err)
	}
}

func TestLifecycle_DeleteDCRefusedWhileInvoiced(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	lots := h.importPO(t, "PO-1", "100")
	h.createDC(t, "DC1", "PO-1", item(lots[0], "60"))
	h.createInvoice(t, "INV1", []string{"DC1"}, core.InvoiceItemInput{DCItem: core.DCItemRef{DCNumber: "DC1", LineNo: 1}, Qty: d("20"), Rate: d("5")})

	err := h.lc.DeleteDC(h.ctx, "alice", "DC1")
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if !reflect.DeepEqual(conflict.Dependents, []string{"INV1"}) {
		t.Errorf("expected dependents [INV1], got %v", conflict.Dependents)
	}

	summary, err := h.q.DCSummary(h.ctx, "DC1")
	if err != nil {
		t.Fatalf("DCSummary: %v", err)
	}
	if summary.InvoiceStatus != core.StatusPartial || !reflect.DeepEqual(summary.Invoices, []string{"INV1"}) {
		t.Errorf("unexpected DC summary: %s %v", summary.InvoiceStatus, summary.Invoices)
	}

	if err := h.lc.DeleteInvoice(h.ctx, "alice", "INV1"); err != nil {
		t.Fatalf("DeleteInvoice: %v", err)
	}
	if err := h.lc.DeleteDC(h.ctx, "alice", "DC1"); err != nil {
		t.Fatalf("DeleteDC after removing invoice: %v", err)
	}
	if rem := h.remaining(t, lots[0]); !rem.Equal(d("100")) {
		t.Errorf("expected remaining 100 after delete, got %s", rem)
	}
	if err := h.lc.DeleteDC(h.ctx, "alice", "DC1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestLifecycle_CreateThenDeleteRestoresLedger(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	lots := h.importPO(t, "PO-1", "100", "50.5", "20")
	h.createDC(t, "DC0", "PO-1", item(lots[1], "0.5"))

	before, err := h.q.LotPositions(h.ctx, "PO-1")
	if err != nil {
		t.Fatalf("LotPositions: %v", err)
	}

	h.createDC(t, "DC1", "PO-1", item(lots[0], "33.333"), item(lots[1], "50"), item(lots[0], "0.667"),
		core.DCItemInput{Description: "packing crate", Unit: "NOS", Qty: d("2")})
	h.createInvoice(t, "INV1", []string{"DC1"},
		core.InvoiceItemInput{DCItem: core.DCItemRef{DCNumber: "DC1", LineNo: 2}, Qty: d("12.25"), Rate: d("100")},
		core.InvoiceItemInput{DCItem: core.DCItemRef{DCNumber: "DC1", LineNo: 4}, Qty: d("2"), Rate: d("15")})

	if err := h.lc.DeleteInvoice(h.ctx, "", "INV1"); err != nil {
		t.Fatalf("DeleteInvoice: %v", err)
	}
	if err := h.lc.DeleteDC(h.ctx, "", "DC1"); err != nil {
		t.Fatalf("DeleteDC: %v", err)
	}

	after, err := h.q.LotPositions(h.ctx, "PO-1")
	if err != nil {
		t.Fatalf("LotPositions: %v", err)
	}
	for i := range before {
		if !before[i].DispatchedQty.Equal(after[i].DispatchedQty) || !before[i].InvoicedQty.Equal(after[i].InvoicedQty) {
			t.Errorf("lot %d: before %s/%s after %s/%s", before[i].LotNo,
				before[i].DispatchedQty, before[i].InvoicedQty, after[i].DispatchedQty, after[i].InvoicedQty)
		}
	}
}

func TestLifecycle_ConcurrentDispatchOnSameLot(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	lots := h.importPO(t, "PO-1", "100")

	start := make(chan struct{})
	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.lc.CreateDC(h.ctx, "", core.DCHeader{PONumber: "PO-1"}, []core.DCItemInput{item(lots[0], "60")})
			errCh <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errCh)

	var ok, rejected int
	for err := range errCh {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, core.ErrValidation):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Errorf("expected exactly one success and one rejection, got %d/%d", ok, rejected)
	}
	if rem := h.remaining(t, lots[0]); !rem.Equal(d("40")) {
		t.Errorf("expected remaining 40, got %s", rem)
	}
}

func TestLifecycle_ConcurrentDispatchNeverOverruns(t *testing.T) {
	h := newHarness(t, 10*time.Second)
	lots := h.importPO(t, "PO-1", "100", "150")

	const workers, attempts = 8, 25
	var mu sync.Mutex
	accepted := make(map[core.LotRef]decimal.Decimal)
	var wg sync.WaitGroup
	errCh := make(chan error, workers*attempts)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < attempts; i++ {
				lot := lots[rng.Intn(len(lots))]
				qty := decimal.NewFromInt(int64(rng.Intn(20) + 1))
				_, err := h.lc.CreateDC(h.ctx, "", core.DCHeader{PONumber: "PO-1"}, []core.DCItemInput{{Lot: &lot, Qty: qty}})
				switch {
				case err == nil:
					mu.Lock()
					accepted[lot] = accepted[lot].Add(qty)
					mu.Unlock()
				case !errors.Is(err, core.ErrValidation):
					errCh <- err
				}
			}
		}(int64(w + 1))
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent dispatch error: %v", err)
	}

	positions, err := h.q.LotPositions(h.ctx, "PO-1")
	if err != nil {
		t.Fatalf("LotPositions: %v", err)
	}
	for _, p := range positions {
		ref := core.LotRef{POLineID: p.POLineID, LotNo: p.LotNo}
		if p.DispatchedQty.GreaterThan(p.OrderedQty) {
			t.Errorf("%s over-dispatched: %s > %s", ref, p.DispatchedQty, p.OrderedQty)
		}
		if !p.DispatchedQty.Equal(accepted[ref]) {
			t.Errorf("%s dispatched %s, accepted DCs sum to %s", ref, p.DispatchedQty, accepted[ref])
		}
	}
}

func TestLifecycle_RandomOperationsKeepLedgerConsistent(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	lots := h.importPO(t, "PO-1", "50", "75.5", "20")
	rng := rand.New(rand.NewSource(7))
	var dcs, invoices []string

	for step := 0; step < 300; step++ {
		switch op := rng.Intn(4); {
		case op == 0 || len(dcs) == 0:
			lot := lots[rng.Intn(len(lots))]
			qty := decimal.New(int64(rng.Intn(2000)+1), -2)
			r, err := h.lc.CreateDC(h.ctx, "", core.DCHeader{PONumber: "PO-1"}, []core.DCItemInput{{Lot: &lot, Qty: qty}})
			if err == nil {
				dcs = append(dcs, r.DC.Number)
			} else if !errors.Is(err, core.ErrValidation) {
				t.Fatalf("step %d: CreateDC: %v", step, err)
			}

		case op == 1:
			dc := dcs[rng.Intn(len(dcs))]
			s, err := h.q.DCSummary(h.ctx, dc)
			if err != nil {
				t.Fatalf("step %d: DCSummary: %v", step, err)
			}
			pos := s.Items[0]
			if pos.RemainingToInvoice.IsZero() {
				continue
			}
			qty := pos.RemainingToInvoice
			if rng.Intn(2) == 0 {
				qty = qty.Div(decimal.NewFromInt(2)).Round(2)
			}
			r, err := h.lc.CreateInvoice(h.ctx, "", core.InvoiceHeader{}, []string{dc},
				[]core.InvoiceItemInput{{DCItem: core.DCItemRef{DCNumber: dc, LineNo: pos.LineNo}, Qty: qty, Rate: d("1")}})
			if err != nil {
				t.Fatalf("step %d: CreateInvoice(%s of %s): %v", step, qty, pos.RemainingToInvoice, err)
			}
			invoices = append(invoices, r.Invoice.Number)

		case op == 2 && len(invoices) > 0:
			i := rng.Intn(len(invoices))
			if err := h.lc.DeleteInvoice(h.ctx, "", invoices[i]); err != nil {
				t.Fatalf("step %d: DeleteInvoice: %v", step, err)
			}
			invoices = append(invoices[:i], invoices[i+1:]...)

		case op == 3:
			i := rng.Intn(len(dcs))
			err := h.lc.DeleteDC(h.ctx, "", dcs[i])
			if err == nil {
				dcs = append(dcs[:i], dcs[i+1:]...)
			} else if !errors.Is(err, core.ErrConflict) {
				t.Fatalf("step %d: DeleteDC: %v", step, err)
			}
		}

		book, err := h.store.LoadBook(h.ctx, "PO-1")
		if err != nil {
			t.Fatalf("step %d: LoadBook: %v", step, err)
		}
		if err := core.NewQuantityLedger(book).Audit(); err != nil {
			t.Fatalf("step %d: ledger inconsistent: %v", step, err)
		}
	}
}

func TestLifecycle_BusyWhenScopeLocked(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	lots := h.importPO(t, "PO-1", "100")

	release, err := h.locks.Acquire(h.ctx, "PO-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	_, err = h.lc.CreateDC(h.ctx, "", core.DCHeader{PONumber: "PO-1"}, []core.DCItemInput{item(lots[0], "10")})
	if !errors.Is(err, core.ErrBusy) || !core.IsRetryable(err) {
		t.Fatalf("expected retryable ErrBusy, got %v", err)
	}

	// Other purchase orders are not blocked.
	other := h.importPO(t, "PO-2", "5")
	h.createDC(t, "DC-OTHER", "PO-2", item(other[0], "5"))

	release()
	h.createDC(t, "DC1", "PO-1", item(lots[0], "10"))
}

// corruptingStore zeroes every lot's dispatched quantity when a book is loaded for writing.
type corruptingStore struct{ *memory.Store }

func (s corruptingStore) Begin(ctx context.Context) (core.StoreTx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return corruptingTx{tx}, nil
}

type corruptingTx struct{ core.StoreTx }

func (t corruptingTx) LoadBook(ctx context.Context, scope string) (*core.Book, error) {
	book, err := t.StoreTx.LoadBook(ctx, scope)
	if err != nil {
		return nil, err
	}
	for _, e := range book.Entries {
		e.DispatchedQty = decimal.Zero
	}
	return book, nil
}

func TestLifecycle_InvariantViolationAborts(t *testing.T) {
	h := newHarness(t, time.Second)
	lots := h.importPO(t, "PO-1", "100")
	h.createDC(t, "DC1", "PO-1", item(lots[0], "60"))

	corrupt := core.NewLifecycle(corruptingStore{h.store}, core.NewEngine(), h.locks)
	func() {
		defer func() {
			iv, ok := recover().(*core.InvariantViolation)
			if !ok {
				t.Fatalf("expected an InvariantViolation panic")
			}
			if iv.Lot != lots[0] {
				t.Errorf("expected violation on %s, got %s", lots[0], iv.Lot)
			}
		}()
		_ = corrupt.DeleteDC(h.ctx, "", "DC1")
	}()

	// Nothing was committed and the scope lock was released.
	if rem := h.remaining(t, lots[0]); !rem.Equal(d("40")) {
		t.Errorf("expected remaining 40, got %s", rem)
	}
	if err := h.lc.DeleteDC(h.ctx, "", "DC1"); err != nil {
		t.Fatalf("DeleteDC after aborted attempt: %v", err)
	}
}

func TestLifecycle_UnlinkedDCWithManualItems(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	lots := h.importPO(t, "PO-1", "100")

	_, err := h.lc.CreateDC(h.ctx, "", core.DCHeader{Number: "DC-M0"}, []core.DCItemInput{item(lots[0], "1")})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected lot reference without PO to be rejected, got %v", err)
	}

	h.createDC(t, "DC-M1", "", core.DCItemInput{Description: "spares", Unit: "KG", Qty: d("5")})
	dcItem := core.DCItemRef{DCNumber: "DC-M1", LineNo: 1}
	r := h.createInvoice(t, "INV-M1", []string{"DC-M1"}, core.InvoiceItemInput{DCItem: dcItem, Qty: d("5"), Rate: d("40")})
	if r.Invoice.PONumber != core.UnlinkedScope {
		t.Errorf("expected unlinked invoice, got PO %q", r.Invoice.PONumber)
	}

	_, err = h.lc.CreateInvoice(h.ctx, "", core.InvoiceHeader{}, []string{"DC-M1"},
		[]core.InvoiceItemInput{{DCItem: dcItem, Qty: d("0.5"), Rate: d("40")}})
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("expected over-invoice of manual item to be rejected, got %v", err)
	}

	dcs, err := h.q.ListDCs(h.ctx, core.UnlinkedScope)
	if err != nil {
		t.Fatalf("ListDCs: %v", err)
	}
	if len(dcs) != 1 || dcs[0].Number != "DC-M1" {
		t.Errorf("expected one unlinked DC, got %+v", dcs)
	}
	if rem := h.remaining(t, lots[0]); !rem.Equal(d("100")) {
		t.Errorf("manual items must not dispatch against lots, remaining %s", rem)
	}
}

func TestLifecycle_InvoiceAcrossPurchaseOrdersRejected(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	a := h.importPO(t, "PO-A", "10")
	b := h.importPO(t, "PO-B", "10")
	h.createDC(t, "DC-A", "PO-A", item(a[0], "10"))
	h.createDC(t, "DC-B", "PO-B", item(b[0], "10"))

	_, err := h.lc.CreateInvoice(h.ctx, "", core.InvoiceHeader{Number: "INV-X"}, []string{"DC-A", "DC-B"}, []core.InvoiceItemInput{
		{DCItem: core.DCItemRef{DCNumber: "DC-A", LineNo: 1}, Qty: d("10"), Rate: d("1")},
		{DCItem: core.DCItemRef{DCNumber: "DC-B", LineNo: 1}, Qty: d("10"), Rate: d("1")},
	})
	if got := len(core.Rejections(err)); got != 2 {
		t.Fatalf("expected 2 rejections, got %d: %v", got, err)
	}
	if _, err := h.q.Invoice(h.ctx, "INV-X"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("rejected invoice must not exist, got %v", err)
	}
}

func TestLifecycle_DocumentNumbers(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	lots := h.importPO(t, "PO-1", "100")
	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 2; i++ {
		r, err := h.lc.CreateDC(h.ctx, "", core.DCHeader{Date: date, PONumber: "PO-1"}, []core.DCItemInput{item(lots[0], "1")})
		if err != nil {
			t.Fatalf("CreateDC: %v", err)
		}
		if want := core.FormatNumber(core.DocTypeDC, 2026, i); r.DC.Number != want {
			t.Errorf("expected %s, got %s", want, r.DC.Number)
		}
	}
	if got := core.FormatNumber(core.DocTypeInvoice, 2026, 7); got != "INV-2026-00007" {
		t.Errorf("unexpected invoice number format %s", got)
	}

	_, err := h.lc.CreateDC(h.ctx, "", core.DCHeader{Number: "DC-2026-00001", PONumber: "PO-1"}, []core.DCItemInput{item(lots[0], "1")})
	if !errors.Is(err, core.ErrConflict) {
		t.Errorf("expected ErrConflict for a duplicate DC number, got %v", err)
	}
}

func TestLifecycle_SystemNumbersSkipUserNumbers(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	lots := h.importPO(t, "PO-1", "100")
	date := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)

	h.createDC(t, "DC-2026-00001", "PO-1", item(lots[0], "1"))
	h.createDC(t, "DC-2026-00003", "PO-1", item(lots[0], "1"))

	var got []string
	for i := 0; i < 3; i++ {
		r, err := h.lc.CreateDC(h.ctx, "", core.DCHeader{Date: date, PONumber: "PO-1"}, []core.DCItemInput{item(lots[0], "1")})
		if err != nil {
			t.Fatalf("CreateDC #%d: %v", i+1, err)
		}
		got = append(got, r.DC.Number)
	}
	want := []string{"DC-2026-00002", "DC-2026-00004", "DC-2026-00005"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("system DC numbers = %v, want %v", got, want)
	}

	h.createInvoice(t, "INV-2026-00001", []string{"DC-2026-00001"},
		core.InvoiceItemInput{DCItem: core.DCItemRef{DCNumber: "DC-2026-00001", LineNo: 1}, Qty: d("1"), Rate: d("10")})
	r, err := h.lc.CreateInvoice(h.ctx, "", core.InvoiceHeader{Date: date}, []string{"DC-2026-00002"},
		[]core.InvoiceItemInput{{DCItem: core.DCItemRef{DCNumber: "DC-2026-00002", LineNo: 1}, Qty: d("1"), Rate: d("10")}})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if r.Invoice.Number != "INV-2026-00002" {
		t.Errorf("expected INV-2026-00002, got %s", r.Invoice.Number)
	}
}

// staleStore answers reads outside a transaction with documents moved to PO-2, as if
// they were deleted and re-created there after the caller resolved their scope.
type staleStore struct{ *memory.Store }

func (s staleStore) GetDC(ctx context.Context, n string) (*core.DeliveryChallan, error) {
	dc, err := s.Store.GetDC(ctx, n)
	if err == nil {
		dc.PONumber = "PO-2"
	}
	return dc, err
}

func (s staleStore) GetInvoice(ctx context.Context, n string) (*core.Invoice, error) {
	inv, err := s.Store.GetInvoice(ctx, n)
	if err == nil {
		inv.PONumber = "PO-2"
	}
	return inv, err
}

func TestLifecycle_DeleteRechecksScopeUnderLock(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	lots := h.importPO(t, "PO-1", "10")
	h.importPO(t, "PO-2", "10")
	h.createDC(t, "DC1", "PO-1", item(lots[0], "4"))
	h.createInvoice(t, "INV1", []string{"DC1"}, core.InvoiceItemInput{DCItem: core.DCItemRef{DCNumber: "DC1", LineNo: 1}, Qty: d("1"), Rate: d("5")})

	lc := core.NewLifecycle(staleStore{h.store}, core.NewEngine(), h.locks)
	if err := lc.DeleteInvoice(h.ctx, "", "INV1"); !errors.Is(err, core.ErrConflict) {
		t.Errorf("DeleteInvoice: expected ErrConflict, got %v", err)
	}
	if err := h.lc.DeleteInvoice(h.ctx, "", "INV1"); err != nil {
		t.Fatalf("DeleteInvoice: %v", err)
	}
	if err := lc.DeleteDC(h.ctx, "", "DC1"); !errors.Is(err, core.ErrConflict) {
		t.Errorf("DeleteDC: expected ErrConflict, got %v", err)
	}
	if got := h.remaining(t, lots[0]); !got.Equal(d("6")) {
		t.Errorf("refused delete must leave the ledger alone, remaining %s", got)
	}
}

func TestLifecycle_AuditTrail(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	lots := h.importPO(t, "PO-1", "100")
	h.createDC(t, "DC1", "PO-1", item(lots[0], "1"))
	if err := h.lc.DeleteDC(h.ctx, "", "DC1"); err != nil {
		t.Fatalf("DeleteDC: %v", err)
	}

	var got [][3]string
	for _, e := range h.store.Events() {
		got = append(got, [3]string{e.Action, e.Number, e.Actor})
	}
	want := [][3]string{
		{"IMPORT", "PO-1", "importer"},
		{"CREATE", "DC1", "alice"},
		{"DELETE", "DC1", "system"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestImportPurchaseOrder(t *testing.T) {
	total := d("99")
	tests := []struct {
		name         string
		po           core.PurchaseOrder
		wantRejected int
	}{
		{
			name: "valid",
			po: core.PurchaseOrder{Number: "PO-OK", Lines: []core.POLine{
				{LineNo: 1, MaterialCode: "M1", Lots: []core.Lot{{LotNo: 1, OrderedQty: d("10")}, {LotNo: 2, OrderedQty: d("0")}}},
			}},
		},
		{
			name:         "no number and no lines",
			po:           core.PurchaseOrder{},
			wantRejected: 2,
		},
		{
			name: "line problems",
			po: core.PurchaseOrder{Number: "PO-BAD", Lines: []core.POLine{
				{LineNo: 1, MaterialCode: "M1", Lots: []core.Lot{{LotNo: 1, OrderedQty: d("-1")}, {LotNo: 1, OrderedQty: d("5")}}},
				{LineNo: 1, Lots: nil},
			}},
			// negative lot, duplicate lot, duplicate line, missing material, no lots
			wantRejected: 5,
		},
		{
			name: "declared total mismatch",
			po: core.PurchaseOrder{Number: "PO-TOT", Lines: []core.POLine{
				{LineNo: 1, MaterialCode: "M1", TotalOrdered: &total, Lots: []core.Lot{{LotNo: 1, OrderedQty: d("100")}}},
			}},
			wantRejected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, time.Second)
			po := tt.po
			_, err := h.lc.ImportPurchaseOrder(h.ctx, "", &po)
			if got := len(core.Rejections(err)); got != tt.wantRejected {
				t.Fatalf("expected %d rejections, got %d: %v", tt.wantRejected, got, err)
			}
			if tt.wantRejected > 0 {
				return
			}
			if _, err := h.lc.ImportPurchaseOrder(h.ctx, "", &po); !errors.Is(err, core.ErrConflict) {
				t.Errorf("expected ErrConflict on re-import, got %v", err)
			}
		})
	}
}
