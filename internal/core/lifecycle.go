package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DCHeader holds the non-item fields of a new delivery challan.
// An empty Number is replaced by a system-assigned one.
type DCHeader struct {
	Number      string
	Date        time.Time
	PONumber    string
	Consignee   string
	VehicleNo   string
	Transporter string
}

// DCItemInput is one item of a new delivery challan. A nil Lot is a manual item.
type DCItemInput struct {
	Lot         *LotRef
	Description string
	Unit        string
	Qty         decimal.Decimal
}

// InvoiceHeader holds the non-item fields of a new invoice.
type InvoiceHeader struct {
	Number        string
	Date          time.Time
	BuyerName     string
	BuyerGSTIN    string
	PlaceOfSupply string
	Taxes         TaxRates
}

// InvoiceItemInput is one item of a new invoice.
type InvoiceItemInput struct {
	DCItem DCItemRef
	Qty    decimal.Decimal
	Rate   decimal.Decimal
}

// DCReceipt is returned by CreateDC: the committed DC and the post-commit lot positions.
type DCReceipt struct {
	DC             *DeliveryChallan
	Entries        []LedgerEntry
	DispatchStatus Status
}

// InvoiceReceipt is returned by CreateInvoice.
type InvoiceReceipt struct {
	Invoice       *Invoice
	DCStatuses    map[string]Status
	InvoiceStatus Status
}

// Lifecycle is the only component that mutates the ledger. Every write runs under the
// scope lock of its purchase order, validates the whole batch, applies ledger deltas,
// audits the result, and commits documents and counters in one store transaction.
type Lifecycle struct {
	store  Store
	engine *Engine
	locks  *LockTable
	now    func() time.Time
}

// NewLifecycle constructs a Lifecycle over store.
func NewLifecycle(store Store, engine *Engine, locks *LockTable) *Lifecycle {
	return &Lifecycle{store: store, engine: engine, locks: locks, now: time.Now}
}

// ImportPurchaseOrder validates and persists an ingested purchase order with its ledger
// entries.
func (m *Lifecycle) ImportPurchaseOrder(ctx context.Context, actor string, po *PurchaseOrder) (*PurchaseOrder, error) {
	if err := po.Validate(); err != nil {
		return nil, err
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = m.now()
	}
	for i := range po.Lines {
		po.Lines[i].PONumber = po.Number
	}
	event := DocumentEvent{Action: "IMPORT", DocType: DocTypePO, Number: po.Number, PONumber: po.Number, Actor: actorOrSystem(actor), At: m.now()}
	if err := m.store.CreatePurchaseOrder(ctx, po, event); err != nil {
		return nil, fmt.Errorf("import purchase order %s: %w", po.Number, err)
	}
	return po, nil
}

// CreateDC validates every item against the PO's remaining quantities and commits the DC
// with its ledger deltas, or commits nothing and returns the full rejection list.
func (m *Lifecycle) CreateDC(ctx context.Context, actor string, header DCHeader, items []DCItemInput) (*DCReceipt, error) {
	scope := header.PONumber
	release, err := m.locks.Acquire(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer release()

	var receipt *DCReceipt
	err = m.inTx(ctx, scope, func(tx StoreTx, ledger *QuantityLedger) error {
		requests := make([]DispatchRequest, len(items))
		for i, it := range items {
			requests[i] = DispatchRequest{Lot: it.Lot, Qty: it.Qty}
		}
		if err := m.engine.ValidateDispatchBatch(ledger.Book(), scope, requests); err != nil {
			return err
		}

		date := header.Date
		if date.IsZero() {
			date = m.now()
		}
		number, err := m.documentNumber(ctx, tx, DocTypeDC, header.Number, date)
		if err != nil {
			return err
		}

		dc := &DeliveryChallan{
			Number:      number,
			Date:        date,
			PONumber:    header.PONumber,
			Consignee:   header.Consignee,
			VehicleNo:   header.VehicleNo,
			Transporter: header.Transporter,
			Items:       make([]DCItem, len(items)),
			CreatedBy:   actorOrSystem(actor),
			CreatedAt:   m.now(),
		}
		for i, it := range items {
			dc.Items[i] = DCItem{LineNo: i + 1, Lot: it.Lot, Description: it.Description, Unit: it.Unit, DispatchedQty: it.Qty}
			if err := ledger.TrackItem(dc.Ref(i+1), it.Lot, it.Qty); err != nil {
				return fmt.Errorf("apply dispatch for DC item %d: %w", i+1, err)
			}
		}

		if err := tx.InsertDC(ctx, dc); err != nil {
			return fmt.Errorf("insert DC %s: %w", dc.Number, err)
		}
		if err := tx.AppendEvent(ctx, m.event("CREATE", DocTypeDC, dc.Number, scope, dc.CreatedBy)); err != nil {
			return fmt.Errorf("record DC event: %w", err)
		}

		entries := ledger.Book().SortedEntries()
		receipt = &DCReceipt{DC: dc, Entries: entries, DispatchStatus: PODispatchStatus(entries)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("dc %s created by %s (po=%q, %d items)", receipt.DC.Number, receipt.DC.CreatedBy, scope, len(receipt.DC.Items))
	return receipt, nil
}

// DeleteDC removes a DC and reverses its dispatch. It is refused with a ConflictError
// while any invoice still claims one of its items.
func (m *Lifecycle) DeleteDC(ctx context.Context, actor, dcNumber string) error {
	dc, err := m.store.GetDC(ctx, dcNumber)
	if err != nil {
		return err
	}
	scope := dc.PONumber

	release, err := m.locks.Acquire(ctx, scope)
	if err != nil {
		return err
	}
	defer release()

	err = m.inTx(ctx, scope, func(tx StoreTx, ledger *QuantityLedger) error {
		current, err := tx.GetDC(ctx, dcNumber)
		if err != nil {
			return err
		}
		if current.PONumber != scope {
			return &ConflictError{Reason: fmt.Sprintf("DC %s was replaced on another purchase order while waiting for the lock; retry", dcNumber)}
		}
		invoices, err := tx.InvoicesReferencingDC(ctx, dcNumber)
		if err != nil {
			return fmt.Errorf("check invoices for DC %s: %w", dcNumber, err)
		}
		if len(invoices) > 0 {
			return &ConflictError{Reason: fmt.Sprintf("DC %s is invoiced; delete its invoices first", dcNumber), Dependents: invoices}
		}

		// Reverse every dispatch before removing the rows.
		for _, it := range current.Items {
			if err := ledger.UntrackItem(current.Ref(it.LineNo)); err != nil {
				return fmt.Errorf("reverse dispatch for DC item %d: %w", it.LineNo, err)
			}
		}
		if err := tx.DeleteDC(ctx, dcNumber); err != nil {
			return fmt.Errorf("delete DC %s: %w", dcNumber, err)
		}
		return tx.AppendEvent(ctx, m.event("DELETE", DocTypeDC, dcNumber, scope, actorOrSystem(actor)))
	})
	if err != nil {
		return err
	}

	log.Printf("dc %s deleted by %s", dcNumber, actorOrSystem(actor))
	return nil
}

// CreateInvoice validates every claim against its DC item's remaining quantity and commits
// the invoice with its ledger deltas. All linked DCs must belong to the same PO.
func (m *Lifecycle) CreateInvoice(ctx context.Context, actor string, header InvoiceHeader, dcNumbers []string, items []InvoiceItemInput) (*InvoiceReceipt, error) {
	claims := make([]InvoiceClaim, len(items))
	for i, it := range items {
		claims[i] = InvoiceClaim{Item: it.DCItem, Qty: it.Qty}
	}

	scope, err := m.invoiceScope(ctx, dcNumbers, claims)
	if err != nil {
		return nil, err
	}

	release, err := m.locks.Acquire(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer release()

	var receipt *InvoiceReceipt
	err = m.inTx(ctx, scope, func(tx StoreTx, ledger *QuantityLedger) error {
		verr := m.engine.ValidateInvoiceBatch(ledger.Book(), dcNumbers, claims)
		rejections := Rejections(verr)
		if verr != nil && rejections == nil {
			return verr
		}
		for i, it := range items {
			if it.Rate.IsNegative() {
				rejections = append(rejections, Rejection{
					Ref: fmt.Sprintf("item %d (DC %s)", i+1, it.DCItem), Reason: "rate cannot be negative",
				})
			}
		}
		if len(rejections) > 0 {
			return &ValidationError{Rejections: rejections}
		}

		date := header.Date
		if date.IsZero() {
			date = m.now()
		}
		number, err := m.documentNumber(ctx, tx, DocTypeInvoice, header.Number, date)
		if err != nil {
			return err
		}

		inv := &Invoice{
			Number:        number,
			Date:          date,
			BuyerName:     header.BuyerName,
			BuyerGSTIN:    header.BuyerGSTIN,
			PlaceOfSupply: header.PlaceOfSupply,
			PONumber:      scope,
			DCNumbers:     dedupe(dcNumbers),
			Items:         make([]InvoiceItem, len(items)),
			Taxes:         header.Taxes,
			CreatedBy:     actorOrSystem(actor),
			CreatedAt:     m.now(),
		}
		for i, it := range items {
			inv.Items[i] = InvoiceItem{LineNo: i + 1, DCItem: it.DCItem, InvoicedQty: it.Qty, Rate: it.Rate}
			if err := ledger.ApplyInvoice(it.DCItem, it.Qty); err != nil {
				return fmt.Errorf("apply invoice item %d: %w", i+1, err)
			}
		}
		inv.Totals = ComputeTotals(inv.Items, inv.Taxes)

		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return fmt.Errorf("insert invoice %s: %w", inv.Number, err)
		}
		if err := tx.AppendEvent(ctx, m.event("CREATE", DocTypeInvoice, inv.Number, scope, inv.CreatedBy)); err != nil {
			return fmt.Errorf("record invoice event: %w", err)
		}

		receipt = &InvoiceReceipt{
			Invoice:       inv,
			DCStatuses:    dcStatuses(ledger.Book(), inv.DCNumbers),
			InvoiceStatus: POInvoiceStatus(ledger.Book().SortedEntries()),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("invoice %s created by %s (po=%q, dcs=%s)", receipt.Invoice.Number, receipt.Invoice.CreatedBy, scope, strings.Join(receipt.Invoice.DCNumbers, ","))
	return receipt, nil
}

// DeleteInvoice removes an invoice and reverses its claims. Nothing depends on invoices,
// so this is always permitted for an existing invoice.
func (m *Lifecycle) DeleteInvoice(ctx context.Context, actor, invoiceNumber string) error {
	inv, err := m.store.GetInvoice(ctx, invoiceNumber)
	if err != nil {
		return err
	}
	scope := inv.PONumber

	release, err := m.locks.Acquire(ctx, scope)
	if err != nil {
		return err
	}
	defer release()

	err = m.inTx(ctx, scope, func(tx StoreTx, ledger *QuantityLedger) error {
		current, err := tx.GetInvoice(ctx, invoiceNumber)
		if err != nil {
			return err
		}
		if current.PONumber != scope {
			return &ConflictError{Reason: fmt.Sprintf("invoice %s was replaced on another purchase order while waiting for the lock; retry", invoiceNumber)}
		}
		for _, it := range current.Items {
			if err := ledger.ReverseInvoice(it.DCItem, it.InvoicedQty); err != nil {
				return fmt.Errorf("reverse invoice item %d: %w", it.LineNo, err)
			}
		}
		if err := tx.DeleteInvoice(ctx, invoiceNumber); err != nil {
			return fmt.Errorf("delete invoice %s: %w", invoiceNumber, err)
		}
		return tx.AppendEvent(ctx, m.event("DELETE", DocTypeInvoice, invoiceNumber, scope, actorOrSystem(actor)))
	})
	if err != nil {
		return err
	}

	log.Printf("invoice %s deleted by %s", invoiceNumber, actorOrSystem(actor))
	return nil
}

// inTx runs fn against a freshly loaded book inside one store transaction, audits the
// ledger, persists changed entries, and commits. Any error rolls everything back.
func (m *Lifecycle) inTx(ctx context.Context, scope string, fn func(tx StoreTx, ledger *QuantityLedger) error) error {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.LockScope(ctx, scope); err != nil {
		return err
	}
	book, err := tx.LoadBook(ctx, scope)
	if err != nil {
		return err
	}
	ledger := NewQuantityLedger(book)

	if err := fn(tx, ledger); err != nil {
		m.abortOnInvariant(ctx, tx, err)
		return err
	}
	if err := ledger.Audit(); err != nil {
		m.abortOnInvariant(ctx, tx, err)
		return err
	}
	if err := tx.SaveEntries(ctx, ledger.Changed()); err != nil {
		return fmt.Errorf("save ledger entries: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// abortOnInvariant rolls back and panics if err is an InvariantViolation: the ledger has
// diverged from its defining sums and must not be written to again.
func (m *Lifecycle) abortOnInvariant(ctx context.Context, tx StoreTx, err error) {
	var iv *InvariantViolation
	if !errors.As(err, &iv) {
		return
	}
	log.Printf("FATAL: %v", err)
	_ = tx.Rollback(ctx)
	panic(iv)
}

// invoiceScope resolves the single purchase order all linked DCs belong to. DCs that do
// not exist are left for the engine to report together with item problems.
func (m *Lifecycle) invoiceScope(ctx context.Context, dcNumbers []string, claims []InvoiceClaim) (string, error) {
	scopes := make(map[string][]string)
	for _, n := range dedupe(dcNumbers) {
		dc, err := m.store.GetDC(ctx, n)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return "", fmt.Errorf("resolve DC %s: %w", n, err)
		}
		scopes[dc.PONumber] = append(scopes[dc.PONumber], n)
	}

	switch len(scopes) {
	case 0:
		// Nothing resolves: validate against an empty book so every problem is listed.
		err := m.engine.ValidateInvoiceBatch(NewBook(UnlinkedScope, nil), dcNumbers, claims)
		if err == nil {
			err = &ValidationError{Rejections: []Rejection{{Ref: "dc_numbers", Reason: "no linked DC found"}}}
		}
		return "", err
	case 1:
		for scope := range scopes {
			return scope, nil
		}
	}

	var rejections []Rejection
	pos := make([]string, 0, len(scopes))
	for po := range scopes {
		pos = append(pos, po)
	}
	sort.Strings(pos)
	for _, po := range pos {
		label := po
		if label == UnlinkedScope {
			label = "(none)"
		}
		for _, n := range scopes[po] {
			rejections = append(rejections, Rejection{Ref: "DC " + n, Reason: "linked DCs belong to different purchase orders; this one is on PO " + label})
		}
	}
	return "", &ValidationError{Rejections: rejections}
}

// documentNumber returns the requested number after checking it is unused, or draws a
// system number.
func (m *Lifecycle) documentNumber(ctx context.Context, tx StoreTx, docType, requested string, date time.Time) (string, error) {
	if requested == "" {
		return assignNumber(ctx, tx, docType, date)
	}

	taken, err := numberTaken(ctx, tx, docType, requested)
	if err != nil {
		return "", err
	}
	if taken {
		return "", &ConflictError{Reason: fmt.Sprintf("%s number %s already exists", docType, requested)}
	}
	return requested, nil
}

func (m *Lifecycle) event(action, docType, number, po, actor string) DocumentEvent {
	return DocumentEvent{Action: action, DocType: docType, Number: number, PONumber: po, Actor: actor, At: m.now()}
}

func dcStatuses(book *Book, dcNumbers []string) map[string]Status {
	byDC := make(map[string][]ItemPosition)
	for _, it := range book.Items {
		byDC[it.Ref.DCNumber] = append(byDC[it.Ref.DCNumber], *it)
	}
	out := make(map[string]Status, len(dcNumbers))
	for _, n := range dcNumbers {
		out[n] = DCInvoiceStatus(byDC[n])
	}
	return out
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
