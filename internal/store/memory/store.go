// Package memory is an in-process core.Store. Writes staged in a transaction are applied
// under one write lock at commit, so readers observe either all or none of them.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"procurement-recon/internal/core"

	"github.com/shopspring/decimal"
)

// compile-time interface check
var _ core.Store = (*Store)(nil)

type seqKey struct {
	docType string
	year    int
}

type Store struct {
	mu sync.RWMutex

	pos        map[string]*core.PurchaseOrder
	lineOwner  map[int]string
	nextLineID int
	entries    map[core.LotRef]core.LedgerEntry
	dcs        map[string]*core.DeliveryChallan
	invoices   map[string]*core.Invoice
	sequences  map[seqKey]int64
	events     []core.DocumentEvent
}

func New() *Store {
	return &Store{
		pos:       make(map[string]*core.PurchaseOrder),
		lineOwner: make(map[int]string),
		entries:   make(map[core.LotRef]core.LedgerEntry),
		dcs:       make(map[string]*core.DeliveryChallan),
		invoices:  make(map[string]*core.Invoice),
		sequences: make(map[seqKey]int64),
	}
}

// Events returns a copy of the audit trail.
func (s *Store) Events() []core.DocumentEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.DocumentEvent(nil), s.events...)
}

// ==================== Purchase orders ====================

func (s *Store) CreatePurchaseOrder(_ context.Context, po *core.PurchaseOrder, event core.DocumentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pos[po.Number]; exists {
		return fmt.Errorf("purchase order %s already exists: %w", po.Number, core.ErrConflict)
	}
	for i := range po.Lines {
		s.nextLineID++
		po.Lines[i].ID = s.nextLineID
		po.Lines[i].PONumber = po.Number
		s.lineOwner[po.Lines[i].ID] = po.Number
		for _, lot := range po.Lines[i].Lots {
			ref := core.LotRef{POLineID: po.Lines[i].ID, LotNo: lot.LotNo}
			s.entries[ref] = core.LedgerEntry{
				Lot: ref, OrderedQty: lot.OrderedQty, DispatchedQty: decimal.Zero, InvoicedQty: decimal.Zero,
			}
		}
	}
	s.pos[po.Number] = copyPO(po)
	s.events = append(s.events, event)
	return nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, poNumber string) (*core.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, ok := s.pos[poNumber]
	if !ok {
		return nil, fmt.Errorf("purchase order %s: %w", poNumber, core.ErrNotFound)
	}
	return copyPO(po), nil
}

func (s *Store) ListPurchaseOrders(_ context.Context) ([]core.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.PurchaseOrder, 0, len(s.pos))
	for _, po := range s.pos {
		out = append(out, *copyPO(po))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) POForLine(_ context.Context, poLineID int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, ok := s.lineOwner[poLineID]
	if !ok {
		return "", fmt.Errorf("PO line %d: %w", poLineID, core.ErrNotFound)
	}
	return po, nil
}

// ==================== Documents ====================

func (s *Store) GetDC(_ context.Context, dcNumber string) (*core.DeliveryChallan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getDC(dcNumber)
}

func (s *Store) getDC(dcNumber string) (*core.DeliveryChallan, error) {
	dc, ok := s.dcs[dcNumber]
	if !ok {
		return nil, fmt.Errorf("DC %s: %w", dcNumber, core.ErrNotFound)
	}
	return copyDC(dc), nil
}

func (s *Store) ListDCs(_ context.Context, poNumber string) ([]core.DeliveryChallan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.DeliveryChallan, 0)
	for _, dc := range s.dcs {
		if dc.PONumber == poNumber {
			out = append(out, *copyDC(dc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) GetInvoice(_ context.Context, invoiceNumber string) (*core.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getInvoice(invoiceNumber)
}

func (s *Store) getInvoice(invoiceNumber string) (*core.Invoice, error) {
	inv, ok := s.invoices[invoiceNumber]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", invoiceNumber, core.ErrNotFound)
	}
	return copyInvoice(inv), nil
}

func (s *Store) ListInvoices(_ context.Context) ([]core.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		out = append(out, *copyInvoice(inv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) LoadBook(_ context.Context, scope string) (*core.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buildBook(scope)
}

// buildBook assembles the book for scope. Callers hold s.mu.
func (s *Store) buildBook(scope string) (*core.Book, error) {
	var po *core.PurchaseOrder
	if scope != core.UnlinkedScope {
		stored, ok := s.pos[scope]
		if !ok {
			return nil, fmt.Errorf("purchase order %s: %w", scope, core.ErrNotFound)
		}
		po = copyPO(stored)
	}
	book := core.NewBook(scope, po)

	if po != nil {
		for _, line := range po.Lines {
			for _, lot := range line.Lots {
				ref := core.LotRef{POLineID: line.ID, LotNo: lot.LotNo}
				if e, ok := s.entries[ref]; ok {
					entry := e
					book.Entries[ref] = &entry
				}
			}
		}
	}

	for _, dc := range s.dcs {
		if dc.PONumber != scope {
			continue
		}
		for _, it := range dc.Items {
			pos := &core.ItemPosition{Ref: dc.Ref(it.LineNo), DispatchedQty: it.DispatchedQty, InvoicedQty: decimal.Zero}
			if it.Lot != nil {
				lot := *it.Lot
				pos.Lot = &lot
			}
			book.Items[pos.Ref] = pos
		}
	}
	for _, inv := range s.invoices {
		if inv.PONumber != scope {
			continue
		}
		for _, it := range inv.Items {
			if pos, ok := book.Items[it.DCItem]; ok {
				pos.InvoicedQty = pos.InvoicedQty.Add(it.InvoicedQty)
			}
		}
	}
	return book, nil
}

// ==================== Transactions ====================

func (s *Store) Begin(_ context.Context) (core.StoreTx, error) {
	return &tx{s: s}, nil
}

// tx stages writes as closures. Commit re-checks uniqueness and applies everything under
// the store's write lock.
type tx struct {
	s      *Store
	checks []func() error
	ops    []func()
	done   bool
}

var errTxDone = errors.New("memory: transaction already committed or rolled back")

func (t *tx) LockScope(_ context.Context, scope string) error {
	if scope == core.UnlinkedScope {
		return nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if _, ok := t.s.pos[scope]; !ok {
		return fmt.Errorf("purchase order %s: %w", scope, core.ErrNotFound)
	}
	return nil
}

func (t *tx) LoadBook(ctx context.Context, scope string) (*core.Book, error) {
	return t.s.LoadBook(ctx, scope)
}

func (t *tx) GetDC(ctx context.Context, dcNumber string) (*core.DeliveryChallan, error) {
	return t.s.GetDC(ctx, dcNumber)
}

func (t *tx) GetInvoice(ctx context.Context, invoiceNumber string) (*core.Invoice, error) {
	return t.s.GetInvoice(ctx, invoiceNumber)
}

func (t *tx) InvoicesReferencingDC(_ context.Context, dcNumber string) ([]string, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	var out []string
	for _, inv := range t.s.invoices {
		for _, n := range inv.DCNumbers {
			if n == dcNumber {
				out = append(out, inv.Number)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// NextSequence increments immediately; a rolled back transaction leaves a gap.
func (t *tx) NextSequence(_ context.Context, docType string, year int) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	k := seqKey{docType: docType, year: year}
	t.s.sequences[k]++
	return t.s.sequences[k], nil
}

func (t *tx) InsertDC(_ context.Context, dc *core.DeliveryChallan) error {
	c := copyDC(dc)
	t.checks = append(t.checks, func() error {
		if _, exists := t.s.dcs[c.Number]; exists {
			return fmt.Errorf("DC %s already exists: %w", c.Number, core.ErrConflict)
		}
		return nil
	})
	t.ops = append(t.ops, func() { t.s.dcs[c.Number] = c })
	return nil
}

func (t *tx) DeleteDC(_ context.Context, dcNumber string) error {
	t.ops = append(t.ops, func() { delete(t.s.dcs, dcNumber) })
	return nil
}

func (t *tx) InsertInvoice(_ context.Context, inv *core.Invoice) error {
	c := copyInvoice(inv)
	t.checks = append(t.checks, func() error {
		if _, exists := t.s.invoices[c.Number]; exists {
			return fmt.Errorf("invoice %s already exists: %w", c.Number, core.ErrConflict)
		}
		return nil
	})
	t.ops = append(t.ops, func() { t.s.invoices[c.Number] = c })
	return nil
}

func (t *tx) DeleteInvoice(_ context.Context, invoiceNumber string) error {
	t.ops = append(t.ops, func() { delete(t.s.invoices, invoiceNumber) })
	return nil
}

func (t *tx) SaveEntries(_ context.Context, entries []core.LedgerEntry) error {
	staged := append([]core.LedgerEntry(nil), entries...)
	t.ops = append(t.ops, func() {
		for _, e := range staged {
			t.s.entries[e.Lot] = e
		}
	})
	return nil
}

func (t *tx) AppendEvent(_ context.Context, event core.DocumentEvent) error {
	t.ops = append(t.ops, func() { t.s.events = append(t.s.events, event) })
	return nil
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, check := range t.checks {
		if err := check(); err != nil {
			return err
		}
	}
	for _, op := range t.ops {
		op()
	}
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	t.done = true
	t.ops = nil
	t.checks = nil
	return nil
}

// ==================== Copies ====================

func copyPO(po *core.PurchaseOrder) *core.PurchaseOrder {
	c := *po
	c.Lines = make([]core.POLine, len(po.Lines))
	for i, line := range po.Lines {
		l := line
		if line.TotalOrdered != nil {
			total := *line.TotalOrdered
			l.TotalOrdered = &total
		}
		l.Lots = append([]core.Lot(nil), line.Lots...)
		c.Lines[i] = l
	}
	return &c
}

func copyDC(dc *core.DeliveryChallan) *core.DeliveryChallan {
	c := *dc
	c.Items = make([]core.DCItem, len(dc.Items))
	for i, it := range dc.Items {
		item := it
		if it.Lot != nil {
			lot := *it.Lot
			item.Lot = &lot
		}
		c.Items[i] = item
	}
	return &c
}

func copyInvoice(inv *core.Invoice) *core.Invoice {
	c := *inv
	c.DCNumbers = append([]string(nil), inv.DCNumbers...)
	c.Items = append([]core.InvoiceItem(nil), inv.Items...)
	return &c
}
