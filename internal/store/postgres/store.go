// Package postgres is the PostgreSQL core.Store. Scope locks are row locks on the
// purchase order, so several processes sharing one database serialize correctly.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"procurement-recon/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var _ core.Store = (*Store)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// New returns a store over pool. Transactions that wait longer than lockTimeout for a
// row lock fail with core.ErrBusy; zero waits as long as the context allows.
func New(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

// readTx runs fn in a read-only REPEATABLE READ transaction so that every query in fn
// sees the same snapshot.
func (s *Store) readTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ==================== Purchase orders ====================

func (s *Store) CreatePurchaseOrder(ctx context.Context, po *core.PurchaseOrder, event core.DocumentEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO purchase_orders (po_number, supplier_ref, ordered_date, created_at)
		VALUES ($1, $2, $3, $4)
	`, po.Number, po.SupplierRef, nullTime(po.OrderedDate), po.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("purchase order %s already exists: %w", po.Number, core.ErrConflict)
		}
		return fmt.Errorf("failed to insert purchase order: %w", err)
	}

	for i := range po.Lines {
		line := &po.Lines[i]
		total := decimal.NullDecimal{}
		if line.TotalOrdered != nil {
			total = decimal.NullDecimal{Decimal: *line.TotalOrdered, Valid: true}
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO po_lines (po_number, line_no, material_code, description, unit, hsn_code, total_ordered)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, po.Number, line.LineNo, line.MaterialCode, line.Description, line.Unit, line.HSNCode, total).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("failed to insert PO line %d: %w", line.LineNo, err)
		}
		line.PONumber = po.Number

		for _, lot := range line.Lots {
			_, err := tx.Exec(ctx, `
				INSERT INTO po_lots (po_line_id, lot_no, ordered_qty, due_date)
				VALUES ($1, $2, $3, $4)
			`, line.ID, lot.LotNo, lot.OrderedQty, nullTime(lot.DueDate))
			if err != nil {
				return fmt.Errorf("failed to insert lot %d of line %d: %w", lot.LotNo, line.LineNo, err)
			}
		}
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetPurchaseOrder(ctx context.Context, poNumber string) (*core.PurchaseOrder, error) {
	var po *core.PurchaseOrder
	err := s.readTx(ctx, func(q querier) error {
		var err error
		po, err = getPO(ctx, q, poNumber)
		return err
	})
	return po, err
}

func (s *Store) ListPurchaseOrders(ctx context.Context) ([]core.PurchaseOrder, error) {
	out := make([]core.PurchaseOrder, 0)
	err := s.readTx(ctx, func(q querier) error {
		numbers, err := queryStrings(ctx, q, "SELECT po_number FROM purchase_orders ORDER BY po_number")
		if err != nil {
			return fmt.Errorf("failed to list purchase orders: %w", err)
		}
		for _, n := range numbers {
			po, err := getPO(ctx, q, n)
			if err != nil {
				return err
			}
			out = append(out, *po)
		}
		return nil
	})
	return out, err
}

func (s *Store) POForLine(ctx context.Context, poLineID int) (string, error) {
	var po string
	err := s.pool.QueryRow(ctx, "SELECT po_number FROM po_lines WHERE id = $1", poLineID).Scan(&po)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("PO line %d: %w", poLineID, core.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve PO line %d: %w", poLineID, err)
	}
	return po, nil
}

func getPO(ctx context.Context, q querier, poNumber string) (*core.PurchaseOrder, error) {
	po := &core.PurchaseOrder{}
	var ordered *time.Time
	err := q.QueryRow(ctx, `
		SELECT po_number, supplier_ref, ordered_date, created_at
		FROM purchase_orders WHERE po_number = $1
	`, poNumber).Scan(&po.Number, &po.SupplierRef, &ordered, &po.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("purchase order %s: %w", poNumber, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase order %s: %w", poNumber, err)
	}
	if ordered != nil {
		po.OrderedDate = *ordered
	}

	rows, err := q.Query(ctx, `
		SELECT id, line_no, material_code, description, unit, hsn_code, total_ordered
		FROM po_lines WHERE po_number = $1 ORDER BY line_no
	`, poNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query PO lines: %w", err)
	}
	index := make(map[int]int)
	for rows.Next() {
		var l core.POLine
		var total decimal.NullDecimal
		if err := rows.Scan(&l.ID, &l.LineNo, &l.MaterialCode, &l.Description, &l.Unit, &l.HSNCode, &total); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan PO line: %w", err)
		}
		l.PONumber = poNumber
		if total.Valid {
			t := total.Decimal
			l.TotalOrdered = &t
		}
		index[l.ID] = len(po.Lines)
		po.Lines = append(po.Lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read PO lines: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT l.po_line_id, l.lot_no, l.ordered_qty, l.due_date
		FROM po_lots l JOIN po_lines pl ON pl.id = l.po_line_id
		WHERE pl.po_number = $1
		ORDER BY l.po_line_id, l.lot_no
	`, poNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var lineID int
		var lot core.Lot
		var due *time.Time
		if err := rows.Scan(&lineID, &lot.LotNo, &lot.OrderedQty, &due); err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		if due != nil {
			lot.DueDate = *due
		}
		line := &po.Lines[index[lineID]]
		line.Lots = append(line.Lots, lot)
	}
	return po, rows.Err()
}

// ==================== Documents ====================

func (s *Store) GetDC(ctx context.Context, dcNumber string) (*core.DeliveryChallan, error) {
	var dc *core.DeliveryChallan
	err := s.readTx(ctx, func(q querier) error {
		var err error
		dc, err = getDC(ctx, q, dcNumber)
		return err
	})
	return dc, err
}

func (s *Store) ListDCs(ctx context.Context, poNumber string) ([]core.DeliveryChallan, error) {
	out := make([]core.DeliveryChallan, 0)
	err := s.readTx(ctx, func(q querier) error {
		numbers, err := queryStrings(ctx, q,
			"SELECT dc_number FROM delivery_challans WHERE COALESCE(po_number, '') = $1 ORDER BY dc_number", poNumber)
		if err != nil {
			return fmt.Errorf("failed to list DCs: %w", err)
		}
		for _, n := range numbers {
			dc, err := getDC(ctx, q, n)
			if err != nil {
				return err
			}
			out = append(out, *dc)
		}
		return nil
	})
	return out, err
}

func getDC(ctx context.Context, q querier, dcNumber string) (*core.DeliveryChallan, error) {
	dc := &core.DeliveryChallan{}
	err := q.QueryRow(ctx, `
		SELECT dc_number, dc_date, COALESCE(po_number, ''), consignee, vehicle_no, transporter, created_by, created_at
		FROM delivery_challans WHERE dc_number = $1
	`, dcNumber).Scan(&dc.Number, &dc.Date, &dc.PONumber, &dc.Consignee, &dc.VehicleNo, &dc.Transporter, &dc.CreatedBy, &dc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("DC %s: %w", dcNumber, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get DC %s: %w", dcNumber, err)
	}

	rows, err := q.Query(ctx, `
		SELECT line_no, po_line_id, lot_no, description, unit, dispatched_qty
		FROM dc_items WHERE dc_number = $1 ORDER BY line_no
	`, dcNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query DC items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it core.DCItem
		var lineID, lotNo *int
		if err := rows.Scan(&it.LineNo, &lineID, &lotNo, &it.Description, &it.Unit, &it.DispatchedQty); err != nil {
			return nil, fmt.Errorf("failed to scan DC item: %w", err)
		}
		it.Lot = lotRef(lineID, lotNo)
		dc.Items = append(dc.Items, it)
	}
	return dc, rows.Err()
}

func (s *Store) GetInvoice(ctx context.Context, invoiceNumber string) (*core.Invoice, error) {
	var inv *core.Invoice
	err := s.readTx(ctx, func(q querier) error {
		var err error
		inv, err = getInvoice(ctx, q, invoiceNumber)
		return err
	})
	return inv, err
}

func (s *Store) ListInvoices(ctx context.Context) ([]core.Invoice, error) {
	out := make([]core.Invoice, 0)
	err := s.readTx(ctx, func(q querier) error {
		numbers, err := queryStrings(ctx, q, "SELECT invoice_number FROM invoices ORDER BY invoice_number")
		if err != nil {
			return fmt.Errorf("failed to list invoices: %w", err)
		}
		for _, n := range numbers {
			inv, err := getInvoice(ctx, q, n)
			if err != nil {
				return err
			}
			out = append(out, *inv)
		}
		return nil
	})
	return out, err
}

func getInvoice(ctx context.Context, q querier, invoiceNumber string) (*core.Invoice, error) {
	inv := &core.Invoice{}
	err := q.QueryRow(ctx, `
		SELECT invoice_number, invoice_date, buyer_name, buyer_gstin, place_of_supply, COALESCE(po_number, ''),
		       cgst_rate, sgst_rate, igst_rate,
		       taxable_value, cgst_amount, sgst_amount, igst_amount, grand_total,
		       created_by, created_at
		FROM invoices WHERE invoice_number = $1
	`, invoiceNumber).Scan(
		&inv.Number, &inv.Date, &inv.BuyerName, &inv.BuyerGSTIN, &inv.PlaceOfSupply, &inv.PONumber,
		&inv.Taxes.CGST, &inv.Taxes.SGST, &inv.Taxes.IGST,
		&inv.Totals.Taxable, &inv.Totals.CGST, &inv.Totals.SGST, &inv.Totals.IGST, &inv.Totals.Grand,
		&inv.CreatedBy, &inv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("invoice %s: %w", invoiceNumber, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice %s: %w", invoiceNumber, err)
	}

	inv.DCNumbers, err = queryStrings(ctx, q,
		"SELECT dc_number FROM invoice_dcs WHERE invoice_number = $1 ORDER BY position", invoiceNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice DCs: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT line_no, dc_number, dc_line_no, invoiced_qty, rate
		FROM invoice_items WHERE invoice_number = $1 ORDER BY line_no
	`, invoiceNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it core.InvoiceItem
		if err := rows.Scan(&it.LineNo, &it.DCItem.DCNumber, &it.DCItem.LineNo, &it.InvoicedQty, &it.Rate); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		inv.Items = append(inv.Items, it)
	}
	return inv, rows.Err()
}

func (s *Store) LoadBook(ctx context.Context, scope string) (*core.Book, error) {
	var book *core.Book
	err := s.readTx(ctx, func(q querier) error {
		var err error
		book, err = loadBook(ctx, q, scope)
		return err
	})
	return book, err
}

// loadBook reads the scope's lot entries and its live DC items with the quantity each
// has been invoiced.
func loadBook(ctx context.Context, q querier, scope string) (*core.Book, error) {
	var po *core.PurchaseOrder
	if scope != core.UnlinkedScope {
		var err error
		if po, err = getPO(ctx, q, scope); err != nil {
			return nil, err
		}
	}
	book := core.NewBook(scope, po)

	if po != nil {
		rows, err := q.Query(ctx, `
			SELECT l.po_line_id, l.lot_no, l.ordered_qty, l.dispatched_qty, l.invoiced_qty
			FROM po_lots l JOIN po_lines pl ON pl.id = l.po_line_id
			WHERE pl.po_number = $1
		`, scope)
		if err != nil {
			return nil, fmt.Errorf("failed to query ledger entries: %w", err)
		}
		for rows.Next() {
			e := &core.LedgerEntry{}
			if err := rows.Scan(&e.Lot.POLineID, &e.Lot.LotNo, &e.OrderedQty, &e.DispatchedQty, &e.InvoicedQty); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
			}
			book.Entries[e.Lot] = e
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read ledger entries: %w", err)
		}
	}

	rows, err := q.Query(ctx, `
		SELECT i.dc_number, i.line_no, i.po_line_id, i.lot_no, i.dispatched_qty,
		       COALESCE((SELECT SUM(ii.invoiced_qty) FROM invoice_items ii
		                 WHERE ii.dc_number = i.dc_number AND ii.dc_line_no = i.line_no), 0)
		FROM dc_items i JOIN delivery_challans dc ON dc.dc_number = i.dc_number
		WHERE COALESCE(dc.po_number, '') = $1
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query DC items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		pos := &core.ItemPosition{}
		var lineID, lotNo *int
		if err := rows.Scan(&pos.Ref.DCNumber, &pos.Ref.LineNo, &lineID, &lotNo, &pos.DispatchedQty, &pos.InvoicedQty); err != nil {
			return nil, fmt.Errorf("failed to scan DC item position: %w", err)
		}
		pos.Lot = lotRef(lineID, lotNo)
		book.Items[pos.Ref] = pos
	}
	return book, rows.Err()
}

// ==================== Transactions ====================

func (s *Store) Begin(ctx context.Context) (core.StoreTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, lockError("begin transaction", err)
	}
	if s.lockTimeout > 0 {
		// SET does not accept bind parameters.
		ms := max(s.lockTimeout.Milliseconds(), 1)
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", ms)); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}
	return &storeTx{tx: tx}, nil
}

type storeTx struct {
	tx pgx.Tx
}

// LockScope locks the purchase order row. DCs without a purchase order share one
// transaction-scoped advisory lock.
func (t *storeTx) LockScope(ctx context.Context, scope string) error {
	if scope == core.UnlinkedScope {
		if _, err := t.tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext('procurement-recon:unlinked'))"); err != nil {
			return lockError("lock unlinked scope", err)
		}
		return nil
	}
	var n string
	err := t.tx.QueryRow(ctx, "SELECT po_number FROM purchase_orders WHERE po_number = $1 FOR UPDATE", scope).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("purchase order %s: %w", scope, core.ErrNotFound)
	}
	if err != nil {
		return lockError("lock purchase order "+scope, err)
	}
	return nil
}

func (t *storeTx) LoadBook(ctx context.Context, scope string) (*core.Book, error) {
	return loadBook(ctx, t.tx, scope)
}

func (t *storeTx) GetDC(ctx context.Context, dcNumber string) (*core.DeliveryChallan, error) {
	return getDC(ctx, t.tx, dcNumber)
}

func (t *storeTx) GetInvoice(ctx context.Context, invoiceNumber string) (*core.Invoice, error) {
	return getInvoice(ctx, t.tx, invoiceNumber)
}

func (t *storeTx) InvoicesReferencingDC(ctx context.Context, dcNumber string) ([]string, error) {
	return queryStrings(ctx, t.tx,
		"SELECT invoice_number FROM invoice_dcs WHERE dc_number = $1 ORDER BY invoice_number", dcNumber)
}

func (t *storeTx) NextSequence(ctx context.Context, docType string, year int) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, year, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (doc_type, year)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number
	`, docType, year).Scan(&n)
	if err != nil {
		return 0, lockError("draw "+docType+" sequence", err)
	}
	return n, nil
}

func (t *storeTx) InsertDC(ctx context.Context, dc *core.DeliveryChallan) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO delivery_challans (dc_number, dc_date, po_number, consignee, vehicle_no, transporter, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, dc.Number, dc.Date, nullString(dc.PONumber), dc.Consignee, dc.VehicleNo, dc.Transporter, dc.CreatedBy, dc.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("DC %s already exists: %w", dc.Number, core.ErrConflict)
		}
		return err
	}

	for _, it := range dc.Items {
		var lineID, lotNo any
		if it.Lot != nil {
			lineID, lotNo = it.Lot.POLineID, it.Lot.LotNo
		}
		_, err := t.tx.Exec(ctx, `
			INSERT INTO dc_items (dc_number, line_no, po_line_id, lot_no, description, unit, dispatched_qty)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, dc.Number, it.LineNo, lineID, lotNo, it.Description, it.Unit, it.DispatchedQty)
		if err != nil {
			return fmt.Errorf("failed to insert DC item %d: %w", it.LineNo, err)
		}
	}
	return nil
}

func (t *storeTx) DeleteDC(ctx context.Context, dcNumber string) error {
	tag, err := t.tx.Exec(ctx, "DELETE FROM delivery_challans WHERE dc_number = $1", dcNumber)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("DC %s: %w", dcNumber, core.ErrNotFound)
	}
	return nil
}

func (t *storeTx) InsertInvoice(ctx context.Context, inv *core.Invoice) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO invoices (invoice_number, invoice_date, buyer_name, buyer_gstin, place_of_supply, po_number,
		                      cgst_rate, sgst_rate, igst_rate,
		                      taxable_value, cgst_amount, sgst_amount, igst_amount, grand_total,
		                      created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, inv.Number, inv.Date, inv.BuyerName, inv.BuyerGSTIN, inv.PlaceOfSupply, nullString(inv.PONumber),
		inv.Taxes.CGST, inv.Taxes.SGST, inv.Taxes.IGST,
		inv.Totals.Taxable, inv.Totals.CGST, inv.Totals.SGST, inv.Totals.IGST, inv.Totals.Grand,
		inv.CreatedBy, inv.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("invoice %s already exists: %w", inv.Number, core.ErrConflict)
		}
		return err
	}

	for i, n := range inv.DCNumbers {
		if _, err := t.tx.Exec(ctx,
			"INSERT INTO invoice_dcs (invoice_number, dc_number, position) VALUES ($1, $2, $3)",
			inv.Number, n, i+1); err != nil {
			return fmt.Errorf("failed to link DC %s: %w", n, err)
		}
	}
	for _, it := range inv.Items {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO invoice_items (invoice_number, line_no, dc_number, dc_line_no, invoiced_qty, rate)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, inv.Number, it.LineNo, it.DCItem.DCNumber, it.DCItem.LineNo, it.InvoicedQty, it.Rate)
		if err != nil {
			return fmt.Errorf("failed to insert invoice item %d: %w", it.LineNo, err)
		}
	}
	return nil
}

func (t *storeTx) DeleteInvoice(ctx context.Context, invoiceNumber string) error {
	tag, err := t.tx.Exec(ctx, "DELETE FROM invoices WHERE invoice_number = $1", invoiceNumber)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %s: %w", invoiceNumber, core.ErrNotFound)
	}
	return nil
}

func (t *storeTx) SaveEntries(ctx context.Context, entries []core.LedgerEntry) error {
	for _, e := range entries {
		tag, err := t.tx.Exec(ctx, `
			UPDATE po_lots SET dispatched_qty = $1, invoiced_qty = $2
			WHERE po_line_id = $3 AND lot_no = $4
		`, e.DispatchedQty, e.InvoicedQty, e.Lot.POLineID, e.Lot.LotNo)
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", e.Lot, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%s: %w", e.Lot, core.ErrNotFound)
		}
	}
	return nil
}

func (t *storeTx) AppendEvent(ctx context.Context, event core.DocumentEvent) error {
	return insertEvent(ctx, t.tx, event)
}

func (t *storeTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *storeTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// ==================== Helpers ====================

func insertEvent(ctx context.Context, q querier, e core.DocumentEvent) error {
	_, err := q.Exec(ctx, `
		INSERT INTO document_events (action, doc_type, number, po_number, actor, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.Action, e.DocType, e.Number, nullString(e.PONumber), e.Actor, e.At)
	if err != nil {
		return fmt.Errorf("failed to record %s %s event: %w", e.Action, e.DocType, err)
	}
	return nil
}

func queryStrings(ctx context.Context, q querier, sql string, args ...any) ([]string, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func lotRef(lineID, lotNo *int) *core.LotRef {
	if lineID == nil || lotNo == nil {
		return nil
	}
	return &core.LotRef{POLineID: *lineID, LotNo: *lotNo}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// lockError marks lock waits that ended on lock_timeout (55P03) or on the caller's
// context as core.ErrBusy.
func lockError(what string, err error) error {
	var pgErr *pgconn.PgError
	if (errors.As(err, &pgErr) && pgErr.Code == "55P03") ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", what, core.ErrBusy, err)
	}
	return fmt.Errorf("failed to %s: %w", what, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
