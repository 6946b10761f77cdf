// Package sqlite is a core.Store on an embedded SQLite database via gorm, for
// single-host deployments that do not run PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"procurement-recon/internal/core"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var _ core.Store = (*Store)(nil)

type Store struct {
	db *gorm.DB
}

// defaultBusyTimeout applies when Open is given no lock timeout.
const defaultBusyTimeout = 5 * time.Second

// Open opens (or creates) the database at path and migrates the schema. path may be
// a SQLite URI such as "file:test?mode=memory&cache=shared". Writers blocked by another
// connection for longer than lockTimeout fail with core.ErrBusy.
func Open(path string, lockTimeout time.Duration, debug bool) (*Store, error) {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}
	cfg := &gorm.Config{
		Logger:         logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{LogLevel: logLevel}),
		TranslateError: true,
	}

	db, err := gorm.Open(sqlite.Open(dsn(path, lockTimeout)), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
	}
	// SQLite has a single writer; one connection serializes transactions in-process.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

// dsn adds the pragmas the store relies on: immediate transactions so that writers from
// other processes queue on the database lock, and a busy timeout to wait for them.
func dsn(path string, lockTimeout time.Duration) string {
	if lockTimeout <= 0 {
		lockTimeout = defaultBusyTimeout
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d&_txlock=immediate", path, sep, max(lockTimeout.Milliseconds(), 1))
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// readTx runs fn inside one transaction so multi-table reads see a single state.
func (s *Store) readTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// ==================== Purchase orders ====================

func (s *Store) CreatePurchaseOrder(ctx context.Context, po *core.PurchaseOrder, event core.DocumentEvent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := purchaseOrderRow{PONumber: po.Number, SupplierRef: po.SupplierRef, OrderedDate: timePtr(po.OrderedDate), CreatedAt: po.CreatedAt}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("purchase order %s already exists: %w", po.Number, core.ErrConflict)
			}
			return fmt.Errorf("failed to insert purchase order: %w", err)
		}

		for i := range po.Lines {
			line := &po.Lines[i]
			lineRow := poLineRow{
				PONumber: po.Number, LineNo: line.LineNo, MaterialCode: line.MaterialCode,
				Description: line.Description, Unit: line.Unit, HSNCode: line.HSNCode,
			}
			if line.TotalOrdered != nil {
				lineRow.TotalOrdered = decimal.NewNullDecimal(*line.TotalOrdered)
			}
			if err := tx.Create(&lineRow).Error; err != nil {
				return fmt.Errorf("failed to insert PO line %d: %w", line.LineNo, err)
			}
			line.ID = lineRow.ID
			line.PONumber = po.Number

			for _, lot := range line.Lots {
				lotRow := poLotRow{
					POLineID: line.ID, LotNo: lot.LotNo, OrderedQty: lot.OrderedQty, DueDate: timePtr(lot.DueDate),
					DispatchedQty: decimal.Zero, InvoicedQty: decimal.Zero,
				}
				if err := tx.Create(&lotRow).Error; err != nil {
					return fmt.Errorf("failed to insert lot %d of line %d: %w", lot.LotNo, line.LineNo, err)
				}
			}
		}
		return insertEvent(tx, event)
	})
}

func (s *Store) GetPurchaseOrder(ctx context.Context, poNumber string) (*core.PurchaseOrder, error) {
	var po *core.PurchaseOrder
	err := s.readTx(ctx, func(tx *gorm.DB) error {
		var err error
		po, err = getPO(tx, poNumber)
		return err
	})
	return po, err
}

func (s *Store) ListPurchaseOrders(ctx context.Context) ([]core.PurchaseOrder, error) {
	out := make([]core.PurchaseOrder, 0)
	err := s.readTx(ctx, func(tx *gorm.DB) error {
		var numbers []string
		if err := tx.Model(&purchaseOrderRow{}).Order("po_number").Pluck("po_number", &numbers).Error; err != nil {
			return fmt.Errorf("failed to list purchase orders: %w", err)
		}
		for _, n := range numbers {
			po, err := getPO(tx, n)
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
	var line poLineRow
	err := s.db.WithContext(ctx).First(&line, poLineID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("PO line %d: %w", poLineID, core.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve PO line %d: %w", poLineID, err)
	}
	return line.PONumber, nil
}

func getPO(tx *gorm.DB, poNumber string) (*core.PurchaseOrder, error) {
	var row purchaseOrderRow
	err := tx.Where("po_number = ?", poNumber).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("purchase order %s: %w", poNumber, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase order %s: %w", poNumber, err)
	}
	po := &core.PurchaseOrder{Number: row.PONumber, SupplierRef: row.SupplierRef, CreatedAt: row.CreatedAt}
	if row.OrderedDate != nil {
		po.OrderedDate = *row.OrderedDate
	}

	var lines []poLineRow
	if err := tx.Where("po_number = ?", poNumber).Order("line_no").Find(&lines).Error; err != nil {
		return nil, fmt.Errorf("failed to query PO lines: %w", err)
	}
	var lots []poLotRow
	if err := lotsOf(tx, poNumber).Order("po_lots.po_line_id, po_lots.lot_no").Find(&lots).Error; err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}

	index := make(map[int]int, len(lines))
	for _, l := range lines {
		line := core.POLine{
			ID: l.ID, PONumber: l.PONumber, LineNo: l.LineNo, MaterialCode: l.MaterialCode,
			Description: l.Description, Unit: l.Unit, HSNCode: l.HSNCode,
		}
		if l.TotalOrdered.Valid {
			total := l.TotalOrdered.Decimal
			line.TotalOrdered = &total
		}
		index[l.ID] = len(po.Lines)
		po.Lines = append(po.Lines, line)
	}
	for _, lot := range lots {
		l := core.Lot{LotNo: lot.LotNo, OrderedQty: lot.OrderedQty}
		if lot.DueDate != nil {
			l.DueDate = *lot.DueDate
		}
		line := &po.Lines[index[lot.POLineID]]
		line.Lots = append(line.Lots, l)
	}
	return po, nil
}

func lotsOf(tx *gorm.DB, poNumber string) *gorm.DB {
	return tx.Model(&poLotRow{}).
		Select("po_lots.*").
		Joins("JOIN po_lines ON po_lines.id = po_lots.po_line_id").
		Where("po_lines.po_number = ?", poNumber)
}

// ==================== Documents ====================

func (s *Store) GetDC(ctx context.Context, dcNumber string) (*core.DeliveryChallan, error) {
	var dc *core.DeliveryChallan
	err := s.readTx(ctx, func(tx *gorm.DB) error {
		var err error
		dc, err = getDC(tx, dcNumber)
		return err
	})
	return dc, err
}

func (s *Store) ListDCs(ctx context.Context, poNumber string) ([]core.DeliveryChallan, error) {
	out := make([]core.DeliveryChallan, 0)
	err := s.readTx(ctx, func(tx *gorm.DB) error {
		var numbers []string
		if err := tx.Model(&dcRow{}).Where("po_number = ?", poNumber).Order("dc_number").Pluck("dc_number", &numbers).Error; err != nil {
			return fmt.Errorf("failed to list DCs: %w", err)
		}
		for _, n := range numbers {
			dc, err := getDC(tx, n)
			if err != nil {
				return err
			}
			out = append(out, *dc)
		}
		return nil
	})
	return out, err
}

func getDC(tx *gorm.DB, dcNumber string) (*core.DeliveryChallan, error) {
	var row dcRow
	err := tx.Where("dc_number = ?", dcNumber).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("DC %s: %w", dcNumber, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get DC %s: %w", dcNumber, err)
	}
	var items []dcItemRow
	if err := tx.Where("dc_number = ?", dcNumber).Order("line_no").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to query DC items: %w", err)
	}
	return fromDCRows(row, items), nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceNumber string) (*core.Invoice, error) {
	var inv *core.Invoice
	err := s.readTx(ctx, func(tx *gorm.DB) error {
		var err error
		inv, err = getInvoice(tx, invoiceNumber)
		return err
	})
	return inv, err
}

func (s *Store) ListInvoices(ctx context.Context) ([]core.Invoice, error) {
	out := make([]core.Invoice, 0)
	err := s.readTx(ctx, func(tx *gorm.DB) error {
		var numbers []string
		if err := tx.Model(&invoiceRow{}).Order("invoice_number").Pluck("invoice_number", &numbers).Error; err != nil {
			return fmt.Errorf("failed to list invoices: %w", err)
		}
		for _, n := range numbers {
			inv, err := getInvoice(tx, n)
			if err != nil {
				return err
			}
			out = append(out, *inv)
		}
		return nil
	})
	return out, err
}

func getInvoice(tx *gorm.DB, invoiceNumber string) (*core.Invoice, error) {
	var row invoiceRow
	err := tx.Where("invoice_number = ?", invoiceNumber).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("invoice %s: %w", invoiceNumber, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice %s: %w", invoiceNumber, err)
	}
	var links []invoiceDCRow
	if err := tx.Where("invoice_number = ?", invoiceNumber).Order("position").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to query invoice DCs: %w", err)
	}
	var items []invoiceItemRow
	if err := tx.Where("invoice_number = ?", invoiceNumber).Order("line_no").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to query invoice items: %w", err)
	}
	return fromInvoiceRows(row, links, items), nil
}

func (s *Store) LoadBook(ctx context.Context, scope string) (*core.Book, error) {
	var book *core.Book
	err := s.readTx(ctx, func(tx *gorm.DB) error {
		var err error
		book, err = loadBook(tx, scope)
		return err
	})
	return book, err
}

// loadBook sums invoiced quantities in Go: SQLite would aggregate the decimal text
// columns as floating point.
func loadBook(tx *gorm.DB, scope string) (*core.Book, error) {
	var po *core.PurchaseOrder
	if scope != core.UnlinkedScope {
		var err error
		if po, err = getPO(tx, scope); err != nil {
			return nil, err
		}
	}
	book := core.NewBook(scope, po)

	if po != nil {
		var lots []poLotRow
		if err := lotsOf(tx, scope).Find(&lots).Error; err != nil {
			return nil, fmt.Errorf("failed to query ledger entries: %w", err)
		}
		for _, l := range lots {
			ref := core.LotRef{POLineID: l.POLineID, LotNo: l.LotNo}
			book.Entries[ref] = &core.LedgerEntry{Lot: ref, OrderedQty: l.OrderedQty, DispatchedQty: l.DispatchedQty, InvoicedQty: l.InvoicedQty}
		}
	}

	var items []dcItemRow
	err := tx.Model(&dcItemRow{}).
		Select("dc_items.*").
		Joins("JOIN delivery_challans ON delivery_challans.dc_number = dc_items.dc_number").
		Where("delivery_challans.po_number = ?", scope).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query DC items: %w", err)
	}
	for _, it := range items {
		ref := core.DCItemRef{DCNumber: it.DCNumber, LineNo: it.LineNo}
		book.Items[ref] = &core.ItemPosition{Ref: ref, Lot: lotRef(it.POLineID, it.LotNo), DispatchedQty: it.DispatchedQty, InvoicedQty: decimal.Zero}
	}

	var claims []invoiceItemRow
	err = tx.Model(&invoiceItemRow{}).
		Select("invoice_items.*").
		Joins("JOIN invoices ON invoices.invoice_number = invoice_items.invoice_number").
		Where("invoices.po_number = ?", scope).
		Find(&claims).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice items: %w", err)
	}
	for _, c := range claims {
		if pos, ok := book.Items[core.DCItemRef{DCNumber: c.DCNumber, LineNo: c.DCLineNo}]; ok {
			pos.InvoicedQty = pos.InvoicedQty.Add(c.InvoicedQty)
		}
	}
	return book, nil
}

// ==================== Transactions ====================

func (s *Store) Begin(ctx context.Context) (core.StoreTx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, lockError("begin transaction", tx.Error)
	}
	return &storeTx{db: tx}, nil
}

type storeTx struct {
	db *gorm.DB
}

// LockScope writes to the scope's lock row so the transaction holds the database write
// lock from its first statement.
func (t *storeTx) LockScope(_ context.Context, scope string) error {
	if scope == core.UnlinkedScope {
		err := t.db.Exec(`
			INSERT INTO scope_locks (scope, version) VALUES (?, 1)
			ON CONFLICT (scope) DO UPDATE SET version = version + 1
		`, "unlinked").Error
		if err != nil {
			return lockError("lock unlinked scope", err)
		}
		return nil
	}
	res := t.db.Model(&purchaseOrderRow{}).
		Where("po_number = ?", scope).
		UpdateColumn("lock_version", gorm.Expr("lock_version + 1"))
	if res.Error != nil {
		return lockError("lock purchase order "+scope, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("purchase order %s: %w", scope, core.ErrNotFound)
	}
	return nil
}

func (t *storeTx) LoadBook(_ context.Context, scope string) (*core.Book, error) {
	return loadBook(t.db, scope)
}

func (t *storeTx) GetDC(_ context.Context, dcNumber string) (*core.DeliveryChallan, error) {
	return getDC(t.db, dcNumber)
}

func (t *storeTx) GetInvoice(_ context.Context, invoiceNumber string) (*core.Invoice, error) {
	return getInvoice(t.db, invoiceNumber)
}

func (t *storeTx) InvoicesReferencingDC(_ context.Context, dcNumber string) ([]string, error) {
	var numbers []string
	err := t.db.Model(&invoiceDCRow{}).Where("dc_number = ?", dcNumber).Pluck("invoice_number", &numbers).Error
	sort.Strings(numbers)
	return numbers, err
}

func (t *storeTx) NextSequence(_ context.Context, docType string, year int) (int64, error) {
	err := t.db.Exec(`
		INSERT INTO document_sequences (doc_type, year, last_number) VALUES (?, ?, 1)
		ON CONFLICT (doc_type, year) DO UPDATE SET last_number = last_number + 1
	`, docType, year).Error
	if err != nil {
		return 0, err
	}
	var row sequenceRow
	if err := t.db.Where("doc_type = ? AND year = ?", docType, year).First(&row).Error; err != nil {
		return 0, err
	}
	return row.LastNumber, nil
}

func (t *storeTx) InsertDC(_ context.Context, dc *core.DeliveryChallan) error {
	row, items := toDCRows(dc)
	if err := t.db.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("DC %s already exists: %w", dc.Number, core.ErrConflict)
		}
		return err
	}
	if len(items) > 0 {
		if err := t.db.Create(&items).Error; err != nil {
			return fmt.Errorf("failed to insert DC items: %w", err)
		}
	}
	return nil
}

func (t *storeTx) DeleteDC(_ context.Context, dcNumber string) error {
	if err := t.db.Where("dc_number = ?", dcNumber).Delete(&dcItemRow{}).Error; err != nil {
		return fmt.Errorf("failed to delete DC items: %w", err)
	}
	res := t.db.Where("dc_number = ?", dcNumber).Delete(&dcRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("DC %s: %w", dcNumber, core.ErrNotFound)
	}
	return nil
}

func (t *storeTx) InsertInvoice(_ context.Context, inv *core.Invoice) error {
	row, links, items := toInvoiceRows(inv)
	if err := t.db.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("invoice %s already exists: %w", inv.Number, core.ErrConflict)
		}
		return err
	}
	if len(links) > 0 {
		if err := t.db.Create(&links).Error; err != nil {
			return fmt.Errorf("failed to link invoice DCs: %w", err)
		}
	}
	if len(items) > 0 {
		if err := t.db.Create(&items).Error; err != nil {
			return fmt.Errorf("failed to insert invoice items: %w", err)
		}
	}
	return nil
}

func (t *storeTx) DeleteInvoice(_ context.Context, invoiceNumber string) error {
	for _, model := range []any{&invoiceItemRow{}, &invoiceDCRow{}} {
		if err := t.db.Where("invoice_number = ?", invoiceNumber).Delete(model).Error; err != nil {
			return fmt.Errorf("failed to delete invoice children: %w", err)
		}
	}
	res := t.db.Where("invoice_number = ?", invoiceNumber).Delete(&invoiceRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("invoice %s: %w", invoiceNumber, core.ErrNotFound)
	}
	return nil
}

func (t *storeTx) SaveEntries(_ context.Context, entries []core.LedgerEntry) error {
	for _, e := range entries {
		res := t.db.Model(&poLotRow{}).
			Where("po_line_id = ? AND lot_no = ?", e.Lot.POLineID, e.Lot.LotNo).
			Updates(map[string]any{"dispatched_qty": e.DispatchedQty, "invoiced_qty": e.InvoicedQty})
		if res.Error != nil {
			return fmt.Errorf("failed to update %s: %w", e.Lot, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%s: %w", e.Lot, core.ErrNotFound)
		}
	}
	return nil
}

func (t *storeTx) AppendEvent(_ context.Context, event core.DocumentEvent) error {
	return insertEvent(t.db, event)
}

func (t *storeTx) Commit(_ context.Context) error {
	return t.db.Commit().Error
}

func (t *storeTx) Rollback(_ context.Context) error {
	if err := t.db.Rollback().Error; err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// ==================== Helpers ====================

// lockError marks waits that ended on SQLITE_BUSY, SQLITE_LOCKED or the caller's context
// as core.ErrBusy.
func lockError(what string, err error) error {
	var sqlErr sqlite3.Error
	if (errors.As(err, &sqlErr) && (sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked)) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", what, core.ErrBusy, err)
	}
	return fmt.Errorf("failed to %s: %w", what, err)
}

func insertEvent(tx *gorm.DB, e core.DocumentEvent) error {
	row := eventRow{Action: e.Action, DocType: e.DocType, Number: e.Number, PONumber: e.PONumber, Actor: e.Actor, OccurredAt: e.At}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record %s %s event: %w", e.Action, e.DocType, err)
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
