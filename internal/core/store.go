package core

import (
	"context"
)

// Reader is the read side of a Store. LoadBook returns a consistent snapshot: it reflects
// either all or none of any committed transaction.
type Reader interface {
	GetPurchaseOrder(ctx context.Context, poNumber string) (*PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context) ([]PurchaseOrder, error)
	GetDC(ctx context.Context, dcNumber string) (*DeliveryChallan, error)
	// ListDCs returns DCs of a purchase order; UnlinkedScope lists DCs without one.
	ListDCs(ctx context.Context, poNumber string) ([]DeliveryChallan, error)
	GetInvoice(ctx context.Context, invoiceNumber string) (*Invoice, error)
	ListInvoices(ctx context.Context) ([]Invoice, error)
	LoadBook(ctx context.Context, scope string) (*Book, error)
	// POForLine returns the purchase order number owning a PO line.
	POForLine(ctx context.Context, poLineID int) (string, error)
}

// Store is the persistence contract behind the Lifecycle. Only the Lifecycle writes to it.
type Store interface {
	Reader
	// CreatePurchaseOrder persists an ingested PO, assigns line IDs in place, and creates a
	// zeroed ledger entry for every lot. Duplicate PO numbers return ErrConflict.
	CreatePurchaseOrder(ctx context.Context, po *PurchaseOrder, event DocumentEvent) error
	Begin(ctx context.Context) (StoreTx, error)
}

// StoreTx is one atomic unit of work. Nothing is visible to readers until Commit.
type StoreTx interface {
	// LockScope takes the durable lock for scope (a row lock in SQL stores) so that
	// processes sharing the database serialize on the same purchase order.
	LockScope(ctx context.Context, scope string) error
	LoadBook(ctx context.Context, scope string) (*Book, error)
	GetDC(ctx context.Context, dcNumber string) (*DeliveryChallan, error)
	GetInvoice(ctx context.Context, invoiceNumber string) (*Invoice, error)
	// InvoicesReferencingDC lists invoice numbers that link the DC.
	InvoicesReferencingDC(ctx context.Context, dcNumber string) ([]string, error)
	// NextSequence returns the next number of the (docType, year) sequence.
	NextSequence(ctx context.Context, docType string, year int) (int64, error)
	InsertDC(ctx context.Context, dc *DeliveryChallan) error
	DeleteDC(ctx context.Context, dcNumber string) error
	InsertInvoice(ctx context.Context, inv *Invoice) error
	DeleteInvoice(ctx context.Context, invoiceNumber string) error
	SaveEntries(ctx context.Context, entries []LedgerEntry) error
	AppendEvent(ctx context.Context, event DocumentEvent) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
