package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// assignNumber draws the next free number of the docType sequence for the document's
// year inside tx. Numbers already taken by user-supplied documents are skipped. SQL
// stores only consume the drawn numbers if the document commits.
func assignNumber(ctx context.Context, tx StoreTx, docType string, date time.Time) (string, error) {
	year := date.Year()
	for {
		n, err := tx.NextSequence(ctx, docType, year)
		if err != nil {
			return "", fmt.Errorf("failed to generate %s sequence number: %w", docType, err)
		}
		number := FormatNumber(docType, year, n)
		taken, err := numberTaken(ctx, tx, docType, number)
		if err != nil {
			return "", err
		}
		if !taken {
			return number, nil
		}
	}
}

// numberTaken reports whether a document of docType already carries number.
func numberTaken(ctx context.Context, tx StoreTx, docType, number string) (bool, error) {
	var err error
	switch docType {
	case DocTypeDC:
		_, err = tx.GetDC(ctx, number)
	case DocTypeInvoice:
		_, err = tx.GetInvoice(ctx, number)
	default:
		return false, fmt.Errorf("unknown document type %q", docType)
	}
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("check %s number %s: %w", docType, number, err)
	}
}

// FormatNumber renders a system-assigned document number, e.g. DC-2026-00001.
func FormatNumber(docType string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%05d", docType, year, n)
}
