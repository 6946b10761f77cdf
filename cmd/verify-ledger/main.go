// verify-ledger re-checks every lot's dispatched and invoiced counters against the
// stored DCs and invoices, and exits non-zero if any purchase order diverges.
//
// Usage: STORE_DRIVER=postgres go run ./cmd/verify-ledger
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"procurement-recon/internal/app"
	"procurement-recon/internal/config"
	"procurement-recon/internal/core"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	store, closeStore, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	findings, err := core.NewQuery(store).AuditLedger(ctx)
	if err != nil {
		log.Fatalf("audit: %v", err)
	}
	if len(findings) == 0 {
		fmt.Println("Ledger consistent.")
		return
	}

	fmt.Printf("\n--- %d DIVERGENT SCOPES ---\n", len(findings))
	for _, f := range findings {
		scope := f.Scope
		if scope == core.UnlinkedScope {
			scope = "(unlinked DCs)"
		}
		fmt.Printf("- %s: %s\n", scope, f.Detail)
	}
	closeStore()
	os.Exit(1)
}
