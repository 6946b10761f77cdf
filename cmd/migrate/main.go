// migrate applies the embedded PostgreSQL migrations to DATABASE_URL.
//
// Usage: go run ./cmd/migrate
package main

import (
	"context"
	"log"
	"os"
	"time"

	"procurement-recon/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("[CONNECT] %v", err)
	}
	defer pool.Close()
	log.Println("[CONNECT] success")

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
	log.Println("[DONE] All migrations processed.")
}
