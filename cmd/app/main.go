package main

import (
	"context"
	"log"
	"os"

	"procurement-recon/internal/adapters/cli"
	"procurement-recon/internal/app"
	"procurement-recon/internal/config"

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

	svc := app.New(store, cfg.App)
	err = cli.Run(ctx, svc, os.Args[1:], os.Stdin, os.Stdout)
	closeStore()
	if err != nil {
		log.Fatal(err)
	}
}
