package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/walletops/internal/api"
	"github.com/punchamoorthee/walletops/internal/config"
	"github.com/punchamoorthee/walletops/internal/history"
	"github.com/punchamoorthee/walletops/internal/ledger"
	"github.com/punchamoorthee/walletops/internal/service"
	"github.com/punchamoorthee/walletops/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	keys, err := ledger.ParseKeyStrategy(cfg.KeyStrategy)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	dbPool, err := store.Connect(ctx, cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbPool.Close()

	accounts := store.NewPostgres(dbPool, store.Options{
		Table:      cfg.AccountsTable,
		Shards:     cfg.CDCShards,
		RetryLimit: cfg.TxRetryLimit,
	})
	if err := accounts.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	hist, err := history.Open(ctx, cfg.HistoryBackend, cfg.HistoryDSN())
	if err != nil {
		log.Fatalf("Unable to open history store: %v", err)
	}
	defer hist.Close()

	// Initialize Layers
	wallet := service.NewWalletService(accounts, ledger.NewEngine(keys), hist)
	handler := api.NewHandler(wallet)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, cfg.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (%s, keys=%s)", cfg.Port, cfg.Env, keys)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server stopped")
}
