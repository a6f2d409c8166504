package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/punchamoorthee/walletops/internal/config"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/ledger"
	"github.com/punchamoorthee/walletops/internal/service"
	"github.com/punchamoorthee/walletops/internal/store"
)

const (
	TotalAccounts  = 1000
	InitialBalance = 10000 // $100.00
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
	pool, err := store.Connect(ctx, cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	accounts := store.NewPostgres(pool, store.Options{
		Table:      cfg.AccountsTable,
		Shards:     cfg.CDCShards,
		RetryLimit: cfg.TxRetryLimit,
	})
	defer accounts.Close()
	if err := accounts.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	log.Println("--- Seeding Database ---")

	// Accounts go through the wallet service so every write reaches the
	// journal and, from there, the history store.
	wallet := service.NewWalletService(accounts, ledger.NewEngine(keys), nil)
	created, skipped := 0, 0
	for i := 1; i <= TotalAccounts; i++ {
		id := accountID(i)
		if _, err := wallet.CreateAccount(ctx, id); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				skipped++
				continue
			}
			log.Fatalf("Create %s failed: %v", id, err)
		}
		key := seedKey(keys, id)
		if _, err := wallet.Deposit(ctx, id, InitialBalance, key); err != nil {
			log.Fatalf("Initial deposit for %s failed: %v", id, err)
		}
		created++
	}

	log.Printf("Successfully seeded %d accounts (%d already present).", created, skipped)
}

// accountID names the nth seeded account. The benchmark uses the same scheme.
func accountID(n int) string {
	return fmt.Sprintf("acct-%04d", n)
}

func seedKey(keys ledger.KeyStrategy, id string) string {
	if keys == ledger.KeyRequestID {
		return "seed-" + id
	}
	return time.Now().UTC().Format(ledger.RequestTimeLayout)
}
