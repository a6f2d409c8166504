package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/walletops/internal/cdc"
	"github.com/punchamoorthee/walletops/internal/config"
	"github.com/punchamoorthee/walletops/internal/history"
	"github.com/punchamoorthee/walletops/internal/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "projector",
		Short: "Projects the wallet journal into the transaction history store",
	}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// deps holds everything a projector command needs.
type deps struct {
	cfg      *config.Config
	accounts *store.Postgres
	history  history.Store
}

func open(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	pool, err := store.Connect(ctx, cfg.DBSource)
	if err != nil {
		return nil, err
	}
	accounts := store.NewPostgres(pool, store.Options{
		Table:      cfg.AccountsTable,
		Shards:     cfg.CDCShards,
		RetryLimit: cfg.TxRetryLimit,
	})
	hist, err := history.Open(ctx, cfg.HistoryBackend, cfg.HistoryDSN())
	if err != nil {
		accounts.Close()
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return &deps{cfg: cfg, accounts: accounts, history: hist}, nil
}

func (d *deps) Close() {
	d.history.Close()
	d.accounts.Close()
}

func runCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll every journal shard and project new revisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := open(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			projector := cdc.NewProjector(cdc.NewDecoder(d.cfg.AccountsTable), d.history)
			runner := cdc.NewRunner(d.accounts, projector, cdc.RunnerConfig{
				BatchSize:    d.cfg.CDCBatchSize,
				PollInterval: d.cfg.CDCPollPeriod,
			})

			if once {
				n, err := runner.RunOnce(ctx)
				log.Printf("cdc: projected %d records", n)
				return err
			}
			log.Printf("cdc: projecting %d shards every %s", d.accounts.Shards(), d.cfg.CDCPollPeriod)
			return runner.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Drain every shard and exit")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the account, journal and history tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.accounts.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Println("Migration complete")
			return nil
		},
	}
}
