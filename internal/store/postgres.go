package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/journal"
)

// StreamID names the change stream published by the account store.
const StreamID = "wallet-ledger"

// Postgres is the account store backed by PostgreSQL. Every write appends a
// revision envelope to wallet_journal inside the same transaction.
type Postgres struct {
	Db   *pgxpool.Pool
	opts Options
	now  func() time.Time
}

// Connect opens and pings a connection pool.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

func NewPostgres(pool *pgxpool.Pool, opts Options) *Postgres {
	return &Postgres{Db: pool, opts: opts.withDefaults(), now: time.Now}
}

func (s *Postgres) Shards() int {
	return s.opts.Shards
}

// Migrate creates the account, journal and checkpoint tables.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate account store: %w", err)
	}
	return nil
}

// RunInTx executes fn in one READ COMMITTED transaction, re-running it on
// conflicts up to the configured retry limit. Accounts are isolated by the
// row locks ReadAccounts takes, so writes to different accounts never
// conflict with each other.
func (s *Postgres) RunInTx(ctx context.Context, fn func(Tx) error) error {
	return withRetry(ctx, s.opts.RetryLimit, func(ctx context.Context) error {
		tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("tx begin failed: %w", err)
		}
		defer tx.Rollback(ctx)

		view := &pgTx{
			tx:     tx,
			opts:   s.opts,
			revs:   newRevisionBuilder(s.opts.Table, s.now()),
			locked: map[string]bool{},
		}
		if err := fn(view); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("tx commit failed: %w", err)
		}
		return nil
	})
}

type pgTx struct {
	tx   pgx.Tx
	opts Options
	revs revisionBuilder
	// locked holds the ids whose rows this transaction read FOR UPDATE.
	locked map[string]bool
}

func (t *pgTx) ReadAccounts(ctx context.Context, ids ...string) ([]domain.Account, error) {
	// Lock rows in id order so concurrent transfers cannot deadlock.
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	rows, err := t.tx.Query(ctx,
		`SELECT account_id, balance, last_tx, pending_txs, created_at, deleted_at
		FROM wallet_accounts
		WHERE account_id = ANY($1)
		ORDER BY account_id
		FOR UPDATE`,
		sorted,
	)
	if err != nil {
		return nil, fmt.Errorf("read accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var (
			acc     domain.Account
			lastTx  []byte
			pending []byte
			deleted *time.Time
		)
		if err := rows.Scan(&acc.AccountID, &acc.Balance, &lastTx, &pending, &acc.CreatedAt, &deleted); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		if len(lastTx) > 0 {
			if err := json.Unmarshal(lastTx, &acc.LastTx); err != nil {
				return nil, fmt.Errorf("decode last_tx of %s: %w", acc.AccountID, err)
			}
		}
		acc.PendingTxs = []domain.TxDescriptor{}
		if len(pending) > 0 {
			if err := json.Unmarshal(pending, &acc.PendingTxs); err != nil {
				return nil, fmt.Errorf("decode pending_txs of %s: %w", acc.AccountID, err)
			}
		}
		if deleted != nil {
			d := deleted.UTC()
			acc.DeletedAt = &d
		}
		acc.CreatedAt = acc.CreatedAt.UTC()
		t.locked[acc.AccountID] = true
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (t *pgTx) WriteAccount(ctx context.Context, acc domain.Account) (domain.Revision, error) {
	var lastTx any
	if acc.LastTx != nil {
		b, err := json.Marshal(acc.LastTx)
		if err != nil {
			return domain.Revision{}, err
		}
		lastTx = string(b)
	}
	pending := acc.PendingTxs
	if pending == nil {
		pending = []domain.TxDescriptor{}
	}
	pendingJSON, err := json.Marshal(pending)
	if err != nil {
		return domain.Revision{}, err
	}

	var version int64
	if t.locked[acc.AccountID] {
		err = t.tx.QueryRow(ctx,
			`UPDATE wallet_accounts SET
				balance = $2,
				last_tx = $3,
				pending_txs = $4,
				created_at = $5,
				deleted_at = $6,
				version = version + 1
			WHERE account_id = $1
			RETURNING version`,
			acc.AccountID, acc.Balance, lastTx, string(pendingJSON), acc.CreatedAt, acc.DeletedAt,
		).Scan(&version)
	} else {
		// A row created by a concurrent transaction after our read must not
		// be overwritten; the retry re-reads it.
		err = t.tx.QueryRow(ctx,
			`INSERT INTO wallet_accounts (account_id, balance, last_tx, pending_txs, created_at, deleted_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, 1)
			ON CONFLICT (account_id) DO NOTHING
			RETURNING version`,
			acc.AccountID, acc.Balance, lastTx, string(pendingJSON), acc.CreatedAt, acc.DeletedAt,
		).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Revision{}, fmt.Errorf("write account %s: created concurrently: %w", acc.AccountID, ErrConflict)
		}
	}
	if err != nil {
		return domain.Revision{}, fmt.Errorf("write account %s: %w", acc.AccountID, err)
	}

	rev := t.revs.build(acc, version)
	envelope, err := journal.Encode(StreamID, rev)
	if err != nil {
		return domain.Revision{}, err
	}

	// The shard head row serialises writers per shard, so sequence order
	// equals commit order within a shard.
	shard := journal.Shard(acc.AccountID, t.opts.Shards)
	var seq int64
	err = t.tx.QueryRow(ctx,
		`INSERT INTO wallet_shards (shard, head) VALUES ($1, 1)
		ON CONFLICT (shard) DO UPDATE SET head = wallet_shards.head + 1
		RETURNING head`,
		shard,
	).Scan(&seq)
	if err != nil {
		return domain.Revision{}, fmt.Errorf("advance shard %d: %w", shard, err)
	}

	_, err = t.tx.Exec(ctx,
		"INSERT INTO wallet_journal (shard, seq, account_id, envelope) VALUES ($1, $2, $3, $4)",
		shard, seq, acc.AccountID, string(envelope),
	)
	if err != nil {
		return domain.Revision{}, fmt.Errorf("journal append failed: %w", err)
	}
	return rev, nil
}

// Fetch returns up to limit journal records of shard after seq.
func (s *Postgres) Fetch(ctx context.Context, shard int, after int64, limit int) ([]journal.Record, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT seq, envelope::text FROM wallet_journal
		WHERE shard = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3`,
		shard, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch shard %d: %w", shard, err)
	}
	defer rows.Close()

	var out []journal.Record
	for rows.Next() {
		var (
			seq  int64
			data string
		)
		if err := rows.Scan(&seq, &data); err != nil {
			return nil, err
		}
		out = append(out, journal.Record{Shard: shard, Seq: seq, Data: []byte(data)})
	}
	return out, rows.Err()
}

// Checkpoint returns the last sequence the projector committed for shard.
func (s *Postgres) Checkpoint(ctx context.Context, shard int) (int64, error) {
	var seq int64
	err := s.Db.QueryRow(ctx, "SELECT seq FROM cdc_checkpoints WHERE shard = $1", shard).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load checkpoint %d: %w", shard, err)
	}
	return seq, nil
}

// Commit advances the checkpoint for shard. It never moves backwards.
func (s *Postgres) Commit(ctx context.Context, shard int, seq int64) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO cdc_checkpoints (shard, seq, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (shard) DO UPDATE SET
			seq = GREATEST(cdc_checkpoints.seq, EXCLUDED.seq),
			updated_at = now()`,
		shard, seq,
	)
	if err != nil {
		return fmt.Errorf("commit checkpoint %d: %w", shard, err)
	}
	return nil
}

func (s *Postgres) Close() {
	s.Db.Close()
}
