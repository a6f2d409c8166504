package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/walletops/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS transaction_history (
	account_id   TEXT NOT NULL,
	tx_key       TEXT NOT NULL,
	request_id   TEXT,
	request_time TEXT,
	amount       BIGINT NOT NULL,
	from_account TEXT,
	to_account   TEXT,
	status       TEXT NOT NULL,
	balance      BIGINT NOT NULL,
	revisions    JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (account_id, tx_key)
);

CREATE INDEX IF NOT EXISTS idx_history_account_created
	ON transaction_history (account_id, created_at);
`

// Postgres is a history store in PostgreSQL.
type Postgres struct {
	Db *pgxpool.Pool
}

// NewPostgres opens a pool for dsn and migrates the history table.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	s := &Postgres{Db: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate history store: %w", err)
	}
	return nil
}

func (s *Postgres) Close() error {
	s.Db.Close()
	return nil
}

const postgresColumns = `account_id, tx_key, request_id, request_time, amount, from_account,
	to_account, status, balance, revisions, created_at, updated_at`

func (s *Postgres) Get(ctx context.Context, key domain.RecordKey) (*domain.TransactionRecord, error) {
	row := s.Db.QueryRow(ctx,
		"SELECT "+postgresColumns+" FROM transaction_history WHERE account_id = $1 AND tx_key = $2",
		key.AccountID, key.Key,
	)
	rec, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get history %s/%s: %w", key.AccountID, key.Key, err)
	}
	return rec, nil
}

func (s *Postgres) Put(ctx context.Context, rec domain.TransactionRecord) error {
	revisions, err := encodeRevisions(rec.Revisions)
	if err != nil {
		return err
	}
	_, err = s.Db.Exec(ctx,
		"INSERT INTO transaction_history ("+postgresColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12)
		ON CONFLICT (account_id, tx_key) DO UPDATE SET
			request_id = EXCLUDED.request_id,
			request_time = EXCLUDED.request_time,
			amount = EXCLUDED.amount,
			from_account = EXCLUDED.from_account,
			to_account = EXCLUDED.to_account,
			status = EXCLUDED.status,
			balance = EXCLUDED.balance,
			revisions = EXCLUDED.revisions,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`,
		rec.AccountID, rec.Key, nullString(rec.RequestID), nullString(rec.RequestTime),
		rec.Amount, rec.From, rec.To, string(rec.Status), rec.Balance, revisions,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("put history %s/%s: %w", rec.AccountID, rec.Key, err)
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, key domain.RecordKey, patch domain.RecordPatch) error {
	stamp, err := encodeStamp(patch.Stamp)
	if err != nil {
		return err
	}
	var (
		status  *string
		updated *time.Time
	)
	if patch.Status != nil {
		v := string(*patch.Status)
		status = &v
	}
	if !patch.UpdatedAt.IsZero() {
		v := patch.UpdatedAt.UTC()
		updated = &v
	}
	tag, err := s.Db.Exec(ctx,
		`UPDATE transaction_history SET
			revisions = jsonb_set(revisions, ARRAY[$1::text], $2::jsonb, true),
			status = COALESCE($3, status),
			balance = COALESCE($4, balance),
			updated_at = COALESCE($5, updated_at)
		WHERE account_id = $6 AND tx_key = $7`,
		string(patch.Revision), stamp, status, patch.Balance, updated,
		key.AccountID, key.Key,
	)
	if err != nil {
		return fmt.Errorf("update history %s/%s: %w", key.AccountID, key.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Errorf(domain.KindNotFound, "history record %s/%s not found", key.AccountID, key.Key)
	}
	return nil
}

func (s *Postgres) Query(ctx context.Context, accountID string, from, to *time.Time) ([]domain.TransactionRecord, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+postgresColumns+` FROM transaction_history
		WHERE account_id = $1
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at, tx_key`,
		accountID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", accountID, err)
	}
	defer rows.Close()

	out := []domain.TransactionRecord{}
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanPostgres(row pgx.Row) (*domain.TransactionRecord, error) {
	var (
		rec                domain.TransactionRecord
		requestID, reqTime *string
		status             string
		revisions          []byte
	)
	err := row.Scan(&rec.AccountID, &rec.Key, &requestID, &reqTime, &rec.Amount, &rec.From, &rec.To,
		&status, &rec.Balance, &revisions, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if requestID != nil {
		rec.RequestID = *requestID
	}
	if reqTime != nil {
		rec.RequestTime = *reqTime
	}
	rec.Status = domain.TxStatus(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if rec.Revisions, err = decodeRevisions(revisions); err != nil {
		return nil, err
	}
	return &rec, nil
}
