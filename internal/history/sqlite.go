package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/punchamoorthee/walletops/internal/domain"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transaction_history (
	account_id   TEXT NOT NULL,
	tx_key       TEXT NOT NULL,
	request_id   TEXT,
	request_time TEXT,
	amount       INTEGER NOT NULL,
	from_account TEXT,
	to_account   TEXT,
	status       TEXT NOT NULL,
	balance      INTEGER NOT NULL,
	revisions    TEXT NOT NULL DEFAULT '{}',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (account_id, tx_key)
);

CREATE INDEX IF NOT EXISTS idx_history_account_created
	ON transaction_history (account_id, created_at);
`

// SQLite is a history store in a local SQLite file. Use ":memory:" for an
// in-memory database.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The projector is the only writer and each :memory: connection would
	// otherwise see its own empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

const sqliteColumns = `account_id, tx_key, request_id, request_time, amount, from_account,
	to_account, status, balance, revisions, created_at, updated_at`

func (s *SQLite) Get(ctx context.Context, key domain.RecordKey) (*domain.TransactionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sqliteColumns+" FROM transaction_history WHERE account_id = ? AND tx_key = ?",
		key.AccountID, key.Key,
	)
	rec, err := scanSQLite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get history %s/%s: %w", key.AccountID, key.Key, err)
	}
	return rec, nil
}

func (s *SQLite) Put(ctx context.Context, rec domain.TransactionRecord) error {
	revisions, err := encodeRevisions(rec.Revisions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO transaction_history ("+sqliteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AccountID, rec.Key, nullString(rec.RequestID), nullString(rec.RequestTime),
		rec.Amount, rec.From, rec.To, string(rec.Status), rec.Balance, revisions,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put history %s/%s: %w", rec.AccountID, rec.Key, err)
	}
	return nil
}

func (s *SQLite) Update(ctx context.Context, key domain.RecordKey, patch domain.RecordPatch) error {
	stamp, err := encodeStamp(patch.Stamp)
	if err != nil {
		return err
	}
	var status, updated any
	if patch.Status != nil {
		status = string(*patch.Status)
	}
	if !patch.UpdatedAt.IsZero() {
		updated = formatTime(patch.UpdatedAt)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE transaction_history SET
			revisions = json_set(revisions, '$.' || ?, json(?)),
			status = COALESCE(?, status),
			balance = COALESCE(?, balance),
			updated_at = COALESCE(?, updated_at)
		WHERE account_id = ? AND tx_key = ?`,
		string(patch.Revision), stamp, status, patch.Balance, updated,
		key.AccountID, key.Key,
	)
	if err != nil {
		return fmt.Errorf("update history %s/%s: %w", key.AccountID, key.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.Errorf(domain.KindNotFound, "history record %s/%s not found", key.AccountID, key.Key)
	}
	return nil
}

func (s *SQLite) Query(ctx context.Context, accountID string, from, to *time.Time) ([]domain.TransactionRecord, error) {
	var (
		where = []string{"account_id = ?"}
		args  = []any{accountID}
	)
	if from != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*from))
	}
	if to != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(*to))
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sqliteColumns+" FROM transaction_history WHERE "+
			strings.Join(where, " AND ")+" ORDER BY created_at, tx_key",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", accountID, err)
	}
	defer rows.Close()

	out := []domain.TransactionRecord{}
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (*domain.TransactionRecord, error) {
	var (
		rec                  domain.TransactionRecord
		requestID, reqTime   sql.NullString
		from, to             sql.NullString
		status, revisions    string
		createdAt, updatedAt string
	)
	err := row.Scan(&rec.AccountID, &rec.Key, &requestID, &reqTime, &rec.Amount, &from, &to,
		&status, &rec.Balance, &revisions, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.RequestID = requestID.String
	rec.RequestTime = reqTime.String
	if from.Valid {
		rec.From = &from.String
	}
	if to.Valid {
		rec.To = &to.String
	}
	rec.Status = domain.TxStatus(status)
	if rec.Revisions, err = decodeRevisions([]byte(revisions)); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
