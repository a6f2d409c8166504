package store

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/journal"
)

// DefaultRetryLimit bounds how many times a conflicting transaction body is
// re-run before the conflict is surfaced as Transient.
const DefaultRetryLimit = 3

// Tx is the view of the account table inside one atomic transaction.
type Tx interface {
	// ReadAccounts returns the documents for ids, locked for the rest of
	// the transaction. Missing ids are simply absent from the result.
	ReadAccounts(ctx context.Context, ids ...string) ([]domain.Account, error)

	// WriteAccount inserts or replaces a document and appends its revision
	// to the journal in the same transaction.
	WriteAccount(ctx context.Context, acc domain.Account) (domain.Revision, error)
}

// Options configures an account store.
type Options struct {
	Table      string
	Shards     int
	RetryLimit int
}

func (o Options) withDefaults() Options {
	if o.Table == "" {
		o.Table = "Wallet"
	}
	if o.Shards < 1 {
		o.Shards = 1
	}
	if o.RetryLimit < 1 {
		o.RetryLimit = DefaultRetryLimit
	}
	return o
}

// ErrConflict marks an optimistic-concurrency failure that is safe to retry.
var ErrConflict = errors.New("transaction conflict")

// isRetryable reports whether err is a conflict the whole body may be
// re-run after.
func isRetryable(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"23505": // unique_violation on a racing insert
			return true
		}
	}
	return false
}

// withRetry runs attempt up to limit times while it fails with a
// retryable conflict.
func withRetry(ctx context.Context, limit int, attempt func(ctx context.Context) error) error {
	var err error
	for i := 1; i <= limit; i++ {
		err = attempt(ctx)
		if err == nil || !isRetryable(err) {
			return err
		}
		log.Printf("store: attempt %d/%d conflicted: %v", i, limit, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Wrap(domain.KindTransient, ctxErr, "transaction aborted")
		}
		time.Sleep(time.Duration(i) * 5 * time.Millisecond)
	}
	return domain.Wrap(domain.KindTransient, err, "transaction failed after %d attempts", limit)
}

// revisionBuilder builds the change record for one written document.
type revisionBuilder struct {
	table   string
	tableID string
	txID    string
	txTime  time.Time
}

func newRevisionBuilder(table string, now time.Time) revisionBuilder {
	return revisionBuilder{
		table:   table,
		tableID: journal.TableID(table),
		txID:    uuid.NewString(),
		txTime:  now.UTC(),
	}
}

func (b revisionBuilder) build(acc domain.Account, version int64) domain.Revision {
	return domain.Revision{
		TableInfo: domain.TableInfo{TableName: b.table, TableID: b.tableID},
		Data:      acc,
		Metadata: domain.RevisionMetadata{
			ID:      journal.DocumentID(b.table, acc.AccountID),
			TxID:    b.txID,
			TxTime:  b.txTime,
			Version: version,
		},
	}
}
