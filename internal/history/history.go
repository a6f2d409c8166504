// Package history stores projected transaction records keyed by
// (accountId, idempotency key).
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/punchamoorthee/walletops/internal/domain"
)

// Store is the derived transaction-history store.
type Store interface {
	// Get returns the record for key, or nil when none exists.
	Get(ctx context.Context, key domain.RecordKey) (*domain.TransactionRecord, error)

	// Put inserts or fully replaces a record.
	Put(ctx context.Context, rec domain.TransactionRecord) error

	// Update merges patch into an existing record. It fails with
	// domain.ErrNotFound when the record does not exist.
	Update(ctx context.Context, key domain.RecordKey, patch domain.RecordPatch) error

	// Query lists an account's records ordered by creation time. Nil
	// bounds are open.
	Query(ctx context.Context, accountID string, from, to *time.Time) ([]domain.TransactionRecord, error)

	Close() error
}

// Open selects a backend by name.
func Open(ctx context.Context, backend string, dsn string) (Store, error) {
	switch backend {
	case "sqlite":
		return NewSQLite(dsn)
	case "postgres", "":
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}

func encodeRevisions(revs map[domain.TxStatus]domain.RevisionStamp) (string, error) {
	if revs == nil {
		revs = map[domain.TxStatus]domain.RevisionStamp{}
	}
	b, err := json.Marshal(revs)
	if err != nil {
		return "", fmt.Errorf("encode revisions: %w", err)
	}
	return string(b), nil
}

func decodeRevisions(raw []byte) (map[domain.TxStatus]domain.RevisionStamp, error) {
	revs := map[domain.TxStatus]domain.RevisionStamp{}
	if len(raw) == 0 {
		return revs, nil
	}
	if err := json.Unmarshal(raw, &revs); err != nil {
		return nil, fmt.Errorf("decode revisions: %w", err)
	}
	return revs, nil
}

func encodeStamp(s domain.RevisionStamp) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode revision stamp: %w", err)
	}
	return string(b), nil
}
