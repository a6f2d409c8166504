package cdc

import (
	"context"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/history"
	"github.com/punchamoorthee/walletops/internal/journal"
)

var (
	projectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_projector_records_total",
		Help: "Change records handled by the projector, labeled by action",
	}, []string{"action"})

	batchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_projector_batch_failures_total",
		Help: "Batches aborted and left for redelivery, labeled by shard",
	}, []string{"shard"})
)

// Action is what the projector did with one revision.
type Action string

const (
	ActionSkip   Action = "skip"
	ActionInsert Action = "insert"
	ActionReplay Action = "replay"
	ActionMerge  Action = "merge"
)

// Projector maintains one history record per (account, idempotency key).
type Projector struct {
	decoder *Decoder
	history history.Store
}

func NewProjector(decoder *Decoder, hs history.Store) *Projector {
	return &Projector{decoder: decoder, history: hs}
}

// ProcessBatch applies records in order. The first failure aborts the batch
// and is returned so the caller redelivers it; earlier records may already
// be projected, which is safe because every write is a merge.
func (p *Projector) ProcessBatch(ctx context.Context, records []journal.Record) error {
	for _, rec := range records {
		rev, err := p.decoder.Decode(rec.Data)
		if err != nil {
			return fmt.Errorf("decode shard %d seq %d: %w", rec.Shard, rec.Seq, err)
		}
		if rev == nil {
			projectedTotal.WithLabelValues(string(ActionSkip)).Inc()
			continue
		}
		action, err := p.Project(ctx, *rev)
		if err != nil {
			return fmt.Errorf("project shard %d seq %d: %w", rec.Shard, rec.Seq, err)
		}
		projectedTotal.WithLabelValues(string(action)).Inc()
	}
	return nil
}

// Project applies a single decoded revision to the history store.
func (p *Projector) Project(ctx context.Context, rev domain.Revision) (Action, error) {
	data := rev.Data
	// Create and delete revisions carry no transaction.
	if data.AccountID == "" || data.LastTx == nil {
		return ActionSkip, nil
	}
	last := *data.LastTx
	status := last.Status
	if status == "" {
		status = domain.StatusImmediate
	}
	key := domain.RecordKey{AccountID: data.AccountID, Key: last.Key()}
	stamp := domain.RevisionStamp{TxID: rev.Metadata.TxID, TxTime: rev.Metadata.TxTime}

	existing, err := p.history.Get(ctx, key)
	if err != nil {
		return "", err
	}

	switch {
	case status.Opens() && existing == nil:
		rec := domain.TransactionRecord{
			AccountID:   data.AccountID,
			Key:         key.Key,
			RequestID:   last.RequestID,
			RequestTime: last.RequestTime,
			Amount:      last.Amount,
			From:        last.From,
			To:          last.To,
			Status:      status,
			Balance:     data.Balance,
			Revisions:   map[domain.TxStatus]domain.RevisionStamp{status: stamp},
			CreatedAt:   stamp.TxTime,
			UpdatedAt:   stamp.TxTime,
		}
		if err := p.history.Put(ctx, rec); err != nil {
			return "", err
		}
		return ActionInsert, nil

	case status.Opens():
		// Redelivered opening event. Only its own revision entry is rewritten
		// so a record that has since been closed keeps its final status.
		err := p.history.Update(ctx, key, domain.RecordPatch{
			Revision:  status,
			Stamp:     stamp,
			UpdatedAt: existing.UpdatedAt,
		})
		if err != nil {
			return "", err
		}
		return ActionReplay, nil

	case status.Closes() && existing != nil:
		balance := data.Balance
		err := p.history.Update(ctx, key, domain.RecordPatch{
			Status:    &status,
			Balance:   &balance,
			Revision:  status,
			Stamp:     stamp,
			UpdatedAt: stamp.TxTime,
		})
		if err != nil {
			return "", err
		}
		return ActionMerge, nil

	case status.Closes():
		log.Printf("cdc: %s event for %s/%s has no open record", status, key.AccountID, key.Key)
		return "", domain.Errorf(domain.KindProjectionInconsistency,
			"no projected record for %s transaction %s of account %s", status, key.Key, key.AccountID)

	default:
		return "", domain.Errorf(domain.KindInvalidInput, "unknown transaction status %q", status)
	}
}
