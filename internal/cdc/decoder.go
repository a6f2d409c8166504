// Package cdc projects the account store's change stream into the
// transaction-history store.
package cdc

import (
	"encoding/json"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/journal"
)

// Decoder turns raw change envelopes into typed revisions of one table.
type Decoder struct {
	table string
}

func NewDecoder(table string) *Decoder {
	if table == "" {
		table = "Wallet"
	}
	return &Decoder{table: table}
}

// Decode parses one envelope. It returns nil, nil for records that are not
// revision details or belong to another table.
func (d *Decoder) Decode(data []byte) (*domain.Revision, error) {
	var env journal.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, domain.Wrap(domain.KindInvalidInput, err, "malformed change envelope")
	}
	if env.RecordType != journal.RecordTypeRevisionDetails {
		return nil, nil
	}

	var details journal.RevisionDetails
	if err := json.Unmarshal(env.Payload, &details); err != nil {
		return nil, domain.Wrap(domain.KindInvalidInput, err, "malformed revision payload")
	}
	if details.TableInfo == nil || details.TableInfo.TableName != d.table {
		return nil, nil
	}
	if details.Revision == nil {
		return nil, nil
	}

	rev := &domain.Revision{
		TableInfo: domain.TableInfo{
			TableName: details.TableInfo.TableName,
			TableID:   details.TableInfo.TableID,
		},
		Data: decodeDocument(details.Revision.Data),
	}
	if md := details.Revision.Metadata; md != nil {
		rev.Metadata = domain.RevisionMetadata{
			ID:      md.ID,
			TxID:    md.TxID,
			Version: md.Version,
		}
		if md.TxTime != nil {
			rev.Metadata.TxTime = md.TxTime.Time
		}
	}
	return rev, nil
}

func decodeDocument(doc *journal.Document) domain.Account {
	acc := domain.Account{PendingTxs: []domain.TxDescriptor{}}
	if doc == nil {
		return acc
	}
	if doc.AccountID != nil {
		acc.AccountID = *doc.AccountID
	}
	if doc.Balance != nil {
		acc.Balance = *doc.Balance
	}
	if doc.LastTx != nil {
		tx := decodeTx(*doc.LastTx)
		acc.LastTx = &tx
	}
	for _, p := range doc.PendingTxs {
		acc.PendingTxs = append(acc.PendingTxs, decodeTx(p))
	}
	if doc.CreatedAt != nil {
		acc.CreatedAt = doc.CreatedAt.Time
	}
	if doc.DeletedAt != nil {
		deleted := doc.DeletedAt.Time
		acc.DeletedAt = &deleted
	}
	return acc
}

func decodeTx(t journal.Tx) domain.TxDescriptor {
	var out domain.TxDescriptor
	if t.Amount != nil {
		out.Amount = *t.Amount
	}
	out.From = t.From
	out.To = t.To
	if t.Status != nil {
		out.Status = domain.TxStatus(*t.Status)
	}
	if t.RequestID != nil {
		out.RequestID = *t.RequestID
	}
	if t.RequestTime != nil {
		out.RequestTime = *t.RequestTime
	}
	return out
}
