package domain

import (
	"time"
)

// TxStatus is the lifecycle state carried by a transaction descriptor.
type TxStatus string

const (
	StatusImmediate TxStatus = "IMMEDIATE"
	StatusRequested TxStatus = "REQUESTED"
	StatusCommitted TxStatus = "COMMITTED"
	StatusCanceled  TxStatus = "CANCELED"
)

// Opens reports whether the status starts a projected record.
func (s TxStatus) Opens() bool {
	return s == StatusImmediate || s == StatusRequested
}

// Closes reports whether the status terminates a REQUESTED transaction.
func (s TxStatus) Closes() bool {
	return s == StatusCommitted || s == StatusCanceled
}

// TxDescriptor is the transaction embedded in an account document.
// Exactly one of RequestID or RequestTime carries the idempotency key.
type TxDescriptor struct {
	Amount      int64    `json:"amount"`
	From        *string  `json:"from"`
	To          *string  `json:"to"`
	Status      TxStatus `json:"status,omitempty"`
	RequestID   string   `json:"requestId,omitempty"`
	RequestTime string   `json:"requestTime,omitempty"`
}

// Key returns the idempotency key regardless of which field holds it.
func (t TxDescriptor) Key() string {
	if t.RequestID != "" {
		return t.RequestID
	}
	return t.RequestTime
}

// Account is the ledger document for one wallet.
type Account struct {
	AccountID  string         `json:"accountId"`
	Balance    int64          `json:"balance"`
	LastTx     *TxDescriptor  `json:"lastTx"`
	PendingTxs []TxDescriptor `json:"pendingTxs"`
	CreatedAt  time.Time      `json:"createdAt"`
	DeletedAt  *time.Time     `json:"deletedAt"`
}

func (a Account) IsDeleted() bool {
	return a.DeletedAt != nil
}

// AvailableBalance is the balance net of every open pending debit.
// Pending credits are not counted until committed.
func (a Account) AvailableBalance() int64 {
	available := a.Balance
	for _, tx := range a.PendingTxs {
		if tx.Amount < 0 {
			available += tx.Amount
		}
	}
	return available
}

// FindPending returns the index of the open pending entry with key, or -1.
func (a Account) FindPending(key string) int {
	for i, tx := range a.PendingTxs {
		if tx.Key() == key {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can derive a new version without
// touching the snapshot they read.
func (a Account) Clone() Account {
	out := a
	if a.LastTx != nil {
		last := *a.LastTx
		out.LastTx = &last
	}
	out.PendingTxs = make([]TxDescriptor, len(a.PendingTxs))
	copy(out.PendingTxs, a.PendingTxs)
	if a.DeletedAt != nil {
		deleted := *a.DeletedAt
		out.DeletedAt = &deleted
	}
	return out
}

// TableInfo identifies the ledger table a revision belongs to.
type TableInfo struct {
	TableName string
	TableID   string
}

// RevisionMetadata is the commit information attached to a revision.
type RevisionMetadata struct {
	ID      string
	TxID    string
	TxTime  time.Time
	Version int64
}

// Revision is one versioned snapshot of an account document as emitted on
// the change stream.
type Revision struct {
	TableInfo TableInfo
	Data      Account
	Metadata  RevisionMetadata
}

// RevisionStamp records which ledger commit produced a lifecycle event.
type RevisionStamp struct {
	TxID   string    `json:"txId"`
	TxTime time.Time `json:"txTime"`
}

// RecordKey addresses one projected transaction.
type RecordKey struct {
	AccountID string
	Key       string
}

// TransactionRecord is the projected history entry for one
// (account, idempotency key) pair.
type TransactionRecord struct {
	AccountID   string                     `json:"account_id"`
	Key         string                     `json:"key"`
	RequestID   string                     `json:"request_id,omitempty"`
	RequestTime string                     `json:"request_time,omitempty"`
	Amount      int64                      `json:"amount"`
	From        *string                    `json:"from,omitempty"`
	To          *string                    `json:"to,omitempty"`
	Status      TxStatus                   `json:"status"`
	Balance     int64                      `json:"balance"`
	Revisions   map[TxStatus]RevisionStamp `json:"revisions"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

func (r TransactionRecord) RecordKey() RecordKey {
	return RecordKey{AccountID: r.AccountID, Key: r.Key}
}

// RecordPatch is a partial update merged into an existing record.
// Nil fields are left untouched; the revision entry is always set.
type RecordPatch struct {
	Status    *TxStatus
	Balance   *int64
	Revision  TxStatus
	Stamp     RevisionStamp
	UpdatedAt time.Time
}
