// Package journal defines the change-record envelope the account store
// appends for every document write, and the record shape delivered to
// stream consumers.
package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/punchamoorthee/walletops/internal/domain"
)

const (
	RecordTypeRevisionDetails = "REVISION_DETAILS"
	RecordTypeControl         = "CONTROL"
)

// Record is one change envelope as stored in a shard of the journal.
type Record struct {
	Shard int
	Seq   int64
	Data  []byte
}

// Envelope is the outer change record.
type Envelope struct {
	StreamID   string          `json:"streamId,omitempty"`
	RecordType string          `json:"recordType"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// RevisionDetails is the payload of a REVISION_DETAILS envelope.
type RevisionDetails struct {
	TableInfo *TableInfo    `json:"tableInfo"`
	Revision  *RevisionBody `json:"revision"`
}

type TableInfo struct {
	TableName string `json:"tableName"`
	TableID   string `json:"tableId"`
}

type RevisionBody struct {
	Data     *Document         `json:"data"`
	Metadata *RevisionMetadata `json:"metadata"`
}

type RevisionMetadata struct {
	ID      string     `json:"id"`
	Version int64      `json:"version"`
	TxTime  *Timestamp `json:"txTime"`
	TxID    string     `json:"txId"`
}

// Document mirrors domain.Account with every field optional.
type Document struct {
	AccountID  *string    `json:"accountId"`
	Balance    *int64     `json:"balance"`
	LastTx     *Tx        `json:"lastTx"`
	PendingTxs []Tx       `json:"pendingTxs"`
	CreatedAt  *Timestamp `json:"createdAt"`
	DeletedAt  *Timestamp `json:"deletedAt"`
}

type Tx struct {
	Amount      *int64  `json:"amount"`
	From        *string `json:"from"`
	To          *string `json:"to"`
	Status      *string `json:"status"`
	RequestID   *string `json:"requestId"`
	RequestTime *string `json:"requestTime"`
}

// Timestamp decodes either an RFC 3339 string or epoch milliseconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", b, err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func stamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t.UTC()}
}

// TableID is the stable identifier derived for a table name.
func TableID(tableName string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("table/"+tableName)).String()
}

// DocumentID is the stable identifier of an account document.
func DocumentID(tableName, accountID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("doc/"+tableName+"/"+accountID)).String()
}

// Shard assigns an account to one of n journal shards. All revisions of an
// account land in the same shard, which keeps them in commit order.
func Shard(accountID string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(accountID) % uint64(n))
}

// Encode renders a revision as a REVISION_DETAILS envelope.
func Encode(streamID string, rev domain.Revision) ([]byte, error) {
	payload, err := json.Marshal(RevisionDetails{
		TableInfo: &TableInfo{TableName: rev.TableInfo.TableName, TableID: rev.TableInfo.TableID},
		Revision: &RevisionBody{
			Data: encodeDocument(rev.Data),
			Metadata: &RevisionMetadata{
				ID:      rev.Metadata.ID,
				Version: rev.Metadata.Version,
				TxTime:  stamp(rev.Metadata.TxTime),
				TxID:    rev.Metadata.TxID,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode revision payload: %w", err)
	}
	return json.Marshal(Envelope{
		StreamID:   streamID,
		RecordType: RecordTypeRevisionDetails,
		Payload:    payload,
	})
}

func encodeDocument(a domain.Account) *Document {
	doc := &Document{
		AccountID:  &a.AccountID,
		Balance:    &a.Balance,
		PendingTxs: make([]Tx, 0, len(a.PendingTxs)),
		CreatedAt:  stamp(a.CreatedAt),
	}
	if a.LastTx != nil {
		tx := encodeTx(*a.LastTx)
		doc.LastTx = &tx
	}
	for _, p := range a.PendingTxs {
		doc.PendingTxs = append(doc.PendingTxs, encodeTx(p))
	}
	if a.DeletedAt != nil {
		doc.DeletedAt = stamp(*a.DeletedAt)
	}
	return doc
}

func encodeTx(t domain.TxDescriptor) Tx {
	out := Tx{Amount: &t.Amount, From: t.From, To: t.To}
	if t.Status != "" {
		s := string(t.Status)
		out.Status = &s
	}
	if t.RequestID != "" {
		out.RequestID = &t.RequestID
	}
	if t.RequestTime != "" {
		out.RequestTime = &t.RequestTime
	}
	return out
}
