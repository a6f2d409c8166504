package cdc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/journal"
)

const sampleEnvelope = `{
  "streamId": "wallet-ledger",
  "recordType": "REVISION_DETAILS",
  "payload": {
    "tableInfo": {"tableName": "Wallet", "tableId": "5PLf9SXwndd63lPaSIa0O6"},
    "revision": {
      "data": {
        "accountId": "u1",
        "balance": 60,
        "lastTx": {
          "amount": -40,
          "from": "u1",
          "to": "u2",
          "status": "IMMEDIATE",
          "requestTime": "2023-10-18T13:38:56.329Z"
        },
        "pendingTxs": [
          {"amount": -10, "status": "REQUESTED", "requestTime": "2023-10-18T13:30:00.000Z"}
        ],
        "createdAt": "2023-10-18T13:00:00Z"
      },
      "metadata": {
        "id": "JdxjkR9bSYB5jMHWcI464T",
        "version": 3,
        "txTime": 1697636336329,
        "txId": "HY3ZXIlw3AcBCGGdbNwmfa"
      }
    }
  }
}`

func TestDecode_RevisionDetails(t *testing.T) {
	rev, err := NewDecoder("Wallet").Decode([]byte(sampleEnvelope))
	require.NoError(t, err)
	require.NotNil(t, rev)

	assert.Equal(t, "Wallet", rev.TableInfo.TableName)
	assert.Equal(t, "u1", rev.Data.AccountID)
	assert.Equal(t, int64(60), rev.Data.Balance)
	require.NotNil(t, rev.Data.LastTx)
	assert.Equal(t, int64(-40), rev.Data.LastTx.Amount)
	assert.Equal(t, domain.StatusImmediate, rev.Data.LastTx.Status)
	assert.Equal(t, "2023-10-18T13:38:56.329Z", rev.Data.LastTx.Key())
	require.NotNil(t, rev.Data.LastTx.From)
	assert.Equal(t, "u1", *rev.Data.LastTx.From)
	require.Len(t, rev.Data.PendingTxs, 1)
	assert.Equal(t, int64(-10), rev.Data.PendingTxs[0].Amount)
	assert.Nil(t, rev.Data.DeletedAt)
	assert.Equal(t, time.Date(2023, 10, 18, 13, 0, 0, 0, time.UTC), rev.Data.CreatedAt)

	assert.Equal(t, "HY3ZXIlw3AcBCGGdbNwmfa", rev.Metadata.TxID)
	assert.Equal(t, int64(3), rev.Metadata.Version)
	assert.Equal(t, time.Date(2023, 10, 18, 13, 38, 56, 329_000_000, time.UTC), rev.Metadata.TxTime)
}

func TestDecode_MissingOptionalFields(t *testing.T) {
	raw := `{"recordType":"REVISION_DETAILS","payload":{
		"tableInfo":{"tableName":"Wallet"},
		"revision":{"data":{"accountId":"u1","balance":0},"metadata":{"txId":"t1","txTime":"2023-10-18T13:00:00.5Z"}}}}`

	rev, err := NewDecoder("Wallet").Decode([]byte(raw))
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Nil(t, rev.Data.LastTx)
	assert.NotNil(t, rev.Data.PendingTxs)
	assert.Empty(t, rev.Data.PendingTxs)
	assert.Equal(t, time.Date(2023, 10, 18, 13, 0, 0, 500_000_000, time.UTC), rev.Metadata.TxTime)
}

func TestDecode_Skips(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"control record", `{"recordType":"CONTROL","payload":{"controlRecordType":"CREATED"}}`},
		{"other table", `{"recordType":"REVISION_DETAILS","payload":{"tableInfo":{"tableName":"Other"},"revision":{"data":{"accountId":"u1"}}}}`},
		{"no table info", `{"recordType":"REVISION_DETAILS","payload":{"revision":{"data":{"accountId":"u1"}}}}`},
		{"no revision", `{"recordType":"REVISION_DETAILS","payload":{"tableInfo":{"tableName":"Wallet"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rev, err := NewDecoder("Wallet").Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Nil(t, rev)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []string{
		`not json`,
		`{"recordType":"REVISION_DETAILS","payload":"oops"}`,
		`{"recordType":"REVISION_DETAILS","payload":{"tableInfo":{"tableName":"Wallet"},"revision":{"metadata":{"txTime":"yesterday"}}}}`,
	}
	for _, raw := range tests {
		_, err := NewDecoder("Wallet").Decode([]byte(raw))
		assert.ErrorIs(t, err, domain.ErrInvalidInput, raw)
	}
}

func TestDecode_RoundTripsEncodedRevision(t *testing.T) {
	created := time.Date(2023, 10, 18, 13, 0, 0, 0, time.UTC)
	deleted := created.Add(time.Hour)
	in := domain.Revision{
		TableInfo: domain.TableInfo{TableName: "Wallet", TableID: journal.TableID("Wallet")},
		Data: domain.Account{
			AccountID:  "u1",
			Balance:    10,
			PendingTxs: []domain.TxDescriptor{},
			CreatedAt:  created,
			DeletedAt:  &deleted,
		},
		Metadata: domain.RevisionMetadata{
			ID:      journal.DocumentID("Wallet", "u1"),
			TxID:    "tx-9",
			TxTime:  deleted,
			Version: 7,
		},
	}
	raw, err := journal.Encode("wallet-ledger", in)
	require.NoError(t, err)

	out, err := NewDecoder("Wallet").Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in, *out)
}
