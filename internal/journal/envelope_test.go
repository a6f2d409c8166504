package journal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShard_StablePerAccount(t *testing.T) {
	for _, id := range []string{"u1", "u2", "acct-0001", ""} {
		s := Shard(id, 4)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 4)
		assert.Equal(t, s, Shard(id, 4))
	}
	assert.Equal(t, 0, Shard("u1", 1))
	assert.Equal(t, 0, Shard("u1", 0))
}

func TestTimestamp_Decode(t *testing.T) {
	want := time.Date(2023, 10, 18, 13, 38, 56, 329_000_000, time.UTC)

	tests := []struct {
		name string
		raw  string
	}{
		{"epoch millis", `1697636336329`},
		{"rfc3339", `"2023-10-18T13:38:56.329Z"`},
		{"offset", `"2023-10-18T15:38:56.329+02:00"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &ts))
			assert.True(t, want.Equal(ts.Time))
			assert.Equal(t, time.UTC, ts.Location())
		})
	}

	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}

func TestIDsAreDeterministic(t *testing.T) {
	assert.Equal(t, TableID("Wallet"), TableID("Wallet"))
	assert.NotEqual(t, TableID("Wallet"), TableID("Other"))
	assert.Equal(t, DocumentID("Wallet", "u1"), DocumentID("Wallet", "u1"))
	assert.NotEqual(t, DocumentID("Wallet", "u1"), DocumentID("Wallet", "u2"))
}
