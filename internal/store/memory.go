package store

import (
	"context"
	"sync"
	"time"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/journal"
)

// Memory is an in-process account store with the same transactional and
// journal contract as Postgres. A transaction holds the store lock and is
// rolled back by restoring a snapshot.
type Memory struct {
	mu          sync.Mutex
	opts        Options
	now         func() time.Time
	accounts    map[string]domain.Account
	versions    map[string]int64
	shards      [][]journal.Record
	checkpoints map[int]int64

	// conflicts makes the next n transaction attempts fail after running
	// their body, as a serialization failure would.
	conflicts int
	// failWrite makes the nth WriteAccount call of the next transaction fail.
	failWrite int
}

func NewMemory(opts Options) *Memory {
	opts = opts.withDefaults()
	return &Memory{
		opts:        opts,
		now:         time.Now,
		accounts:    make(map[string]domain.Account),
		versions:    make(map[string]int64),
		shards:      make([][]journal.Record, opts.Shards),
		checkpoints: make(map[int]int64),
	}
}

// WithClock replaces the clock used for revision timestamps.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// InjectConflicts makes the next n attempts fail with ErrConflict.
func (m *Memory) InjectConflicts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = n
}

// FailNthWrite makes the nth write inside the next transaction fail.
func (m *Memory) FailNthWrite(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = n
}

func (m *Memory) Shards() int {
	return m.opts.Shards
}

func (m *Memory) RunInTx(ctx context.Context, fn func(Tx) error) error {
	return withRetry(ctx, m.opts.RetryLimit, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		snap := m.snapshot()
		view := &memoryTx{
			parent:    m,
			revs:      newRevisionBuilder(m.opts.Table, m.now()),
			failWrite: m.failWrite,
		}
		m.failWrite = 0

		err := fn(view)
		if err == nil && m.conflicts > 0 {
			m.conflicts--
			err = ErrConflict
		}
		if err != nil {
			m.restore(snap)
			return err
		}
		return nil
	})
}

type memorySnapshot struct {
	accounts map[string]domain.Account
	versions map[string]int64
	heads    []int
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		accounts: make(map[string]domain.Account, len(m.accounts)),
		versions: make(map[string]int64, len(m.versions)),
		heads:    make([]int, len(m.shards)),
	}
	for k, v := range m.accounts {
		s.accounts[k] = v.Clone()
	}
	for k, v := range m.versions {
		s.versions[k] = v
	}
	for i, recs := range m.shards {
		s.heads[i] = len(recs)
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.versions = s.versions
	for i, n := range s.heads {
		m.shards[i] = m.shards[i][:n]
	}
}

type memoryTx struct {
	parent    *Memory
	revs      revisionBuilder
	writes    int
	failWrite int
}

func (t *memoryTx) ReadAccounts(_ context.Context, ids ...string) ([]domain.Account, error) {
	var out []domain.Account
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if acc, ok := t.parent.accounts[id]; ok {
			out = append(out, acc.Clone())
		}
	}
	return out, nil
}

func (t *memoryTx) WriteAccount(_ context.Context, acc domain.Account) (domain.Revision, error) {
	t.writes++
	if t.failWrite > 0 && t.writes == t.failWrite {
		return domain.Revision{}, domain.Errorf(domain.KindTransient, "injected write failure for %s", acc.AccountID)
	}

	m := t.parent
	stored := acc.Clone()
	m.accounts[acc.AccountID] = stored
	m.versions[acc.AccountID]++
	rev := t.revs.build(stored.Clone(), m.versions[acc.AccountID])

	envelope, err := journal.Encode(StreamID, rev)
	if err != nil {
		return domain.Revision{}, err
	}
	shard := journal.Shard(acc.AccountID, m.opts.Shards)
	m.shards[shard] = append(m.shards[shard], journal.Record{
		Shard: shard,
		Seq:   int64(len(m.shards[shard]) + 1),
		Data:  envelope,
	})
	return rev, nil
}

// Account returns a copy of the stored document for id.
func (m *Memory) Account(id string) (domain.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	return acc.Clone(), ok
}

func (m *Memory) Fetch(_ context.Context, shard int, after int64, limit int) ([]journal.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.shards[shard]
	if after < 0 {
		after = 0
	}
	if after >= int64(len(recs)) {
		return nil, nil
	}
	end := len(recs)
	if limit > 0 && int(after)+limit < end {
		end = int(after) + limit
	}
	out := make([]journal.Record, end-int(after))
	copy(out, recs[after:end])
	return out, nil
}

func (m *Memory) Checkpoint(_ context.Context, shard int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpoints[shard], nil
}

func (m *Memory) Commit(_ context.Context, shard int, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq > m.checkpoints[shard] {
		m.checkpoints[shard] = seq
	}
	return nil
}
