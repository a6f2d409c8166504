package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/ledger"
	"github.com/punchamoorthee/walletops/internal/store"
)

func newTestService(t *testing.T, keys ledger.KeyStrategy) (*WalletService, *store.Memory) {
	t.Helper()
	mem := store.NewMemory(store.Options{RetryLimit: 3})
	return NewWalletService(mem, ledger.NewEngine(keys), nil), mem
}

func balanceOf(t *testing.T, mem *store.Memory, id string) int64 {
	t.Helper()
	acc, ok := mem.Account(id)
	require.True(t, ok, "account %s missing", id)
	return acc.Balance
}

func TestWallet_EndToEndScenario(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t, ledger.KeyRequestID)

	acc, err := svc.CreateAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.Balance)
	_, err = svc.CreateAccount(ctx, "u2")
	require.NoError(t, err)

	change, err := svc.Deposit(ctx, "u1", 100, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), change.OldBalance)
	assert.Equal(t, int64(100), change.NewBalance)

	_, err = svc.Deposit(ctx, "u1", 100, "r1")
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
	assert.Equal(t, int64(100), balanceOf(t, mem, "u1"))

	res, err := svc.Transfer(ctx, domain.TransferRequest{FromAccountID: "u1", ToAccountID: "u2", Amount: 40}, "r2")
	require.NoError(t, err)
	assert.Equal(t, int64(60), res.From.NewBalance)
	assert.Equal(t, int64(40), res.To.NewBalance)
	assert.Equal(t, int64(60), balanceOf(t, mem, "u1"))
	assert.Equal(t, int64(40), balanceOf(t, mem, "u2"))

	_, err = svc.Withdraw(ctx, "u1", 1000, "r3")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(60), balanceOf(t, mem, "u1"))
}

func TestWallet_TransferConservesTotal(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t, ledger.KeyRequestID)
	for _, id := range []string{"a", "b"} {
		_, err := svc.CreateAccount(ctx, id)
		require.NoError(t, err)
	}
	_, err := svc.Deposit(ctx, "a", 500, "seed-a")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, "b", 70, "seed-b")
	require.NoError(t, err)

	for i, amt := range []int64{1, 99, 250} {
		key := "t" + string(rune('0'+i))
		beforeA, beforeB := balanceOf(t, mem, "a"), balanceOf(t, mem, "b")
		_, err := svc.Transfer(ctx, domain.TransferRequest{FromAccountID: "a", ToAccountID: "b", Amount: amt}, key)
		require.NoError(t, err)
		assert.Equal(t, beforeA-amt, balanceOf(t, mem, "a"))
		assert.Equal(t, beforeB+amt, balanceOf(t, mem, "b"))
		assert.Equal(t, int64(570), balanceOf(t, mem, "a")+balanceOf(t, mem, "b"))
	}
}

func TestWallet_TransferIsAtomic(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t, ledger.KeyRequestID)
	_, err := svc.CreateAccount(ctx, "u1")
	require.NoError(t, err)
	_, err = svc.CreateAccount(ctx, "u2")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, "u1", 100, "r1")
	require.NoError(t, err)

	journalBefore, err := mem.Fetch(ctx, 0, 0, 1000)
	require.NoError(t, err)

	mem.FailNthWrite(2)
	_, err = svc.Transfer(ctx, domain.TransferRequest{FromAccountID: "u1", ToAccountID: "u2", Amount: 40}, "r2")
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, int64(100), balanceOf(t, mem, "u1"))
	assert.Equal(t, int64(0), balanceOf(t, mem, "u2"))

	journalAfter, err := mem.Fetch(ctx, 0, 0, 1000)
	require.NoError(t, err)
	assert.Len(t, journalAfter, len(journalBefore))

	// The same request succeeds once the store recovers.
	_, err = svc.Transfer(ctx, domain.TransferRequest{FromAccountID: "u1", ToAccountID: "u2", Amount: 40}, "r2")
	require.NoError(t, err)
	assert.Equal(t, int64(60), balanceOf(t, mem, "u1"))
}

func TestWallet_RetriesConflictsWithoutDoubleApplying(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t, ledger.KeyRequestID)
	_, err := svc.CreateAccount(ctx, "u1")
	require.NoError(t, err)

	mem.InjectConflicts(2)
	change, err := svc.Deposit(ctx, "u1", 100, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), change.OldBalance)
	assert.Equal(t, int64(100), balanceOf(t, mem, "u1"))

	mem.InjectConflicts(10)
	_, err = svc.Deposit(ctx, "u1", 5, "r2")
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, int64(100), balanceOf(t, mem, "u1"))

	// A verbatim retry of the surfaced request is safe.
	mem.InjectConflicts(0)
	_, err = svc.Deposit(ctx, "u1", 5, "r2")
	require.NoError(t, err)
	assert.Equal(t, int64(105), balanceOf(t, mem, "u1"))
}

func TestWallet_RequestTimeOrdering(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t, ledger.KeyRequestTime)
	_, err := svc.CreateAccount(ctx, "u1")
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, "u1", 100, "2023-10-18T13:38:56.329Z")
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, "u1", 100, "2023-10-18T13:38:56.000Z")
	assert.ErrorIs(t, err, domain.ErrOutOfOrder)

	_, err = svc.Deposit(ctx, "u1", 100, "2023-10-18T13:38:56.329Z")
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)

	_, err = svc.Deposit(ctx, "u1", 100, "18/10/2023")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Equal(t, int64(100), balanceOf(t, mem, "u1"))
}

func TestWallet_PendingLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		svc, mem := newTestService(t, ledger.KeyRequestID)
		_, err := svc.CreateAccount(ctx, "u1")
		require.NoError(t, err)
		_, err = svc.Deposit(ctx, "u1", 100, "r1")
		require.NoError(t, err)

		opened, err := svc.OpenPending(ctx, "u1", -50, "p1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), opened.NewBalance)
		assert.Equal(t, int64(50), opened.AvailableBalance)

		_, err = svc.Withdraw(ctx, "u1", 60, "r2")
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

		closed, err := svc.ClosePending(ctx, "u1", "p1", domain.StatusCommitted)
		require.NoError(t, err)
		assert.Equal(t, int64(50), closed.NewBalance)
		assert.Equal(t, domain.StatusCommitted, closed.Status)

		_, err = svc.ClosePending(ctx, "u1", "p1", domain.StatusCommitted)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, int64(50), balanceOf(t, mem, "u1"))
	})

	t.Run("cancel", func(t *testing.T) {
		svc, mem := newTestService(t, ledger.KeyRequestID)
		_, err := svc.CreateAccount(ctx, "u1")
		require.NoError(t, err)
		_, err = svc.Deposit(ctx, "u1", 100, "r1")
		require.NoError(t, err)
		_, err = svc.OpenPending(ctx, "u1", -50, "p1")
		require.NoError(t, err)

		_, err = svc.ClosePending(ctx, "u1", "p1", domain.StatusCanceled)
		require.NoError(t, err)
		assert.Equal(t, int64(100), balanceOf(t, mem, "u1"))

		view, err := svc.GetBalance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), view.AvailableBalance)
		assert.Empty(t, view.PendingTxs)
		assert.Equal(t, "1.00", view.BalanceDisplay)
	})
}

func TestWallet_DeleteAccount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, ledger.KeyRequestID)
	_, err := svc.CreateAccount(ctx, "u1")
	require.NoError(t, err)

	_, err = svc.CreateAccount(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	deleted, err := svc.DeleteAccount(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, deleted.DeletedAt)

	_, err = svc.DeleteAccount(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrAlreadyDeleted)
	_, err = svc.Deposit(ctx, "u1", 10, "r1")
	assert.ErrorIs(t, err, domain.ErrAlreadyDeleted)
	_, err = svc.GetBalance(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrAlreadyDeleted)

	_, err = svc.DeleteAccount(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWallet_UpdateBalanceSigned(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t, ledger.KeyRequestID)
	_, err := svc.CreateAccount(ctx, "u1")
	require.NoError(t, err)

	_, err = svc.UpdateBalance(ctx, "u1", 30, "r1")
	require.NoError(t, err)
	change, err := svc.UpdateBalance(ctx, "u1", -10, "r2")
	require.NoError(t, err)
	assert.Equal(t, int64(-10), change.Amount)
	assert.Equal(t, int64(20), balanceOf(t, mem, "u1"))

	_, err = svc.UpdateBalance(ctx, "u1", 0, "r3")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.Deposit(ctx, "u1", -5, "r4")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.Withdraw(ctx, "u1", -5, "r5")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

type stubHistory struct {
	accountID string
	from, to  *time.Time
	recs      []domain.TransactionRecord
}

func (s *stubHistory) Query(_ context.Context, accountID string, from, to *time.Time) ([]domain.TransactionRecord, error) {
	s.accountID, s.from, s.to = accountID, from, to
	return s.recs, nil
}

func TestWallet_GetTransactions(t *testing.T) {
	ctx := context.Background()
	h := &stubHistory{recs: []domain.TransactionRecord{{AccountID: "u1", Key: "r1"}}}
	svc := NewWalletService(store.NewMemory(store.Options{}), ledger.NewEngine(ledger.KeyRequestID), h)

	from := time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)
	recs, err := svc.GetTransactions(ctx, "u1", &from, nil)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, "u1", h.accountID)
	assert.Equal(t, &from, h.from)
	assert.Nil(t, h.to)

	before := from.Add(-time.Hour)
	_, err = svc.GetTransactions(ctx, "u1", &from, &before)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	noHistory, _ := newTestService(t, ledger.KeyRequestID)
	_, err = noHistory.GetTransactions(ctx, "u1", nil, nil)
	assert.Error(t, err)
}

func TestWallet_CreditsNeverWrapBalance(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t, ledger.KeyRequestID)
	for _, id := range []string{"u1", "u2"} {
		_, err := svc.CreateAccount(ctx, id)
		require.NoError(t, err)
	}

	_, err := svc.Deposit(ctx, "u1", math.MaxInt64, "r1")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, "u1", 1, "r2")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.UpdateBalance(ctx, "u1", 1, "r3")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, int64(math.MaxInt64), balanceOf(t, mem, "u1"))

	_, err = svc.Deposit(ctx, "u2", 10, "r4")
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, domain.TransferRequest{FromAccountID: "u2", ToAccountID: "u1", Amount: 1}, "r5")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, int64(math.MaxInt64), balanceOf(t, mem, "u1"))
	assert.Equal(t, int64(10), balanceOf(t, mem, "u2"))

	_, err = svc.OpenPending(ctx, "u2", math.MaxInt64-10, "p1")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, "u2", 1, "r6")
	require.NoError(t, err)
	_, err = svc.ClosePending(ctx, "u2", "p1", domain.StatusCommitted)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, int64(11), balanceOf(t, mem, "u2"))
}
