package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/ledger"
	"github.com/punchamoorthee/walletops/internal/store"
)

var walletOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wallet_operations_total",
	Help: "Wallet operations, labeled by operation and outcome kind",
}, []string{"operation", "outcome"})

// AccountStore runs a closure as one atomic read-validate-write unit.
type AccountStore interface {
	RunInTx(ctx context.Context, fn func(store.Tx) error) error
}

// HistoryReader serves projected transaction history.
type HistoryReader interface {
	Query(ctx context.Context, accountID string, from, to *time.Time) ([]domain.TransactionRecord, error)
}

// WalletService executes ledger operations against the account store. The
// closure passed to the store may run several times, so it only touches
// values it assigns from scratch.
type WalletService struct {
	store   AccountStore
	engine  *ledger.Engine
	history HistoryReader
}

func NewWalletService(s AccountStore, e *ledger.Engine, h HistoryReader) *WalletService {
	return &WalletService{store: s, engine: e, history: h}
}

// Keys is the idempotency key strategy requests are validated against.
func (s *WalletService) Keys() ledger.KeyStrategy {
	return s.engine.Keys()
}

func (s *WalletService) CreateAccount(ctx context.Context, id string) (*domain.Account, error) {
	var created domain.Account
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		existing, err := readOne(ctx, tx, id)
		if err != nil {
			return err
		}
		created, err = s.engine.CreateAccount(existing, id)
		if err != nil {
			return err
		}
		_, err = tx.WriteAccount(ctx, created)
		return err
	})
	if err := observe("create_account", err); err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *WalletService) DeleteAccount(ctx context.Context, id string) (*domain.Account, error) {
	var deleted domain.Account
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		acc, err := readOne(ctx, tx, id)
		if err != nil {
			return err
		}
		deleted, err = s.engine.DeleteAccount(acc, id)
		if err != nil {
			return err
		}
		_, err = tx.WriteAccount(ctx, deleted)
		return err
	})
	if err := observe("delete_account", err); err != nil {
		return nil, err
	}
	return &deleted, nil
}

func (s *WalletService) Deposit(ctx context.Context, id string, amount int64, key string) (*domain.BalanceChange, error) {
	if amount <= 0 {
		return nil, observe("deposit", domain.Errorf(domain.KindInvalidInput, "deposit amount must be positive"))
	}
	return s.apply(ctx, "deposit", id, amount, key)
}

func (s *WalletService) Withdraw(ctx context.Context, id string, amount int64, key string) (*domain.BalanceChange, error) {
	if amount <= 0 {
		return nil, observe("withdraw", domain.Errorf(domain.KindInvalidInput, "withdraw amount must be positive"))
	}
	return s.apply(ctx, "withdraw", id, -amount, key)
}

// UpdateBalance applies a signed immediate change: positive deposits,
// negative withdraws.
func (s *WalletService) UpdateBalance(ctx context.Context, id string, amount int64, key string) (*domain.BalanceChange, error) {
	return s.apply(ctx, "update_balance", id, amount, key)
}

func (s *WalletService) apply(ctx context.Context, op, id string, delta int64, key string) (*domain.BalanceChange, error) {
	var change domain.BalanceChange
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		acc, err := readOne(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := s.engine.Apply(acc, id, delta, key)
		if err != nil {
			return err
		}
		if _, err := tx.WriteAccount(ctx, next); err != nil {
			return err
		}
		change = balanceChange(*acc, next, delta, domain.StatusImmediate, key)
		return nil
	})
	if err := observe(op, err); err != nil {
		return nil, err
	}
	return &change, nil
}

// OpenPending reserves a two-phase transaction. Balance is unchanged until
// the entry is closed.
func (s *WalletService) OpenPending(ctx context.Context, id string, amount int64, key string) (*domain.BalanceChange, error) {
	var change domain.BalanceChange
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		acc, err := readOne(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := s.engine.OpenPending(acc, id, amount, key)
		if err != nil {
			return err
		}
		if _, err := tx.WriteAccount(ctx, next); err != nil {
			return err
		}
		change = balanceChange(*acc, next, amount, domain.StatusRequested, key)
		return nil
	})
	if err := observe("open_pending", err); err != nil {
		return nil, err
	}
	return &change, nil
}

func (s *WalletService) ClosePending(ctx context.Context, id, key string, status domain.TxStatus) (*domain.BalanceChange, error) {
	var change domain.BalanceChange
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		acc, err := readOne(ctx, tx, id)
		if err != nil {
			return err
		}
		next, closed, err := s.engine.ClosePending(acc, id, key, status)
		if err != nil {
			return err
		}
		if _, err := tx.WriteAccount(ctx, next); err != nil {
			return err
		}
		change = balanceChange(*acc, next, closed.Amount, status, key)
		return nil
	})
	if err := observe("close_pending", err); err != nil {
		return nil, err
	}
	return &change, nil
}

func (s *WalletService) GetBalance(ctx context.Context, id string) (*domain.BalanceView, error) {
	var view domain.BalanceView
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		acc, err := readOne(ctx, tx, id)
		if err != nil {
			return err
		}
		if acc == nil {
			return domain.Errorf(domain.KindNotFound, "account %s not found", id)
		}
		if acc.IsDeleted() {
			return domain.Errorf(domain.KindAlreadyDeleted, "account %s already deleted", id)
		}
		view = domain.BalanceView{
			AccountID:        acc.AccountID,
			Balance:          acc.Balance,
			AvailableBalance: acc.AvailableBalance(),
			BalanceDisplay:   domain.FormatMinor(acc.Balance),
			PendingTxs:       acc.PendingTxs,
			CreatedAt:        acc.CreatedAt,
		}
		return nil
	})
	if err := observe("get_balance", err); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetTransactions lists the projected history of an account. Records appear
// once the projector has caught up with the journal.
func (s *WalletService) GetTransactions(ctx context.Context, id string, from, to *time.Time) ([]domain.TransactionRecord, error) {
	if s.history == nil {
		return nil, observe("get_transactions", errors.New("transaction history is not configured"))
	}
	if id == "" {
		return nil, observe("get_transactions", domain.Errorf(domain.KindInvalidInput, "accountId not specified"))
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, observe("get_transactions", domain.Errorf(domain.KindInvalidInput, "range end is before its start"))
	}
	recs, err := s.history.Query(ctx, id, from, to)
	return recs, observe("get_transactions", err)
}

func readOne(ctx context.Context, tx store.Tx, id string) (*domain.Account, error) {
	accs, err := tx.ReadAccounts(ctx, id)
	if err != nil {
		return nil, err
	}
	return ledger.Select(accs, id)
}

func balanceChange(before, after domain.Account, amount int64, status domain.TxStatus, key string) domain.BalanceChange {
	return domain.BalanceChange{
		AccountID:        after.AccountID,
		OldBalance:       before.Balance,
		NewBalance:       after.Balance,
		AvailableBalance: after.AvailableBalance(),
		Amount:           amount,
		Status:           status,
		Key:              key,
	}
}

// observe records the outcome of op and logs failures that are not plain
// request rejections.
func observe(op string, err error) error {
	outcome := "ok"
	if err != nil {
		kind := domain.KindOf(err)
		outcome = string(kind)
		if kind == "" {
			outcome = "error"
		}
		if kind == "" || kind == domain.KindTransient || kind == domain.KindMultipleMatches {
			log.Printf("wallet: %s failed: %v", op, err)
		}
	}
	walletOps.WithLabelValues(op, outcome).Inc()
	return err
}
