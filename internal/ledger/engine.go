// Package ledger decides whether a requested balance mutation may be applied
// to an account snapshot and computes the document version to write.
//
// Nothing here performs I/O. Every method takes the snapshot read inside the
// caller's store transaction and returns fresh copies, so the surrounding
// read-validate-write body can be retried as a whole after a conflict.
package ledger

import (
	"math"
	"strings"
	"time"

	"github.com/punchamoorthee/walletops/internal/domain"
)

// Engine holds the rules shared by every wallet operation.
type Engine struct {
	keys KeyStrategy
	now  func() time.Time
}

func NewEngine(keys KeyStrategy) *Engine {
	return &Engine{keys: keys, now: time.Now}
}

// WithClock replaces the engine clock. Used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Keys() KeyStrategy {
	return e.keys
}

// Select finds the document for id in a store read. A missing document
// yields nil; more than one is a data-integrity violation.
func Select(accounts []domain.Account, id string) (*domain.Account, error) {
	var found *domain.Account
	for i := range accounts {
		if accounts[i].AccountID != id {
			continue
		}
		if found != nil {
			return nil, domain.Errorf(domain.KindMultipleMatches, "more than one account with %s", id)
		}
		found = &accounts[i]
	}
	return found, nil
}

func live(acc *domain.Account, id string) error {
	if acc == nil {
		return domain.Errorf(domain.KindNotFound, "account %s not found", id)
	}
	if acc.IsDeleted() {
		return domain.Errorf(domain.KindAlreadyDeleted, "account %s already deleted", id)
	}
	return nil
}

func insufficient(acc domain.Account, delta int64) error {
	if delta < 0 && acc.AvailableBalance()+delta < 0 {
		return domain.Errorf(domain.KindInsufficientFunds,
			"funds too low: cannot deduct %d from account %s (available %d)",
			-delta, acc.AccountID, acc.AvailableBalance())
	}
	return nil
}

// overflows rejects a credit that would take the balance past MaxInt64.
func overflows(acc domain.Account, delta int64) error {
	if delta > 0 && acc.Balance > math.MaxInt64-delta {
		return domain.Errorf(domain.KindInvalidInput,
			"amount %d overflows balance %d of account %s", delta, acc.Balance, acc.AccountID)
	}
	return nil
}

// CreateAccount returns a fresh document for id. A soft-deleted document
// with the same id is replaced.
func (e *Engine) CreateAccount(existing *domain.Account, id string) (domain.Account, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Account{}, domain.Errorf(domain.KindInvalidInput, "accountId not specified")
	}
	if existing != nil && !existing.IsDeleted() {
		return domain.Account{}, domain.Errorf(domain.KindAlreadyExists, "account with id %s already exists", id)
	}
	return domain.Account{
		AccountID:  id,
		Balance:    0,
		PendingTxs: []domain.TxDescriptor{},
		CreatedAt:  e.now().UTC(),
	}, nil
}

// DeleteAccount soft-deletes acc. lastTx is cleared so the projector does
// not replay the previous transaction from the delete revision.
func (e *Engine) DeleteAccount(acc *domain.Account, id string) (domain.Account, error) {
	if err := live(acc, id); err != nil {
		return domain.Account{}, err
	}
	next := acc.Clone()
	now := e.now().UTC()
	next.DeletedAt = &now
	next.LastTx = nil
	return next, nil
}

// Apply performs an immediate signed balance change. Positive deltas are
// deposits, negative deltas withdrawals.
func (e *Engine) Apply(acc *domain.Account, id string, delta int64, key string) (domain.Account, error) {
	if delta == 0 {
		return domain.Account{}, domain.Errorf(domain.KindInvalidInput, "amount must be non-zero")
	}
	if err := e.keys.validate(key); err != nil {
		return domain.Account{}, err
	}
	if err := live(acc, id); err != nil {
		return domain.Account{}, err
	}
	if err := e.keys.checkLast(*acc, key); err != nil {
		return domain.Account{}, err
	}
	if err := insufficient(*acc, delta); err != nil {
		return domain.Account{}, err
	}
	if err := overflows(*acc, delta); err != nil {
		return domain.Account{}, err
	}

	next := acc.Clone()
	next.Balance += delta
	last := e.keys.stamp(domain.TxDescriptor{Amount: delta, Status: domain.StatusImmediate}, key)
	next.LastTx = &last
	return next, nil
}

// Transfer moves amount from one account to another. Both legs carry the
// same key so the projector can correlate them; only the sign differs.
func (e *Engine) Transfer(from, to *domain.Account, fromID, toID string, amount int64, key string) (domain.Account, domain.Account, error) {
	var none domain.Account
	if amount <= 0 {
		return none, none, domain.Errorf(domain.KindInvalidInput, "transfer amount must be positive")
	}
	if fromID == toID {
		return none, none, domain.Errorf(domain.KindInvalidInput, "cannot transfer to self")
	}
	if err := e.keys.validate(key); err != nil {
		return none, none, err
	}
	if err := live(from, fromID); err != nil {
		return none, none, err
	}
	if err := live(to, toID); err != nil {
		return none, none, err
	}
	for _, acc := range []*domain.Account{from, to} {
		if err := e.keys.checkLast(*acc, key); err != nil {
			return none, none, err
		}
	}
	if err := insufficient(*from, -amount); err != nil {
		return none, none, err
	}
	if err := overflows(*to, amount); err != nil {
		return none, none, err
	}

	src, dst := from.Clone(), to.Clone()
	src.Balance -= amount
	dst.Balance += amount

	debit := e.keys.stamp(domain.TxDescriptor{
		Amount: -amount,
		From:   &fromID,
		To:     &toID,
		Status: domain.StatusImmediate,
	}, key)
	credit := debit
	credit.Amount = amount
	src.LastTx = &debit
	dst.LastTx = &credit
	return src, dst, nil
}

// OpenPending reserves a two-phase transaction without touching balance.
// Negative amounts are checked against availability immediately.
func (e *Engine) OpenPending(acc *domain.Account, id string, amount int64, key string) (domain.Account, error) {
	if amount == 0 {
		return domain.Account{}, domain.Errorf(domain.KindInvalidInput, "amount must be non-zero")
	}
	if err := e.keys.validate(key); err != nil {
		return domain.Account{}, err
	}
	if err := live(acc, id); err != nil {
		return domain.Account{}, err
	}
	if err := e.keys.checkLast(*acc, key); err != nil {
		return domain.Account{}, err
	}
	if acc.FindPending(key) >= 0 {
		return domain.Account{}, domain.Errorf(domain.KindDuplicateRequest,
			"transaction request %s is already %s", key, domain.StatusRequested)
	}
	if err := insufficient(*acc, amount); err != nil {
		return domain.Account{}, err
	}
	if err := overflows(*acc, amount); err != nil {
		return domain.Account{}, err
	}

	next := acc.Clone()
	pending := e.keys.stamp(domain.TxDescriptor{Amount: amount, Status: domain.StatusRequested}, key)
	next.PendingTxs = append(next.PendingTxs, pending)
	last := pending
	next.LastTx = &last
	return next, nil
}

// ClosePending removes the pending entry for key and applies it when
// committed. The request ordering is not re-checked on close.
func (e *Engine) ClosePending(acc *domain.Account, id, key string, status domain.TxStatus) (domain.Account, domain.TxDescriptor, error) {
	var none domain.TxDescriptor
	if !status.Closes() {
		return domain.Account{}, none, domain.Errorf(domain.KindInvalidInput,
			"status must be %s or %s, got %q", domain.StatusCommitted, domain.StatusCanceled, status)
	}
	if err := e.keys.validate(key); err != nil {
		return domain.Account{}, none, err
	}
	if err := live(acc, id); err != nil {
		return domain.Account{}, none, err
	}
	idx := acc.FindPending(key)
	if idx < 0 {
		return domain.Account{}, none, domain.Errorf(domain.KindNotFound, "transaction %s not found", key)
	}

	if status == domain.StatusCommitted {
		if err := overflows(*acc, acc.PendingTxs[idx].Amount); err != nil {
			return domain.Account{}, none, err
		}
	}

	next := acc.Clone()
	closed := next.PendingTxs[idx]
	next.PendingTxs = append(next.PendingTxs[:idx], next.PendingTxs[idx+1:]...)
	if status == domain.StatusCommitted {
		next.Balance += closed.Amount
	}
	closed.Status = status
	closed.From, closed.To = nil, nil
	last := closed
	next.LastTx = &last
	return next, closed, nil
}
