package service

import (
	"context"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/ledger"
	"github.com/punchamoorthee/walletops/internal/store"
)

// Transfer moves amount between two accounts in one transaction. Both rows
// are read, and locked, in a single call; both legs are written before
// commit or neither is.
func (s *WalletService) Transfer(ctx context.Context, req domain.TransferRequest, key string) (*domain.TransferResult, error) {
	var res domain.TransferResult
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		accs, err := tx.ReadAccounts(ctx, req.FromAccountID, req.ToAccountID)
		if err != nil {
			return err
		}
		from, err := ledger.Select(accs, req.FromAccountID)
		if err != nil {
			return err
		}
		to, err := ledger.Select(accs, req.ToAccountID)
		if err != nil {
			return err
		}

		src, dst, err := s.engine.Transfer(from, to, req.FromAccountID, req.ToAccountID, req.Amount, key)
		if err != nil {
			return err
		}
		if _, err := tx.WriteAccount(ctx, src); err != nil {
			return err
		}
		if _, err := tx.WriteAccount(ctx, dst); err != nil {
			return err
		}

		res = domain.TransferResult{
			FromAccountID: req.FromAccountID,
			ToAccountID:   req.ToAccountID,
			Amount:        req.Amount,
			Key:           key,
			From:          balanceChange(*from, src, -req.Amount, domain.StatusImmediate, key),
			To:            balanceChange(*to, dst, req.Amount, domain.StatusImmediate, key),
		}
		return nil
	})
	if err := observe("transfer", err); err != nil {
		return nil, err
	}
	return &res, nil
}
