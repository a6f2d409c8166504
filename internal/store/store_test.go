package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/punchamoorthee/walletops/internal/domain"
)

func TestWithRetry_Classification(t *testing.T) {
	commitErr := func(code string) error {
		return fmt.Errorf("tx commit failed: %w", &pgconn.PgError{Code: code})
	}

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"serialization failure", commitErr("40001"), true},
		{"deadlock", commitErr("40P01"), true},
		{"unique violation", commitErr("23505"), true},
		{"conflict", fmt.Errorf("write account u1: %w", ErrConflict), true},
		{"foreign key violation", commitErr("23503"), false},
		{"syntax error", commitErr("42601"), false},
		{"insufficient funds", domain.Errorf(domain.KindInsufficientFunds, "funds too low"), false},
		{"plain error", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, isRetryable(tt.err))

			calls := 0
			err := withRetry(context.Background(), 3, func(context.Context) error {
				calls++
				return tt.err
			})
			if tt.retryable {
				assert.Equal(t, 3, calls)
				assert.ErrorIs(t, err, domain.ErrTransient)
				assert.ErrorIs(t, err, tt.err)
				return
			}
			assert.Equal(t, 1, calls)
			assert.Same(t, tt.err, err)
		})
	}
}

func TestWithRetry_SucceedsAfterConflict(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, func(context.Context) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("tx commit failed: %w", &pgconn.PgError{Code: "40001"})
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withRetry(ctx, 5, func(context.Context) error {
		calls++
		cancel()
		return ErrConflict
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.ErrorIs(t, err, context.Canceled)
}
