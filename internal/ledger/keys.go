package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/walletops/internal/domain"
)

// KeyStrategy selects how idempotency keys are interpreted.
type KeyStrategy string

const (
	// KeyRequestID treats keys as opaque unique tokens.
	KeyRequestID KeyStrategy = "requestId"
	// KeyRequestTime treats keys as ISO-8601 timestamps ordered per account.
	KeyRequestTime KeyStrategy = "requestTime"
)

// RequestTimeLayout is the only accepted requestTime format.
const RequestTimeLayout = "2006-01-02T15:04:05.000Z"

func ParseKeyStrategy(s string) (KeyStrategy, error) {
	switch strings.TrimSpace(s) {
	case string(KeyRequestID):
		return KeyRequestID, nil
	case string(KeyRequestTime), "":
		return KeyRequestTime, nil
	default:
		return "", fmt.Errorf("unknown idempotency key strategy %q", s)
	}
}

// PickKey returns the key field that matches the strategy.
func (k KeyStrategy) PickKey(requestID, requestTime string) string {
	if k == KeyRequestID {
		return requestID
	}
	return requestTime
}

// validate rejects keys the strategy cannot interpret.
func (k KeyStrategy) validate(key string) error {
	if key == "" {
		return domain.Errorf(domain.KindInvalidInput, "%s not specified", k)
	}
	if k == KeyRequestTime {
		if _, err := time.Parse(RequestTimeLayout, key); err != nil {
			return domain.Errorf(domain.KindInvalidInput, "requestTime %s is not ISO-8601", key)
		}
	}
	return nil
}

// stamp stores key on the descriptor field owned by the strategy.
func (k KeyStrategy) stamp(tx domain.TxDescriptor, key string) domain.TxDescriptor {
	if k == KeyRequestID {
		tx.RequestID = key
	} else {
		tx.RequestTime = key
	}
	return tx
}

// checkLast enforces the duplicate and ordering rules against the last
// transaction applied to acc.
func (k KeyStrategy) checkLast(acc domain.Account, key string) error {
	if acc.LastTx == nil {
		return nil
	}
	last := acc.LastTx.Key()
	if last == "" {
		return nil
	}
	if last == key {
		return domain.Errorf(domain.KindDuplicateRequest, "transaction request %s already processed", key)
	}
	if k != KeyRequestTime {
		return nil
	}
	lastTime, err := time.Parse(RequestTimeLayout, last)
	if err != nil {
		// Keys written under the requestId strategy carry no order.
		return nil
	}
	thisTime, _ := time.Parse(RequestTimeLayout, key)
	if thisTime.Equal(lastTime) {
		return domain.Errorf(domain.KindDuplicateRequest, "transaction request %s already processed", key)
	}
	if thisTime.Before(lastTime) {
		return domain.Errorf(domain.KindOutOfOrder,
			"transaction request time %s must be later than the last tx time %s", key, last)
	}
	return nil
}
