package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// CreditLedger exposes read-only balance checks. Debiting happens in the
// billing system; the dispatcher only gates on the current balance.
type CreditLedger interface {
	GetBalance(ctx context.Context, clientID uuid.UUID) (int64, error)
}

// RedisLedger reads client balances from the shared Redis store the billing
// system writes to.
type RedisLedger struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisLedger constructs a ledger reader.
func NewRedisLedger(client *redis.Client, keyPrefix string) *RedisLedger {
	if keyPrefix == "" {
		keyPrefix = "dialer:credits"
	}
	return &RedisLedger{client: client, keyPrefix: keyPrefix}
}

// GetBalance returns the client's current credit balance in units. A missing
// key reads as zero: a client the billing system has never funded has no
// credits.
func (l *RedisLedger) GetBalance(ctx context.Context, clientID uuid.UUID) (int64, error) {
	balance, err := l.client.Get(ctx, l.key(clientID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("credit ledger: get balance: %w", err)
	}
	return balance, nil
}

func (l *RedisLedger) key(clientID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", l.keyPrefix, clientID.String())
}
