package sessions

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	ledgerKeyPrefix = "session:"
	ledgerKeySuffix = ":nonces"
	// ledgerRetention bounds a session's ledger key after scanning stops.
	ledgerRetention = 10 * time.Minute
	// evictionSlack keeps entries a little past the freshness window so the
	// ledger never forgets a nonce the verifier could still accept.
	evictionSlack = 2 * time.Second
)

// NonceLedger is the per-session replay ledger, backed by a Redis sorted set
// (member = nonce, score = acceptance time). ZADD NX is the single atomic
// check-and-insert, so two concurrent redemptions of the same nonce can never
// both succeed. Entries older than the pass freshness window are evicted
// lazily; such a nonce can never again pass the expiry check, so it is safe
// to forget.
type NonceLedger struct {
	client *redis.Client
	window time.Duration
}

// NewNonceLedger creates a nonce ledger. window must equal the pass
// validator's freshness window.
func NewNonceLedger(client *redis.Client, window time.Duration) *NonceLedger {
	return &NonceLedger{client: client, window: window}
}

// Record marks a nonce consumed for the session. Returns ErrNonceUsed when it
// was seen before; the ledger is not mutated in that case.
func (l *NonceLedger) Record(ctx context.Context, sessionID uuid.UUID, nonce string, now time.Time) error {
	key := ledgerKeyPrefix + sessionID.String() + ledgerKeySuffix

	cutoff := now.Add(-l.window - evictionSlack).Unix()
	if err := l.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return fmt.Errorf("ledger eviction: %w", err)
	}

	added, err := l.client.ZAddNX(ctx, key, redis.Z{Score: float64(now.Unix()), Member: nonce}).Result()
	if err != nil {
		return fmt.Errorf("ledger insert: %w", err)
	}
	if added == 0 {
		return ErrNonceUsed
	}
	l.client.Expire(ctx, key, ledgerRetention)
	return nil
}
