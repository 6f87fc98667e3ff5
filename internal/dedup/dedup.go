package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ksred/orderflow/internal/types"
)

// ErrStoreUnavailable indicates the dedup key store could not be reached.
// Callers must treat this as an infrastructure failure rather than silently
// accepting a possible duplicate.
var ErrStoreUnavailable = errors.New("dedup key store unavailable")

// DefaultWindow is how long a fingerprint stays in flight after acceptance.
const DefaultWindow = 5 * time.Second

// KeyStore is the minimal key-value contract the deduplicator needs:
// existence checks and set-with-expiry.
type KeyStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
}

// Deduplicator suppresses near-simultaneous duplicate order submissions using
// a self-expiring fingerprint lock. There is no explicit release: the window
// simply times out. The check-then-set gap means two identical requests racing
// within microseconds can both pass; the store still creates two independent
// rows, so this is a missed dedup, not a correctness violation.
type Deduplicator struct {
	store  KeyStore
	window time.Duration
}

func New(store KeyStore, window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{
		store:  store,
		window: window,
	}
}

// ShouldAccept reports whether no in-flight marker exists for the key.
func (d *Deduplicator) ShouldAccept(ctx context.Context, key string) (bool, error) {
	exists, err := d.store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return !exists, nil
}

// MarkInFlight occupies the dedup window for the key.
func (d *Deduplicator) MarkInFlight(ctx context.Context, key string) error {
	if err := d.store.SetWithTTL(ctx, key, "processing", d.window); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Window returns the configured in-flight TTL.
func (d *Deduplicator) Window() time.Duration {
	return d.window
}

// Fingerprint derives the dedup key for a request: a sha256 over the
// canonical representation of its fields. Enum values are lowered to their
// string form and the limit price is rescaled to two fractional digits, so
// the same logical request always hashes identically regardless of how the
// payload was written.
func Fingerprint(req types.CreateOrderRequest) string {
	var limitPrice interface{}
	if req.LimitPrice != nil {
		limitPrice = req.LimitPrice.StringFixed(2)
	}

	canonical := map[string]interface{}{
		"type":        string(req.Type),
		"side":        string(req.Side),
		"instrument":  req.Instrument,
		"quantity":    req.Quantity,
		"limit_price": limitPrice,
	}

	// json.Marshal emits map keys in sorted order, giving a total order over
	// the field representations.
	payload, _ := json.Marshal(canonical)
	sum := sha256.Sum256(payload)
	return "order:" + hex.EncodeToString(sum[:])
}
