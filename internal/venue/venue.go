package venue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/orderflow/internal/types"
)

// ErrUnavailable indicates a transient venue-side failure. Callers should
// treat it as retryable.
var ErrUnavailable = errors.New("venue unavailable")

// Adapter simulates the external execution venue: a remote call with
// configurable latency and a configurable probability of failure. The call is
// not idempotent; re-invoking it for the same order is a caller-side decision.
type Adapter struct {
	name        string
	failureRate float64 // 0-1, probability of a transient failure
	minLatency  time.Duration
	maxLatency  time.Duration
}

func NewAdapter(name string, failureRate float64, minLatency, maxLatency time.Duration) *Adapter {
	if maxLatency < minLatency {
		maxLatency = minLatency
	}
	return &Adapter{
		name:        name,
		failureRate: failureRate,
		minLatency:  minLatency,
		maxLatency:  maxLatency,
	}
}

// PlaceOrder submits the order snapshot to the simulated venue.
// The artificial delay stands in for network latency; cancellation of the
// context aborts the wait.
func (a *Adapter) PlaceOrder(ctx context.Context, order *types.Order) error {
	if order == nil {
		return errors.New("order snapshot required")
	}

	logger := log.With().
		Str("venue", a.name).
		Str("order_id", order.OrderID).
		Str("instrument", order.Instrument).
		Str("side", string(order.Side)).
		Str("order_type", string(order.Type)).
		Int64("quantity", order.Quantity).
		Logger()

	logger.Info().Msg("submitting order to venue")

	latency := a.minLatency
	if span := a.maxLatency - a.minLatency; span > 0 {
		latency += time.Duration(rand.Int63n(int64(span) + 1))
	}
	logger.Debug().Dur("latency", latency).Msg("simulated network latency")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(latency):
	}

	if rand.Float64() < a.failureRate {
		logger.Warn().
			Float64("failure_rate", a.failureRate).
			Msg("venue rejected order submission")
		return fmt.Errorf("%w: connection not available", ErrUnavailable)
	}

	logger.Info().Msg("order accepted by venue")
	return nil
}
