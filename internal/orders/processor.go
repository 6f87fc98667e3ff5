package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/orderflow/internal/queue"
	"github.com/ksred/orderflow/internal/types"
	"github.com/ksred/orderflow/internal/venue"
)

// VenueCaller is the slice of the venue adapter the processor depends on.
type VenueCaller interface {
	PlaceOrder(ctx context.Context, order *types.Order) error
}

// Processor is the background worker for queued orders: fetch, submit to the
// venue, commit the terminal status. Each queue retry re-runs the full
// sequence, so the venue may be invoked more than once for the same order;
// the venue call itself is not idempotent and that re-invocation risk is a
// known, accepted limitation of the pipeline.
type Processor struct {
	db    *Database
	venue VenueCaller
}

// NewProcessor creates a processor bound to the order store and a venue.
func NewProcessor(gormDB *gorm.DB, vc VenueCaller) *Processor {
	return &Processor{
		db:    NewDatabase(gormDB),
		venue: vc,
	}
}

// Process handles a single dequeued order identifier.
//
// A missing order is wrapped with queue.Unrecoverable so the job is buried
// instead of retried: re-running will never find it, and a job referencing a
// missing order is a data-integrity anomaly worth alerting on.
//
// Any venue failure commits the failed status before the error propagates, so
// the order's lifecycle state is durable regardless of what the queue does
// with the attempt. Status transitions happen strictly before or after the
// venue call, never around it, so no database lock is held across the
// simulated network latency.
func (p *Processor) Process(ctx context.Context, orderID string) error {
	logger := log.With().
		Str("component", "order_processor").
		Str("order_id", orderID).
		Logger()

	order, err := p.db.GetOrder(orderID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch order")
		return fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	if order == nil {
		logger.Error().Msg("job references an order that does not exist")
		return queue.Unrecoverable(fmt.Errorf("%w: %s", ErrOrderNotFound, orderID))
	}

	logger.Info().Str("instrument", order.Instrument).Msg("placing order on execution venue")

	if err := p.venue.PlaceOrder(ctx, order); err != nil {
		p.markFailed(logger, orderID)

		if errors.Is(err, venue.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			logger.Error().Err(err).Msg("order failed to be placed")
		} else {
			// Not an expected transient condition: a programming or
			// environment defect. Same state transition, louder log.
			logger.WithLevel(zerolog.FatalLevel).Err(err).Msg("critical error processing order")
		}
		return fmt.Errorf("place order %s: %w", orderID, err)
	}

	applied, err := p.db.UpdateOrderStatus(orderID, types.OrderStatusCompleted)
	if err != nil {
		logger.Error().Err(err).Msg("failed to mark order completed")
		return fmt.Errorf("mark order %s completed: %w", orderID, err)
	}
	if !applied {
		// A previous attempt already committed a terminal status.
		logger.Warn().Msg("order already in a terminal status, transition skipped")
		return nil
	}

	logger.Info().Msg("order marked as completed")
	return nil
}

func (p *Processor) markFailed(logger zerolog.Logger, orderID string) {
	applied, err := p.db.UpdateOrderStatus(orderID, types.OrderStatusFailed)
	if err != nil {
		logger.Error().Err(err).Msg("failed to mark order failed")
		return
	}
	if !applied {
		logger.Warn().Msg("order already in a terminal status, failure transition skipped")
	}
}
