package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ksred/orderflow/internal/dedup"
	"github.com/ksred/orderflow/internal/queue"
	"github.com/ksred/orderflow/internal/types"
)

type stubEnqueuer struct {
	orderIDs []string
	err      error
}

func (s *stubEnqueuer) Enqueue(_ context.Context, orderID string) (*queue.Job, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.orderIDs = append(s.orderIDs, orderID)
	return &queue.Job{JobID: "job-" + orderID, OrderID: orderID, Status: queue.JobStatusQueued}, nil
}

type failingKeyStore struct{}

func (failingKeyStore) Exists(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingKeyStore) SetWithTTL(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

func limitRequest() types.CreateOrderRequest {
	price := decimal.RequireFromString("150.00")
	return types.CreateOrderRequest{
		Type:       types.OrderTypeLimit,
		Side:       types.OrderSideSell,
		Instrument: "stringstring",
		LimitPrice: &price,
		Quantity:   100,
	}
}

func orderCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&types.Order{}).Count(&count).Error)
	return count
}

func TestSubmitOrderPersistsAndEnqueues(t *testing.T) {
	db := newTestDB(t)
	enq := &stubEnqueuer{}
	svc := NewService(db, dedup.New(dedup.NewMemoryStore(), time.Minute), enq)

	order, err := svc.SubmitOrder(context.Background(), limitRequest())
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.NotEmpty(t, order.OrderID)
	assert.Equal(t, types.OrderStatusPending, order.Status)
	require.NotNil(t, order.LimitPrice)
	assert.Equal(t, "150.00", order.LimitPrice.String())

	require.Len(t, enq.orderIDs, 1)
	assert.Equal(t, order.OrderID, enq.orderIDs[0])

	stored, err := svc.GetOrder(order.OrderID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, types.OrderStatusPending, stored.Status)
}

func TestSubmitOrderNormalizesLimitPriceScale(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, dedup.New(dedup.NewMemoryStore(), time.Minute), &stubEnqueuer{})

	price := decimal.RequireFromString("150")
	req := limitRequest()
	req.LimitPrice = &price

	order, err := svc.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, order.LimitPrice)
	assert.Equal(t, "150.00", order.LimitPrice.String())
}

func TestSubmitOrderRejectsDuplicateWithinWindow(t *testing.T) {
	db := newTestDB(t)
	enq := &stubEnqueuer{}
	svc := NewService(db, dedup.New(dedup.NewMemoryStore(), time.Minute), enq)

	_, err := svc.SubmitOrder(context.Background(), limitRequest())
	require.NoError(t, err)

	order, err := svc.SubmitOrder(context.Background(), limitRequest())
	assert.Nil(t, order)
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	// The rejection creates no state and enqueues nothing.
	assert.Equal(t, int64(1), orderCount(t, db))
	assert.Len(t, enq.orderIDs, 1)
}

func TestSubmitOrderEnqueueFailureKeepsOrderRow(t *testing.T) {
	db := newTestDB(t)
	enq := &stubEnqueuer{err: errors.New("broker down")}
	svc := NewService(db, dedup.New(dedup.NewMemoryStore(), time.Minute), enq)

	order, err := svc.SubmitOrder(context.Background(), limitRequest())
	assert.Nil(t, order)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueing)
	assert.NotErrorIs(t, err, ErrPersistence)

	// The order row is deliberately not rolled back: it stays durably
	// recorded as pending, awaiting out-of-band reconciliation.
	assert.Equal(t, int64(1), orderCount(t, db))

	var stored types.Order
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, types.OrderStatusPending, stored.Status)
}

func TestSubmitOrderDedupStoreDownFailsClosed(t *testing.T) {
	db := newTestDB(t)
	enq := &stubEnqueuer{}
	svc := NewService(db, dedup.New(failingKeyStore{}, time.Minute), enq)

	order, err := svc.SubmitOrder(context.Background(), limitRequest())
	assert.Nil(t, order)
	require.Error(t, err)
	assert.ErrorIs(t, err, dedup.ErrStoreUnavailable)

	// Infrastructure failure must not silently accept the order.
	assert.Equal(t, int64(0), orderCount(t, db))
	assert.Empty(t, enq.orderIDs)
}

func TestListOrdersEmptyPageIsNotNil(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, dedup.New(dedup.NewMemoryStore(), time.Minute), &stubEnqueuer{})

	list, err := svc.ListOrders(0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), list.Total)
	assert.NotNil(t, list.Orders)
	assert.Empty(t, list.Orders)
	assert.Equal(t, 10, list.Limit)
	assert.Equal(t, 0, list.Skip)
}
