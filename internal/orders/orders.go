package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/orderflow/internal/dedup"
	"github.com/ksred/orderflow/internal/queue"
	"github.com/ksred/orderflow/internal/types"
	"github.com/ksred/orderflow/pkg/response"
)

// DuplicateOrderMessage is the fixed client-facing text for a 409.
const DuplicateOrderMessage = "Duplicate order detected. Please wait before retrying."

const defaultListLimit = 10

// Enqueuer is the slice of the job queue the intake path depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, orderID string) (*queue.Job, error)
}

// Service coordinates order intake: dedup check, durable persistence of the
// pending order, then handoff to the background queue.
type Service struct {
	db    *Database
	dedup *dedup.Deduplicator
	queue Enqueuer
}

// NewService creates a new order intake service with the given database
// connection, deduplicator and job queue.
func NewService(gormDB *gorm.DB, dd *dedup.Deduplicator, q Enqueuer) *Service {
	return &Service{
		db:    NewDatabase(gormDB),
		dedup: dd,
		queue: q,
	}
}

// SubmitOrder runs the intake sequence for an already-validated request:
//  1. fingerprint the request and reject it if an identical one is in flight
//  2. occupy the dedup window before persisting, to close the race as tightly
//     as possible
//  3. persist the order as pending
//  4. enqueue the processing job
//
// The steps are deliberately not atomic across services. A persistence
// failure leaves the dedup marker to self-expire (false duplicate rejection
// beats silent data loss). An enqueue failure leaves the order row committed
// as pending and surfaces ErrQueueing, so the caller knows the order exists
// but will not be processed without reconciliation.
func (s *Service) SubmitOrder(ctx context.Context, req types.CreateOrderRequest) (*types.Order, error) {
	logger := log.With().Str("component", "order_intake").Str("instrument", req.Instrument).Logger()

	key := dedup.Fingerprint(req)

	accept, err := s.dedup.ShouldAccept(ctx, key)
	if err != nil {
		return nil, err
	}
	if !accept {
		logger.Warn().Msg("duplicate order detected within dedup window")
		return nil, ErrDuplicateRequest
	}

	if err := s.dedup.MarkInFlight(ctx, key); err != nil {
		return nil, err
	}

	order := &types.Order{
		OrderID:    uuid.New().String(),
		Type:       req.Type,
		Side:       req.Side,
		Instrument: req.Instrument,
		Quantity:   req.Quantity,
		Status:     types.OrderStatusPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if req.LimitPrice != nil {
		price := req.LimitPrice.Round(2)
		order.LimitPrice = &price
	}

	if err := s.db.CreateOrder(order); err != nil {
		logger.Error().Err(err).Msg("failed to persist order")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	job, err := s.queue.Enqueue(ctx, order.OrderID)
	if err != nil {
		logger.Error().
			Err(err).
			Str("order_id", order.OrderID).
			Msg("order persisted but processing job could not be enqueued")
		return nil, fmt.Errorf("%w: %v", ErrQueueing, err)
	}

	logger.Info().
		Str("order_id", order.OrderID).
		Str("job_id", job.JobID).
		Msg("order accepted and queued for processing")

	return order, nil
}

// GetOrder retrieves an order by its ID, nil when absent.
func (s *Service) GetOrder(orderID string) (*types.Order, error) {
	return s.db.GetOrder(orderID)
}

// ListOrders returns a stable page of orders with the overall total.
func (s *Service) ListOrders(skip, limit int) (*types.OrderListResponse, error) {
	total, page, err := s.db.ListOrders(skip, limit)
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = []types.Order{}
	}
	return &types.OrderListResponse{
		Total:  total,
		Orders: page,
		Limit:  limit,
		Skip:   skip,
	}, nil
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to place new orders
// Request body should contain the order fields; validation failures are
// reported per field with a 422
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.UnprocessableEntity(c, []types.FieldError{
				{Field: "body", Message: "Malformed request body"},
			})
			return
		}

		if fieldErrs := req.Validate(); len(fieldErrs) > 0 {
			response.UnprocessableEntity(c, fieldErrs)
			return
		}

		order, err := h.service.SubmitOrder(c.Request.Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, ErrDuplicateRequest):
				response.Conflict(c, DuplicateOrderMessage)
			case errors.Is(err, ErrQueueing):
				response.InternalError(c, "Order was recorded but could not be scheduled for processing")
			default:
				response.InternalError(c, "Internal server error while placing the order")
			}
			return
		}

		response.Success(c, order)
	}
}

// ListOrdersHandler handles GET requests for the paginated order list
// Query parameters: skip (default 0), limit (default 10)
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		skip := parseQueryInt(c, "skip", 0)
		limit := parseQueryInt(c, "limit", defaultListLimit)

		list, err := h.service.ListOrders(skip, limit)
		if err != nil {
			log.Error().Err(err).Msg("failed to list orders")
			response.InternalError(c, "Internal server error while fetching saved orders")
			return
		}

		response.Success(c, list)
	}
}

// GetOrderStatusHandler handles GET requests to retrieve a single order
// URL parameter: order_id
func (h *GinHandlers) GetOrderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.service.GetOrder(orderID)
		if err != nil {
			response.InternalError(c, "Internal server error while fetching the order")
			return
		}
		if order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, order)
	}
}

func parseQueryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
