package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// InstrumentLength is the exact symbol length accepted for an order,
// matching ISIN-style 12 character identifiers.
const InstrumentLength = 12

type Order struct {
	gorm.Model `json:"-"`
	OrderID    string           `gorm:"uniqueIndex" json:"id"`
	Type       OrderType        `json:"type"`
	Side       OrderSide        `json:"side"`
	Instrument string           `gorm:"size:12" json:"instrument"`
	LimitPrice *decimal.Decimal `gorm:"type:text" json:"limit_price"`
	Quantity   int64            `json:"quantity"`
	Status     OrderStatus      `gorm:"index" json:"status"` // pending, completed, failed
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// CreateOrderRequest is the POST /orders payload. Limit price is a pointer so
// absence can be distinguished from zero during validation.
type CreateOrderRequest struct {
	Type       OrderType        `json:"type"`
	Side       OrderSide        `json:"side"`
	Instrument string           `json:"instrument"`
	LimitPrice *decimal.Decimal `json:"limit_price"`
	Quantity   int64            `json:"quantity"`
}

// FieldError describes a single validation failure on a request field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validate applies the order shape rules: enum membership, instrument length,
// positive quantity, and the type/limit_price pairing (a market order must not
// carry a limit price, a limit order must carry a positive one).
func (r *CreateOrderRequest) Validate() []FieldError {
	var errs []FieldError

	switch r.Type {
	case OrderTypeMarket:
		if r.LimitPrice != nil {
			errs = append(errs, FieldError{
				Field:   "limit_price",
				Message: "Providing a `limit_price` is prohibited for type `market`",
			})
		}
	case OrderTypeLimit:
		if r.LimitPrice == nil {
			errs = append(errs, FieldError{
				Field:   "limit_price",
				Message: "Attribute `limit_price` is required for type `limit`",
			})
		} else if !r.LimitPrice.IsPositive() {
			errs = append(errs, FieldError{
				Field:   "limit_price",
				Message: "The limit price must be greater than 0 for limit orders.",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "type",
			Message: "Attribute `type` must be one of `market` or `limit`",
		})
	}

	switch r.Side {
	case OrderSideBuy, OrderSideSell:
	default:
		errs = append(errs, FieldError{
			Field:   "side",
			Message: "Attribute `side` must be one of `buy` or `sell`",
		})
	}

	if len(r.Instrument) != InstrumentLength {
		errs = append(errs, FieldError{
			Field:   "instrument",
			Message: "Attribute `instrument` must be exactly 12 characters",
		})
	}

	if r.Quantity <= 0 {
		errs = append(errs, FieldError{
			Field:   "quantity",
			Message: "Attribute `quantity` must be greater than 0",
		})
	}

	return errs
}
