package orders

import (
	"errors"
	"time"

	"github.com/ksred/orderflow/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateOrder(order *types.Order) error {
	return d.db.Create(order).Error
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus transitions an order out of pending. The update is
// conditional on the current status, so completed and failed are terminal:
// once an order leaves pending no further transition is applied. Returns
// whether the transition took effect.
func (d *Database) UpdateOrderStatus(orderID string, status types.OrderStatus) (bool, error) {
	result := d.db.Model(&types.Order{}).
		Where("order_id = ? AND status = ?", orderID, types.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// ListOrders returns a page of orders plus the total row count at query time.
// Ordering is by primary key ascending so repeated reads over unchanged data
// return the same page.
func (d *Database) ListOrders(skip, limit int) (int64, []types.Order, error) {
	var total int64
	if err := d.db.Model(&types.Order{}).Count(&total).Error; err != nil {
		return 0, nil, err
	}

	var page []types.Order
	if err := d.db.Order("id").Offset(skip).Limit(limit).Find(&page).Error; err != nil {
		return 0, nil, err
	}

	return total, page, nil
}
