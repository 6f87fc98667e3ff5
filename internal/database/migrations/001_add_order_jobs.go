package migrations

import (
	"github.com/ksred/orderflow/internal/queue"
	"gorm.io/gorm"
)

func AddOrderJobs(db *gorm.DB) error {
	return db.AutoMigrate(&queue.Job{})
}
