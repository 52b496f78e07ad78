package outbox

import (
	"errors"

	"gorm.io/gorm"

	"github.com/avelezcr/washpay-backend/pkg/db/models"
)

const maxDLQErrorLen = 1024

// DLQRepository persists dead-lettered outbox rows.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx appends a dead-letter row inside the caller's transaction. The
// error message is clamped so an oversized upstream response cannot bloat
// the row.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ErrorMessage != nil && len(*entry.ErrorMessage) > maxDLQErrorLen {
		clamped := (*entry.ErrorMessage)[:maxDLQErrorLen]
		entry.ErrorMessage = &clamped
	}
	return tx.Create(&entry).Error
}
