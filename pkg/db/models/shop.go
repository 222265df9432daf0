package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/keyhaven/keyhaven-backend/pkg/enums"
)

// Shop represents a seller storefront and its payout destination.
type Shop struct {
	ID                uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name              string           `gorm:"column:name;not null"`
	Description       *string          `gorm:"column:description"`
	Email             *string          `gorm:"column:email"`
	Currency          enums.Currency   `gorm:"column:currency;type:currency_code;not null;default:'USD'"`
	PayoutDestination *string          `gorm:"column:payout_destination"`
	Categories        pq.StringArray   `gorm:"column:categories;type:text[]"`
	OwnerID           uuid.UUID        `gorm:"column:owner;type:uuid;not null"`
	Active            bool             `gorm:"column:active;not null;default:true"`
	LastActiveAt      *time.Time       `gorm:"column:last_active_at"`
	CreatedAt         time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
