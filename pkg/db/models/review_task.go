package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven-backend/pkg/enums"
)

// ReviewTask is an operator queue entry for inconsistencies that must never be
// auto-corrected (orphan payment confirmations, amount mismatches).
type ReviewTask struct {
	ID          uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Kind        enums.ReviewTaskKind   `gorm:"column:kind;type:review_task_kind;not null"`
	Status      enums.ReviewTaskStatus `gorm:"column:status;type:review_task_status;not null;default:'open'"`
	OrderID     *uuid.UUID             `gorm:"column:order_id;type:uuid"`
	PayoutID    *uuid.UUID             `gorm:"column:payout_id;type:uuid"`
	ExternalRef *string                `gorm:"column:external_ref"`
	Detail      string                 `gorm:"column:detail;not null"`
	Resolution  *string                `gorm:"column:resolution"`
	ResolvedBy  *uuid.UUID             `gorm:"column:resolved_by;type:uuid"`
	CreatedAt   time.Time              `gorm:"column:created_at;autoCreateTime"`
	ResolvedAt  *time.Time             `gorm:"column:resolved_at"`
}
