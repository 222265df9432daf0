package payouts

import (
	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
)

// Actor identifies the caller performing a payout operation.
type Actor struct {
	UserID uuid.UUID
	ShopID *uuid.UUID
	Role   enums.MemberRole
}

// PayoutDetail is a payout with the orders funding it.
type PayoutDetail struct {
	Payout models.Payout  `json:"payout"`
	Orders []models.Order `json:"orders"`
}

// SweepResult summarizes one payout sweep cycle.
type SweepResult struct {
	Enqueued  int `json:"enqueued"`
	Processed int `json:"processed"`
}
