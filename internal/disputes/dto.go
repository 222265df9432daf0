package disputes

import (
	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	"github.com/keyhaven/keyhaven-backend/pkg/types"
)

// Actor identifies the caller performing a dispute action.
type Actor struct {
	UserID uuid.UUID
	ShopID *uuid.UUID
	Role   enums.MemberRole
}

// OpenDisputeInput carries a buyer's contest of a delivered order.
type OpenDisputeInput struct {
	OrderID     uuid.UUID
	Category    enums.DisputeCategory
	Subject     string
	Description string
	Evidence    types.AttachmentRefs
	Actor       Actor
}

// RespondInput carries a seller's answer to an open dispute.
type RespondInput struct {
	DisputeID          uuid.UUID
	Action             enums.ResolutionAction
	Note               string
	NewDeliveryPayload *string
	RefundCents        int64
	Actor              Actor
}

// ResolveInput carries an admin ruling on an escalated dispute.
type ResolveInput struct {
	DisputeID          uuid.UUID
	Action             enums.ResolutionAction
	Note               string
	NewDeliveryPayload *string
	RefundCents        int64
	Actor              Actor
}
