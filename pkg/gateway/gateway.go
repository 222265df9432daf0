package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven-backend/pkg/enums"
)

// TransferStatus reflects the gateway-side state of a transfer.
type TransferStatus string

const (
	TransferStatusSucceeded TransferStatus = "succeeded"
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusFailed    TransferStatus = "failed"
	TransferStatusUnknown   TransferStatus = "unknown"
)

// TransferRequest moves escrowed funds to a seller's payout destination.
// PayoutID seeds the idempotency key so retries never double-pay.
type TransferRequest struct {
	PayoutID    uuid.UUID
	Destination string
	AmountCents int64
	Currency    enums.Currency
}

// TransferResult carries the gateway reference for a submitted transfer.
type TransferResult struct {
	Reference string
	Status    TransferStatus
}

// RefundRequest returns funds to the buyer against the original payment.
type RefundRequest struct {
	OrderID     uuid.UUID
	PaymentRef  string
	AmountCents int64
}

// RefundResult carries the gateway reference for a submitted refund.
type RefundResult struct {
	Reference string
}

// Gateway is the payment-provider surface the settlement engine depends on.
// Implementations must be idempotent per request identity.
type Gateway interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	GetTransfer(ctx context.Context, reference string) (TransferStatus, error)
}
