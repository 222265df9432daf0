package controllers

import (
	"net/http"

	"github.com/keyhaven/keyhaven-backend/api/middleware"
	"github.com/keyhaven/keyhaven-backend/api/responses"
	"github.com/keyhaven/keyhaven-backend/api/validators"
	"github.com/keyhaven/keyhaven-backend/internal/disputes"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
	"github.com/keyhaven/keyhaven-backend/pkg/pagination"
	"github.com/keyhaven/keyhaven-backend/pkg/types"
)

type openDisputeRequest struct {
	OrderID     string               `json:"order_id" validate:"required,uuid"`
	Category    string               `json:"category" validate:"required"`
	Subject     string               `json:"subject" validate:"required,max=255"`
	Description string               `json:"description" validate:"required,max=5000"`
	Evidence    types.AttachmentRefs `json:"evidence" validate:"max=10"`
}

type disputeResolutionRequest struct {
	Action             string  `json:"action" validate:"required,oneof=redeliver partial_refund full_refund reject"`
	Note               string  `json:"note" validate:"max=5000"`
	NewDeliveryPayload *string `json:"new_delivery_payload,omitempty"`
	RefundCents        int64   `json:"refund_cents" validate:"min=0"`
}

func disputesActor(caller middleware.CallerIdentity) disputes.Actor {
	return disputes.Actor{UserID: caller.UserID, ShopID: caller.ShopID, Role: caller.Role}
}

// OpenDispute freezes a delivered order while the buyer's complaint is worked.
func OpenDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
			return
		}

		var req openDisputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := validators.ParseUUID(req.OrderID, "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		category, err := enums.ParseDisputeCategory(req.Category)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid dispute category"))
			return
		}

		caller := middleware.CallerFromContext(r.Context())
		dispute, err := svc.Open(r.Context(), disputes.OpenDisputeInput{
			OrderID:     orderID,
			Category:    category,
			Subject:     req.Subject,
			Description: req.Description,
			Evidence:    req.Evidence,
			Actor:       disputesActor(caller),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dispute)
	}
}

// DisputeDetail returns one dispute after the service's access check.
func DisputeDetail(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
			return
		}

		disputeID, err := validators.ParsePathUUID(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		caller := middleware.CallerFromContext(r.Context())
		dispute, err := svc.Get(r.Context(), disputeID, disputesActor(caller))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}

// ListOrderDisputes returns every dispute raised against one order.
func ListOrderDisputes(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
			return
		}

		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		caller := middleware.CallerFromContext(r.Context())
		list, err := svc.ListForOrder(r.Context(), orderID, disputesActor(caller))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// SellerRespond applies the seller's remedy, or escalates on reject.
func SellerRespond(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
			return
		}

		disputeID, err := validators.ParsePathUUID(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req disputeResolutionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		caller := middleware.CallerFromContext(r.Context())
		dispute, err := svc.SellerRespond(r.Context(), disputes.RespondInput{
			DisputeID:          disputeID,
			Action:             enums.ResolutionAction(req.Action),
			Note:               req.Note,
			NewDeliveryPayload: req.NewDeliveryPayload,
			RefundCents:        req.RefundCents,
			Actor:              disputesActor(caller),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}

// ListEscalatedDisputes returns escalated disputes awaiting an admin ruling.
func ListEscalatedDisputes(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		caller := middleware.CallerFromContext(r.Context())
		list, err := svc.ListEscalated(r.Context(), disputesActor(caller), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// AdminResolveDispute applies a final ruling to an escalated dispute.
func AdminResolveDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
			return
		}

		disputeID, err := validators.ParsePathUUID(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req disputeResolutionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		caller := middleware.CallerFromContext(r.Context())
		dispute, err := svc.AdminResolve(r.Context(), disputes.ResolveInput{
			DisputeID:          disputeID,
			Action:             enums.ResolutionAction(req.Action),
			Note:               req.Note,
			NewDeliveryPayload: req.NewDeliveryPayload,
			RefundCents:        req.RefundCents,
			Actor:              disputesActor(caller),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}
