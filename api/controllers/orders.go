package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven-backend/api/middleware"
	"github.com/keyhaven/keyhaven-backend/api/responses"
	"github.com/keyhaven/keyhaven-backend/api/validators"
	"github.com/keyhaven/keyhaven-backend/internal/orders"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
	"github.com/keyhaven/keyhaven-backend/pkg/pagination"
)

type createOrderRequest struct {
	SellerShopID       string                 `json:"seller_shop_id" validate:"required,uuid"`
	Currency           string                 `json:"currency" validate:"required,oneof=USD EUR"`
	CheckoutSessionKey string                 `json:"checkout_session_key" validate:"required,min=8,max=255"`
	Items              []createOrderLineInput `json:"items" validate:"required,min=1,dive"`
}

type createOrderLineInput struct {
	ProductID      string `json:"product_id" validate:"required,uuid"`
	Name           string `json:"name" validate:"required,max=255"`
	Qty            int    `json:"qty" validate:"required,gt=0"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"required,gt=0"`
}

type recordDeliveryRequest struct {
	Payload string `json:"payload" validate:"required,min=1"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// ordersActor converts the authenticated caller into an order-service actor.
func ordersActor(caller middleware.CallerIdentity) orders.Actor {
	return orders.Actor{UserID: caller.UserID, ShopID: caller.ShopID, Role: caller.Role}
}

// CreateOrder opens a new order in pending_payment on behalf of the buyer.
func CreateOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		caller := middleware.CallerFromContext(r.Context())

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sellerShopID, err := uuid.Parse(req.SellerShopID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid seller shop id"))
			return
		}

		items := make([]orders.LineItemInput, 0, len(req.Items))
		for _, item := range req.Items {
			productID, err := uuid.Parse(item.ProductID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
				return
			}
			items = append(items, orders.LineItemInput{
				ProductID:      productID,
				Name:           item.Name,
				Qty:            item.Qty,
				UnitPriceCents: item.UnitPriceCents,
			})
		}

		order, err := svc.Create(r.Context(), orders.CreateOrderInput{
			BuyerID:            caller.UserID,
			SellerShopID:       sellerShopID,
			Currency:           enums.Currency(req.Currency),
			CheckoutSessionKey: req.CheckoutSessionKey,
			Items:              items,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// ListOrders returns the buyer's order page.
func ListOrders(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		caller := middleware.CallerFromContext(r.Context())
		params, filters, err := parseOrderListQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListForBuyer(r.Context(), caller.UserID, params, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// ListShopOrders returns the seller-perspective order page for the caller's shop.
func ListShopOrders(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		caller := middleware.CallerFromContext(r.Context())
		if caller.ShopID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "shop context missing"))
			return
		}

		params, filters, err := parseOrderListQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListForShop(r.Context(), *caller.ShopID, params, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// OrderDetail returns the full order after an ownership check in the service.
func OrderDetail(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		caller := middleware.CallerFromContext(r.Context())
		order, err := svc.Get(r.Context(), orderID, ordersActor(caller))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// RecordDelivery records the seller's delivery payload and arms the auto-confirm deadline.
func RecordDelivery(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req recordDeliveryRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		caller := middleware.CallerFromContext(r.Context())
		order, err := svc.RecordDelivery(r.Context(), orders.RecordDeliveryInput{
			OrderID: orderID,
			Payload: req.Payload,
			Actor:   ordersActor(caller),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// ConfirmReceipt releases escrow on the buyer's explicit confirmation.
func ConfirmReceipt(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		caller := middleware.CallerFromContext(r.Context())
		order, err := svc.ConfirmReceipt(r.Context(), orders.ConfirmReceiptInput{
			OrderID: orderID,
			Actor:   ordersActor(caller),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// CancelOrder cancels a pre-delivery order, refunding when payment already settled.
func CancelOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req cancelOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		caller := middleware.CallerFromContext(r.Context())
		order, err := svc.Cancel(r.Context(), orders.CancelOrderInput{
			OrderID: orderID,
			Reason:  req.Reason,
			Actor:   ordersActor(caller),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func parseOrderListQuery(r *http.Request) (pagination.Params, orders.OrderFilters, error) {
	var filters orders.OrderFilters

	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, filters, err
	}
	params := pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseOrderStatus(raw)
		if err != nil {
			return params, filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		filters.Status = &status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("date_from")); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return params, filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "date_from must be RFC3339")
		}
		filters.DateFrom = &from
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("date_to")); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return params, filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "date_to must be RFC3339")
		}
		filters.DateTo = &to
	}
	return params, filters, nil
}
