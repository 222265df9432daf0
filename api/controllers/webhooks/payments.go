package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/keyhaven/keyhaven-backend/api/responses"
	"github.com/keyhaven/keyhaven-backend/internal/payments"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
)

// checkoutSessionMetadataKey is set on the payment intent at checkout time and
// ties the gateway confirmation back to the order that opened it.
const checkoutSessionMetadataKey = "checkout_session_key"

type paymentsWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// PaymentsWebhook reconciles gateway payment events onto orders. Signature
// verification happens before anything else touches the payload.
func PaymentsWebhook(svc payments.Service, signingSecret string, guard paymentsWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, signingSecret)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verify signature"))
			return
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, nil)
			return
		}

		if err := handlePaymentEvent(ctx, svc, &event); err != nil {
			_ = guard.Delete(ctx, event.ID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("payment event %s (%s) processed", event.ID, event.Type))
		}
		responses.WriteSuccess(w, nil)
	}
}

func handlePaymentEvent(ctx context.Context, svc payments.Service, event *stripe.Event) error {
	switch event.Type {
	case "payment_intent.succeeded":
		intent, err := parsePaymentIntent(event)
		if err != nil {
			return err
		}
		_, err = svc.Reconcile(ctx, payments.ReconcileInput{
			ExternalRef:        intent.ID,
			CheckoutSessionKey: intent.Metadata[checkoutSessionMetadataKey],
			AmountCents:        intent.Amount,
		})
		return err
	case "payment_intent.payment_failed":
		intent, err := parsePaymentIntent(event)
		if err != nil {
			return err
		}
		reason := "payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			reason = intent.LastPaymentError.Msg
		}
		return svc.MarkFailed(ctx, intent.Metadata[checkoutSessionMetadataKey], reason)
	default:
		// Unknown event types are acknowledged so the gateway stops retrying.
		return nil
	}
}

func parsePaymentIntent(event *stripe.Event) (*stripe.PaymentIntent, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	return &intent, nil
}
