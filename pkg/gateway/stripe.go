package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/transfer"

	"github.com/keyhaven/keyhaven-backend/pkg/config"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired = errors.New("gateway api key is required")
	errInvalidEnv     = fmt.Errorf("gateway environment must be %q or %q", testEnv, liveEnv)
)

// StripeGateway implements Gateway on top of Stripe transfers and refunds.
type StripeGateway struct {
	environment     string
	transferTimeout time.Duration
	logg            *logger.Logger
}

// NewStripeGateway initializes Stripe once with the configured secrets and env.
func NewStripeGateway(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (*StripeGateway, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	stripe.Key = apiKey

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("payment gateway initialized (%s)", env))
	}

	return &StripeGateway{
		environment:     env,
		transferTimeout: cfg.TransferTimeout,
		logg:            logg,
	}, nil
}

// Environment reports the normalized gateway environment in use.
func (g *StripeGateway) Environment() string {
	if g == nil {
		return ""
	}
	return g.environment
}

// Transfer submits an idempotent transfer keyed on the payout id.
func (g *StripeGateway) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.Destination == "" {
		return nil, errors.New("transfer destination is required")
	}
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %d", req.AmountCents)
	}

	if g.transferTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.transferTimeout)
		defer cancel()
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(strings.ToLower(string(req.Currency))),
		Destination: stripe.String(req.Destination),
	}
	params.Context = ctx
	params.SetIdempotencyKey("payout-" + req.PayoutID.String())

	tr, err := transfer.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return &TransferResult{Reference: tr.ID, Status: TransferStatusSucceeded}, nil
}

// Refund returns funds on the original payment, keyed on the order id so
// replayed resolutions cannot double-refund.
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.PaymentRef == "" {
		return nil, errors.New("refund payment reference is required")
	}
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("refund amount must be positive, got %d", req.AmountCents)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentRef),
		Amount:        stripe.Int64(req.AmountCents),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + req.OrderID.String())

	re, err := refund.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return &RefundResult{Reference: re.ID}, nil
}

// GetTransfer checks whether a previously-submitted transfer landed. Lookup
// misses map to Unknown so reconciliation can route them to operator review.
func (g *StripeGateway) GetTransfer(ctx context.Context, reference string) (TransferStatus, error) {
	if reference == "" {
		return TransferStatusUnknown, errors.New("transfer reference is required")
	}

	params := &stripe.TransferParams{}
	params.Context = ctx

	tr, err := transfer.Get(reference, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return TransferStatusUnknown, nil
		}
		return TransferStatusUnknown, classify(err)
	}
	if tr.Reversed {
		return TransferStatusFailed, nil
	}
	return TransferStatusSucceeded, nil
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("gateway environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("gateway environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidEnv
	}
}
