package gateway

import (
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v84"
)

// TransientError marks gateway failures that are safe to retry.
type TransientError struct {
	Err error
}

// Error implements error.
func (e TransientError) Error() string {
	if e.Err == nil {
		return "transient gateway error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the failure may clear on retry.
func IsTransient(err error) bool {
	var transient TransientError
	return errors.As(err, &transient)
}

// classify wraps provider errors so callers can branch on retryability
// without importing the provider SDK.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.Code == stripe.ErrorCodeRateLimit:
			return TransientError{Err: err}
		case stripeErr.Type == stripe.ErrorTypeAPI:
			return TransientError{Err: err}
		case stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return TransientError{Err: err}
		}
		return err
	}
	// Network-level failures never reached the provider; retrying is safe
	// because every mutating call carries an idempotency key.
	return TransientError{Err: err}
}
