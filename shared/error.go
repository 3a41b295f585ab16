package shared

import "errors"

var (
	// ErrOrderRejected is returned when the order gateway rejects an order.
	ErrOrderRejected = errors.New("order rejected")
	// ErrQuoteUnavailable is returned when a quote request times out or the
	// response carries no usable price.
	ErrQuoteUnavailable = errors.New("quote unavailable")
	// ErrNoContract is returned when no option contract matches the requested
	// strike, expiry and type.
	ErrNoContract = errors.New("no matching option contract")
)
