package shared

import "context"

// OrderSide represents the side of an order.
type OrderSide int

const (
	Buy OrderSide = iota
	Sell
)

// String stringifies the provided order side.
func (s OrderSide) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "unknown"
	}
}

// OptionType represents the type of an option contract.
type OptionType int

const (
	Call OptionType = iota
	Put
)

// String stringifies the provided option type.
func (o OptionType) String() string {
	switch o {
	case Call:
		return "CE"
	case Put:
		return "PE"
	default:
		return "unknown"
	}
}

// MarketOrder describes a market order submission.
type MarketOrder struct {
	SecurityID      string
	ExchangeSegment string
	Side            OrderSide
	Quantity        int
	ProductType     string
}

// OrderGateway defines the requirements for placing orders, fetching quotes and
// resolving option contracts.
type OrderGateway interface {
	// PlaceMarketOrder submits the provided market order and returns the
	// filled price. It fails with ErrOrderRejected on gateway-side rejection.
	PlaceMarketOrder(ctx context.Context, order MarketOrder) (float64, error)
	// Quote returns the last traded price for the provided instrument. It
	// fails with ErrQuoteUnavailable on timeout or missing data.
	Quote(ctx context.Context, exchangeSegment string, securityID string) (float64, error)
	// ResolveOption returns the security id of the option contract matching
	// the provided strike, expiry and type. It fails with ErrNoContract when
	// no contract matches.
	ResolveOption(ctx context.Context, underlyingID string, exchangeSegment string, expiry string, strike float64, optionType OptionType) (string, error)
}
