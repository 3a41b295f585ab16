package shared

import "time"

// Candlestick represents a unit candlestick for a market interval.
type Candlestick struct {
	Start time.Time `json:"start"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// IntervalStart returns the provided time truncated to the interval boundary
// containing it.
func IntervalStart(at time.Time, interval time.Duration) time.Time {
	return at.Truncate(interval)
}

// NewCandlestick initializes a candlestick from the first tick of its interval,
// with all four price fields set to the tick price.
func NewCandlestick(tick Tick, interval time.Duration) *Candlestick {
	return &Candlestick{
		Start: IntervalStart(tick.At, interval),
		Open:  tick.Price,
		High:  tick.Price,
		Low:   tick.Price,
		Close: tick.Price,
	}
}

// Update folds the provided tick into the candlestick. The open price is never
// modified after creation.
func (c *Candlestick) Update(tick Tick) {
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	c.Close = tick.Price
}
