package market

import (
	"fmt"
	"time"

	"github.com/hdas/crossover/shared"
)

const (
	// minRetainedCandles is the smallest permissible closed-candle retention,
	// sized to keep enough history for the slow moving average.
	minRetainedCandles = 21
)

// Aggregator folds ticks into fixed-interval candlesticks. Exactly one candle
// is open at any time; all earlier candles are closed and immutable.
type Aggregator struct {
	interval time.Duration
	retain   int
	closed   []shared.Candlestick
	open     *shared.Candlestick
}

// NewAggregator initializes a new candle aggregator for the provided interval,
// retaining at most the provided number of closed candles.
func NewAggregator(interval time.Duration, retain int) (*Aggregator, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("aggregator interval must be positive, got %s", interval)
	}
	if retain < minRetainedCandles {
		return nil, fmt.Errorf("closed candle retention must be at least %d, got %d",
			minRetainedCandles, retain)
	}

	return &Aggregator{
		interval: interval,
		retain:   retain,
		closed:   make([]shared.Candlestick, 0, retain),
	}, nil
}

// Ingest folds the provided tick into the aggregator. When the tick belongs to
// a new interval the open candle is closed as-is and a fresh one is started.
// The returned flag reports whether a candle was closed by this tick.
func (a *Aggregator) Ingest(tick shared.Tick) bool {
	start := shared.IntervalStart(tick.At, a.interval)

	if a.open == nil {
		a.open = shared.NewCandlestick(tick, a.interval)
		return false
	}

	if start.Equal(a.open.Start) {
		a.open.Update(tick)
		return false
	}

	a.appendClosed(*a.open)
	a.open = shared.NewCandlestick(tick, a.interval)

	return true
}

// appendClosed appends the provided candle to the closed sequence, evicting
// the oldest entries beyond the retention cap.
func (a *Aggregator) appendClosed(candle shared.Candlestick) {
	a.closed = append(a.closed, candle)
	if len(a.closed) > a.retain {
		over := len(a.closed) - a.retain
		a.closed = append(a.closed[:0], a.closed[over:]...)
	}
}

// ClosedCandles returns the ordered closed candle sequence.
func (a *Aggregator) ClosedCandles() []shared.Candlestick {
	return a.closed
}

// CurrentOpen returns the currently open candle, if any.
func (a *Aggregator) CurrentOpen() (shared.Candlestick, bool) {
	if a.open == nil {
		return shared.Candlestick{}, false
	}

	return *a.open, true
}

// Snapshot returns the full candle sequence for persistence, closed candles
// followed by the current open candle.
func (a *Aggregator) Snapshot() []shared.Candlestick {
	candles := make([]shared.Candlestick, len(a.closed), len(a.closed)+1)
	copy(candles, a.closed)
	if a.open != nil {
		candles = append(candles, *a.open)
	}

	return candles
}

// Restore resumes the aggregator from a persisted candle sequence. The last
// candle of the sequence is treated as the still-open candle; subsequent ticks
// continue it with no duplicate or lost boundary candle.
func (a *Aggregator) Restore(candles []shared.Candlestick) error {
	if len(candles) == 0 {
		return nil
	}

	for idx := 1; idx < len(candles); idx++ {
		if !candles[idx].Start.After(candles[idx-1].Start) {
			return fmt.Errorf("candle starts must be strictly increasing, got %s after %s",
				candles[idx].Start, candles[idx-1].Start)
		}
	}

	open := candles[len(candles)-1]
	closed := candles[:len(candles)-1]

	a.closed = make([]shared.Candlestick, 0, a.retain)
	for idx := range closed {
		a.appendClosed(closed[idx])
	}
	a.open = &open

	return nil
}
