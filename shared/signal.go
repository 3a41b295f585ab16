package shared

import "time"

// CrossoverSignal represents an entry signal generated when the fast moving
// average meets or exceeds the slow moving average on a closed candle.
type CrossoverSignal struct {
	// CandleStart is the start of the closed candle the signal fired on.
	CandleStart time.Time
	// Spot is the closing price of that candle, used as the spot reference
	// for strike selection.
	Spot float64
	// Fast and Slow carry the average values that produced the signal.
	Fast float64
	Slow float64
}
