package indicator

import (
	"fmt"

	"github.com/hdas/crossover/shared"
)

// SMA returns the simple moving average of the last window closes of the
// provided candles.
func SMA(candles []shared.Candlestick, window int) (float64, error) {
	if window <= 0 {
		return 0, fmt.Errorf("sma window must be positive, got %d", window)
	}
	if len(candles) < window {
		return 0, fmt.Errorf("sma window %d exceeds available candles %d", window, len(candles))
	}

	var sum float64
	for idx := len(candles) - window; idx < len(candles); idx++ {
		sum += candles[idx].Close
	}

	return sum / float64(window), nil
}
