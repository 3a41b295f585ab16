package indicator

import (
	"fmt"

	"github.com/hdas/crossover/shared"
)

// Detector detects a dual moving average crossover over closed candles. It is
// stateless; evaluation is idempotent and side-effect-free, and deduplication
// across repeated evaluations of the same candle is the caller's concern.
type Detector struct {
	fastWindow int
	slowWindow int
}

// NewDetector initializes a new crossover detector with the provided fast and
// slow windows.
func NewDetector(fastWindow int, slowWindow int) (*Detector, error) {
	if fastWindow <= 0 || slowWindow <= 0 {
		return nil, fmt.Errorf("detector windows must be positive, got %d/%d",
			fastWindow, slowWindow)
	}
	if fastWindow >= slowWindow {
		return nil, fmt.Errorf("fast window %d must be smaller than slow window %d",
			fastWindow, slowWindow)
	}

	return &Detector{
		fastWindow: fastWindow,
		slowWindow: slowWindow,
	}, nil
}

// Evaluate computes the fast and slow averages ending at the last closed
// candle and reports whether a crossover signal fired. Fewer closed candles
// than the slow window is a legitimate cold-start state, not an error.
func (d *Detector) Evaluate(closedCandles []shared.Candlestick) (shared.CrossoverSignal, bool) {
	if len(closedCandles) < d.slowWindow {
		return shared.CrossoverSignal{}, false
	}

	fast, err := SMA(closedCandles, d.fastWindow)
	if err != nil {
		return shared.CrossoverSignal{}, false
	}
	slow, err := SMA(closedCandles, d.slowWindow)
	if err != nil {
		return shared.CrossoverSignal{}, false
	}

	if fast < slow {
		return shared.CrossoverSignal{}, false
	}

	last := closedCandles[len(closedCandles)-1]
	signal := shared.CrossoverSignal{
		CandleStart: last.Start,
		Spot:        last.Close,
		Fast:        fast,
		Slow:        slow,
	}

	return signal, true
}
