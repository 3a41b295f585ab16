package market

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hdas/crossover/shared"
	"github.com/peterldowns/testy/assert"
)

func TestAggregator(t *testing.T) {
	// Ensure the aggregator rejects invalid configuration.
	_, err := NewAggregator(0, 100)
	assert.Error(t, err)

	_, err = NewAggregator(time.Minute*5, 5)
	assert.Error(t, err)

	agg, err := NewAggregator(time.Minute*5, 100)
	assert.NoError(t, err)

	// Ensure there is no open candle before the first tick.
	_, ok := agg.CurrentOpen()
	assert.Equal(t, ok, false)

	// Ensure ticks within one interval produce a single candle with correct
	// open, high, low and close.
	start := time.Date(2025, 4, 2, 10, 35, 0, 0, time.UTC)
	prices := []float64{100, 101, 99, 102}
	for idx, price := range prices {
		closed := agg.Ingest(shared.Tick{At: start.Add(time.Duration(idx) * time.Minute), Price: price})
		assert.Equal(t, closed, false)
	}

	open, ok := agg.CurrentOpen()
	assert.Equal(t, ok, true)
	assert.Equal(t, open, shared.Candlestick{Start: start, Open: 100, High: 102, Low: 99, Close: 102})
	assert.Equal(t, len(agg.ClosedCandles()), 0)

	// Ensure a tick in the next interval closes the open candle unchanged and
	// starts a new one seeded with the tick price.
	closed := agg.Ingest(shared.Tick{At: start.Add(time.Minute * 5), Price: 103})
	assert.Equal(t, closed, true)
	assert.Equal(t, len(agg.ClosedCandles()), 1)
	assert.Equal(t, agg.ClosedCandles()[0],
		shared.Candlestick{Start: start, Open: 100, High: 102, Low: 99, Close: 102})

	open, ok = agg.CurrentOpen()
	assert.Equal(t, ok, true)
	assert.Equal(t, open,
		shared.Candlestick{Start: start.Add(time.Minute * 5), Open: 103, High: 103, Low: 103, Close: 103})

	// Ensure closed candle starts are strictly increasing and interval aligned.
	closedCandles := agg.ClosedCandles()
	for idx := range closedCandles {
		assert.Equal(t, closedCandles[idx].Start, shared.IntervalStart(closedCandles[idx].Start, time.Minute*5))
		if idx > 0 {
			assert.Equal(t, closedCandles[idx].Start.After(closedCandles[idx-1].Start), true)
		}
	}
}

func TestAggregatorRetention(t *testing.T) {
	agg, err := NewAggregator(time.Minute*5, 21)
	assert.NoError(t, err)

	// Ensure the closed sequence is capped at the retention limit with the
	// oldest candles evicted first.
	start := time.Date(2025, 4, 2, 9, 15, 0, 0, time.UTC)
	for idx := range 30 {
		agg.Ingest(shared.Tick{At: start.Add(time.Duration(idx) * time.Minute * 5), Price: float64(100 + idx)})
	}

	closed := agg.ClosedCandles()
	assert.Equal(t, len(closed), 21)
	assert.Equal(t, closed[0].Start, start.Add(time.Minute*5*8))
	assert.Equal(t, closed[len(closed)-1].Start, start.Add(time.Minute*5*28))
}

func TestAggregatorRestore(t *testing.T) {
	agg, err := NewAggregator(time.Minute*5, 100)
	assert.NoError(t, err)

	start := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	for idx := range 4 {
		agg.Ingest(shared.Tick{At: start.Add(time.Duration(idx) * time.Minute * 5), Price: float64(100 + idx)})
	}
	agg.Ingest(shared.Tick{At: start.Add(time.Minute*15 + time.Minute), Price: 110})

	snapshot := agg.Snapshot()
	assert.Equal(t, len(snapshot), 4)

	// Ensure a restored aggregator reproduces the saved sequence exactly.
	restored, err := NewAggregator(time.Minute*5, 100)
	assert.NoError(t, err)
	assert.NoError(t, restored.Restore(snapshot))

	if diff := cmp.Diff(agg.Snapshot(), restored.Snapshot()); diff != "" {
		t.Fatalf("restored snapshot mismatch (-want +got):\n%s", diff)
	}

	// Ensure the restored aggregator continues the open candle correctly.
	closed := restored.Ingest(shared.Tick{At: start.Add(time.Minute*15 + time.Minute*2), Price: 111})
	assert.Equal(t, closed, false)

	open, ok := restored.CurrentOpen()
	assert.Equal(t, ok, true)
	assert.Equal(t, open.Close, float64(111))
	assert.Equal(t, open.Open, float64(103))

	// Ensure the next boundary tick closes exactly one candle, with none
	// duplicated or lost across the restore.
	closed = restored.Ingest(shared.Tick{At: start.Add(time.Minute * 20), Price: 112})
	assert.Equal(t, closed, true)
	assert.Equal(t, len(restored.ClosedCandles()), 4)

	// Ensure restoring an out-of-order sequence fails.
	bad := []shared.Candlestick{
		{Start: start.Add(time.Minute * 5)},
		{Start: start},
	}
	assert.Error(t, restored.Restore(bad))
}
