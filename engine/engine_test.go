package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hdas/crossover/indicator"
	"github.com/hdas/crossover/market"
	"github.com/hdas/crossover/position"
	"github.com/hdas/crossover/shared"
	"github.com/hdas/crossover/store"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"
)

// fakeGateway is a scriptable order gateway for engine tests.
type fakeGateway struct {
	fillPrice float64
	quote     float64
	quoteErr  error
	orderErr  error
	resolveID string
	orders    []shared.MarketOrder
}

func (g *fakeGateway) PlaceMarketOrder(_ context.Context, order shared.MarketOrder) (float64, error) {
	g.orders = append(g.orders, order)
	if g.orderErr != nil {
		return 0, g.orderErr
	}
	return g.fillPrice, nil
}

func (g *fakeGateway) Quote(_ context.Context, _ string, _ string) (float64, error) {
	if g.quoteErr != nil {
		return 0, g.quoteErr
	}
	return g.quote, nil
}

func (g *fakeGateway) ResolveOption(_ context.Context, _ string, _ string, _ string, _ float64, _ shared.OptionType) (string, error) {
	return g.resolveID, nil
}

func setupEngine(t *testing.T, gateway *fakeGateway) (*Engine, *store.Store) {
	t.Helper()

	agg, err := market.NewAggregator(time.Minute*5, 100)
	assert.NoError(t, err)

	detector, err := indicator.NewDetector(10, 21)
	assert.NoError(t, err)

	posMgr, err := position.NewManager(&position.ManagerConfig{
		Gateway:           gateway,
		UnderlyingID:      "13",
		UnderlyingSegment: "IDX_I",
		OptionSegment:     "NSE_FNO",
		ProductType:       "INTRADAY",
		Expiry:            "2025-04-24",
		Quantity:          50,
		StrikeStep:        50,
		DepthOffset:       200,
		StopLossPercent:   0.05,
		Logger:            &log.Logger,
	})
	assert.NoError(t, err)

	st, err := store.NewStore(filepath.Join(t.TempDir(), "bot.json"))
	assert.NoError(t, err)

	eng, err := NewEngine(&EngineConfig{
		Aggregator:      agg,
		Detector:        detector,
		PositionManager: posMgr,
		Store:           st,
		Gateway:         gateway,
		OptionSegment:   "NSE_FNO",
		Logger:          &log.Logger,
	})
	assert.NoError(t, err)

	return eng, st
}

func TestEngineConfigValidate(t *testing.T) {
	// Ensure an empty config is rejected.
	cfg := &EngineConfig{}
	assert.Error(t, cfg.Validate())
}

func TestEnginePipeline(t *testing.T) {
	gateway := &fakeGateway{fillPrice: 40, resolveID: "opt-1"}
	eng, st := setupEngine(t, gateway)

	// Feed one tick per interval with rising prices so that once 21 candles
	// have closed the fast average sits above the slow one.
	start := time.Date(2025, 4, 2, 9, 15, 0, 0, time.UTC)
	for idx := range 23 {
		eng.handleTick(context.Background(),
			shared.Tick{At: start.Add(time.Duration(idx) * time.Minute * 5), Price: float64(19800 + idx)})
	}

	// Ensure the crossover produced exactly one entry order.
	assert.Equal(t, len(gateway.orders), 1)
	assert.Equal(t, gateway.orders[0].Side, shared.Buy)
	assert.Equal(t, eng.cfg.PositionManager.State(), position.Open)

	// Ensure further ticks on the same closed candle do not re-enter.
	eng.handleTick(context.Background(),
		shared.Tick{At: start.Add(time.Minute*5*23 + time.Minute), Price: 19825})
	assert.Equal(t, len(gateway.orders), 1)

	// Ensure every tick left a loadable snapshot behind.
	state, err := st.Load()
	assert.NoError(t, err)
	assert.Equal(t, state != nil, true)
	assert.Equal(t, state.Position != nil, true)
	assert.Equal(t, state.Position.OptionID, "opt-1")
	assert.Equal(t, state.LastTradedCandleStart != nil, true)

	// Ensure a quote poll ratchets the trailing stop and persists it.
	gateway.quote = 50
	eng.handleQuotePoll(context.Background())

	state, err = st.Load()
	assert.NoError(t, err)
	assert.Equal(t, state.Position.PeakPrice, float64(50))
	assert.Equal(t, state.Position.StopPrice, 47.5)

	// Ensure a stop breach exits and clears the persisted position.
	gateway.quote = 47
	gateway.fillPrice = 47
	eng.handleQuotePoll(context.Background())

	assert.Equal(t, eng.cfg.PositionManager.State(), position.Flat)
	state, err = st.Load()
	assert.NoError(t, err)
	assert.Equal(t, state.Position == nil, true)

	// Ensure an unavailable quote is tolerated without a state change.
	gateway.quoteErr = shared.ErrQuoteUnavailable
	eng.handleQuotePoll(context.Background())
}

func TestEngineExitRetryWithoutQuote(t *testing.T) {
	gateway := &fakeGateway{fillPrice: 40, resolveID: "opt-1"}
	eng, st := setupEngine(t, gateway)

	// Open a position via a crossover.
	start := time.Date(2025, 4, 2, 9, 15, 0, 0, time.UTC)
	for idx := range 23 {
		eng.handleTick(context.Background(),
			shared.Tick{At: start.Add(time.Duration(idx) * time.Minute * 5), Price: float64(19800 + idx)})
	}
	assert.Equal(t, eng.cfg.PositionManager.State(), position.Open)

	// Breach the stop with the sell rejected so the position is stuck exiting.
	gateway.quote = 37
	gateway.orderErr = shared.ErrOrderRejected
	eng.handleQuotePoll(context.Background())
	assert.Equal(t, eng.cfg.PositionManager.State(), position.Exiting)

	// Ensure the pending exit is retried even while quotes are unavailable;
	// the market sell does not need one.
	gateway.quoteErr = shared.ErrQuoteUnavailable
	gateway.orderErr = nil
	gateway.fillPrice = 37
	eng.handleQuotePoll(context.Background())

	assert.Equal(t, eng.cfg.PositionManager.State(), position.Flat)
	assert.Equal(t, gateway.orders[len(gateway.orders)-1].Side, shared.Sell)

	state, err := st.Load()
	assert.NoError(t, err)
	assert.Equal(t, state.Position == nil, true)
}

func TestEngineQuotePollWhileFlat(t *testing.T) {
	gateway := &fakeGateway{}
	eng, _ := setupEngine(t, gateway)

	// Ensure quote polls are a no-op with no position held.
	eng.handleQuotePoll(context.Background())
	assert.Equal(t, len(gateway.orders), 0)
}

func TestEngineRun(t *testing.T) {
	gateway := &fakeGateway{fillPrice: 40, resolveID: "opt-1"}
	eng, st := setupEngine(t, gateway)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	// Ensure ticks sent through the public surface are processed in order.
	start := time.Date(2025, 4, 2, 9, 15, 0, 0, time.UTC)
	for idx := range 3 {
		eng.SendTick(shared.Tick{At: start.Add(time.Duration(idx) * time.Minute * 5), Price: float64(100 + idx)})
	}
	eng.SendQuotePoll()

	// Wait for the pipeline to drain, evidenced by a persisted snapshot with
	// both closed candles.
	deadline := time.Now().Add(time.Second * 2)
	for {
		state, err := st.Load()
		assert.NoError(t, err)
		if state != nil && len(state.Candles) == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pipeline did not process ticks in time")
		}
		time.Sleep(time.Millisecond * 10)
	}

	// Ensure cancellation stops the engine promptly.
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second * 2):
		t.Fatal("engine did not stop after cancellation")
	}
}
