package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hdas/crossover/indicator"
	"github.com/hdas/crossover/market"
	"github.com/hdas/crossover/position"
	"github.com/hdas/crossover/shared"
	"github.com/hdas/crossover/store"
	"github.com/rs/zerolog"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 64
)

// EngineConfig represents the engine configuration.
type EngineConfig struct {
	// Aggregator folds ticks into candles.
	Aggregator *market.Aggregator
	// Detector evaluates the crossover signal over closed candles.
	Detector *indicator.Detector
	// PositionManager owns the position lifecycle.
	PositionManager *position.Manager
	// Store persists bot state snapshots.
	Store *store.Store
	// Gateway fetches quotes for the held option.
	Gateway shared.OrderGateway
	// OptionSegment is the exchange segment quotes are fetched from.
	OptionSegment string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *EngineConfig) Validate() error {
	var errs error

	if cfg.Aggregator == nil {
		errs = errors.Join(errs, fmt.Errorf("aggregator cannot be nil"))
	}
	if cfg.Detector == nil {
		errs = errors.Join(errs, fmt.Errorf("detector cannot be nil"))
	}
	if cfg.PositionManager == nil {
		errs = errors.Join(errs, fmt.Errorf("position manager cannot be nil"))
	}
	if cfg.Store == nil {
		errs = errors.Join(errs, fmt.Errorf("store cannot be nil"))
	}
	if cfg.Gateway == nil {
		errs = errors.Join(errs, fmt.Errorf("order gateway cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Engine is the single stream of causality: ticks and quote polls are
// processed one at a time, each fully (aggregation, signal evaluation,
// position transition, persistence) before the next is accepted.
type Engine struct {
	cfg        *EngineConfig
	ticks      chan shared.Tick
	quotePolls chan struct{}
	// persistDegraded halts new entries while snapshots cannot be written.
	persistDegraded bool
}

// NewEngine initializes a new engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		ticks:      make(chan shared.Tick, bufferSize),
		quotePolls: make(chan struct{}, 1),
	}, nil
}

// SendTick relays the provided tick for processing. Ticks are never dropped;
// when the pipeline is saturated the send applies backpressure so arrival
// order is preserved.
func (e *Engine) SendTick(tick shared.Tick) {
	select {
	case e.ticks <- tick:
		// do nothing.
	default:
		e.cfg.Logger.Warn().Msgf("tick channel at capacity: %d/%d, applying backpressure",
			len(e.ticks), bufferSize)
		e.ticks <- tick
	}
}

// SendQuotePoll requests a trailing-stop quote check. Coalesced when one is
// already pending.
func (e *Engine) SendQuotePoll() {
	select {
	case e.quotePolls <- struct{}{}:
		// do nothing.
	default:
		// A poll is already pending.
	}
}

// persist writes the current snapshot, tracking persistence health. While
// persistence is degraded no new entries are allowed.
func (e *Engine) persist() {
	state := &store.BotState{
		Candles:  e.cfg.Aggregator.Snapshot(),
		Position: e.cfg.PositionManager.Position(),
	}

	lastTraded := e.cfg.PositionManager.LastTradedCandleStart()
	if !lastTraded.IsZero() {
		state.LastTradedCandleStart = &lastTraded
	}

	err := e.cfg.Store.Save(state)
	if err != nil {
		e.persistDegraded = true
		e.cfg.Logger.Error().Msgf("persisting snapshot failed, halting new entries: %v", err)
		return
	}

	if e.persistDegraded {
		e.cfg.Logger.Info().Msg("snapshot persistence restored, entries resumed")
	}
	e.persistDegraded = false
}

// handleTick folds the provided tick into the pipeline.
func (e *Engine) handleTick(ctx context.Context, tick shared.Tick) {
	e.cfg.Aggregator.Ingest(tick)

	signal, fired := e.cfg.Detector.Evaluate(e.cfg.Aggregator.ClosedCandles())
	if fired && !e.persistDegraded {
		_, err := e.cfg.PositionManager.HandleSignal(ctx, signal)
		if err != nil {
			e.cfg.Logger.Error().Msgf("handling crossover signal on candle %s: %v",
				signal.CandleStart, err)
		}
	}

	// Candles change on every tick; the snapshot is rewritten after each one.
	e.persist()
}

// handleQuotePoll fetches a quote for the held option and advances the
// trailing stop. A failed exit is surfaced loudly on every retry.
func (e *Engine) handleQuotePoll(ctx context.Context) {
	state := e.cfg.PositionManager.State()
	if state != position.Open && state != position.Exiting {
		return
	}

	pos := e.cfg.PositionManager.Position()
	quote, err := e.cfg.Gateway.Quote(ctx, e.cfg.OptionSegment, pos.OptionID)
	if err != nil {
		e.cfg.Logger.Warn().Msgf("fetching quote for %s: %v", pos.OptionID, err)
		if state != position.Exiting {
			return
		}

		// The market sell needs no quote. Retry the pending exit at the
		// last known stop price instead of waiting for quotes to recover.
		quote = pos.StopPrice
	}

	mutated, err := e.cfg.PositionManager.HandleQuote(ctx, quote)
	if err != nil {
		e.cfg.Logger.Error().Msgf("handling quote %.2f for %s: %v", quote, pos.OptionID, err)
	}

	if mutated {
		e.persist()
	}
}

// Run processes ticks and quote polls sequentially until the context is
// cancelled. No two events are ever processed concurrently.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-e.ticks:
			e.handleTick(ctx, tick)
		case <-e.quotePolls:
			e.handleQuotePoll(ctx)
		}
	}
}
