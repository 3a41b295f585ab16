package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hdas/crossover/shared"
	"github.com/rs/zerolog"
)

// State represents the position manager state.
type State int

const (
	Flat State = iota
	Entering
	Open
	Exiting
)

// String stringifies the provided state.
func (s State) String() string {
	switch s {
	case Flat:
		return "flat"
	case Entering:
		return "entering"
	case Open:
		return "open"
	case Exiting:
		return "exiting"
	default:
		return "unknown"
	}
}

// ManagerConfig represents the position manager configuration.
type ManagerConfig struct {
	// Gateway places orders, fetches quotes and resolves option contracts.
	Gateway shared.OrderGateway
	// UnderlyingID is the security id of the underlying index.
	UnderlyingID string
	// UnderlyingSegment is the exchange segment of the underlying index.
	UnderlyingSegment string
	// OptionSegment is the exchange segment option orders are routed to.
	OptionSegment string
	// ProductType is the gateway product type for option orders.
	ProductType string
	// Expiry is the option expiry date (YYYY-MM-DD).
	Expiry string
	// Quantity is the fixed lot quantity per entry.
	Quantity int
	// StrikeStep is the strike price granularity of the option chain.
	StrikeStep float64
	// DepthOffset is the number of points below the at-the-money strike used
	// to select a deep in-the-money call.
	DepthOffset float64
	// StopLossPercent is the trailing stop distance from the peak price.
	StopLossPercent float64
	// Notify sends the provided message.
	Notify func(message string)
	// PersistClosedTrade persists the provided completed trade.
	PersistClosedTrade func(ctx context.Context, trade *Trade) error
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	if cfg.Gateway == nil {
		errs = errors.Join(errs, fmt.Errorf("order gateway cannot be nil"))
	}
	if cfg.UnderlyingID == "" {
		errs = errors.Join(errs, fmt.Errorf("underlying id cannot be an empty string"))
	}
	if cfg.Expiry == "" {
		errs = errors.Join(errs, fmt.Errorf("expiry cannot be an empty string"))
	}
	if cfg.Quantity <= 0 {
		errs = errors.Join(errs, fmt.Errorf("quantity must be positive, got %d", cfg.Quantity))
	}
	if cfg.StrikeStep <= 0 {
		errs = errors.Join(errs, fmt.Errorf("strike step must be positive, got %f", cfg.StrikeStep))
	}
	if cfg.DepthOffset < 0 {
		errs = errors.Join(errs, fmt.Errorf("depth offset cannot be negative, got %f", cfg.DepthOffset))
	}
	if cfg.StopLossPercent <= 0 || cfg.StopLossPercent >= 1 {
		errs = errors.Join(errs, fmt.Errorf("stop loss percent must be in (0,1), got %f", cfg.StopLossPercent))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Manager owns at most one open position and walks it through the
// flat -> entering -> open -> exiting -> flat lifecycle. It is driven
// strictly sequentially by the engine; it performs no locking of its own.
type Manager struct {
	cfg        *ManagerConfig
	state      State
	position   *Position
	lastTraded time.Time
	openedOn   uint64
}

// NewManager initializes a new position manager.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:   cfg,
		state: Flat,
	}, nil
}

// Resume restores the manager from a persisted position and traded-candle
// marker. A non-nil position resumes the manager in state open.
func (m *Manager) Resume(pos *Position, lastTraded time.Time) {
	m.position = pos
	m.lastTraded = lastTraded
	if pos != nil {
		m.state = Open
	}
}

// State returns the current manager state.
func (m *Manager) State() State {
	return m.state
}

// Position returns the currently held position, if any.
func (m *Manager) Position() *Position {
	return m.position
}

// LastTradedCandleStart returns the start of the last candle an entry was
// filled on. The zero time means no candle has been traded yet.
func (m *Manager) LastTradedCandleStart() time.Time {
	return m.lastTraded
}

// TargetStrike returns the deep in-the-money strike for the provided spot
// price: the at-the-money strike floored to the strike step, less the
// configured depth offset.
func (m *Manager) TargetStrike(spot float64) float64 {
	atm := math.Floor(spot/m.cfg.StrikeStep) * m.cfg.StrikeStep
	return atm - m.cfg.DepthOffset
}

// HandleSignal processes a crossover signal. The returned flag reports whether
// persisted state changed. A failed entry leaves the candle unmarked so the
// same crossover may be retried.
func (m *Manager) HandleSignal(ctx context.Context, signal shared.CrossoverSignal) (bool, error) {
	if m.state != Flat {
		return false, nil
	}

	if !m.lastTraded.IsZero() && signal.CandleStart.Equal(m.lastTraded) {
		return false, nil
	}

	strike := m.TargetStrike(signal.Spot)
	optionID, err := m.cfg.Gateway.ResolveOption(ctx, m.cfg.UnderlyingID, m.cfg.UnderlyingSegment,
		m.cfg.Expiry, strike, shared.Call)
	if err != nil {
		if errors.Is(err, shared.ErrNoContract) {
			m.cfg.Logger.Warn().Msgf("no %s call contract at strike %.0f expiring %s, dropping signal",
				m.cfg.UnderlyingID, strike, m.cfg.Expiry)
			return false, nil
		}

		return false, fmt.Errorf("resolving option contract: %w", err)
	}

	m.state = Entering
	fillPrice, err := m.cfg.Gateway.PlaceMarketOrder(ctx, shared.MarketOrder{
		SecurityID:      optionID,
		ExchangeSegment: m.cfg.OptionSegment,
		Side:            shared.Buy,
		Quantity:        m.cfg.Quantity,
		ProductType:     m.cfg.ProductType,
	})
	if err != nil {
		m.state = Flat
		return false, fmt.Errorf("entry order for %s: %w", optionID, err)
	}

	pos, err := NewPosition(optionID, fillPrice, m.cfg.Quantity, m.cfg.StopLossPercent)
	if err != nil {
		m.state = Flat
		return false, fmt.Errorf("creating position: %w", err)
	}

	now, _, err := shared.KolkataTime()
	if err != nil {
		m.cfg.Logger.Error().Msgf("fetching kolkata time: %v", err)
		now = time.Now()
	}

	m.position = pos
	m.lastTraded = signal.CandleStart
	m.openedOn = uint64(now.Unix())
	m.state = Open

	m.notify(fmt.Sprintf("Bought %d x %s @ %.2f, stop %.2f", pos.Quantity, pos.OptionID,
		pos.EntryPrice, pos.StopPrice))

	return true, nil
}

// HandleQuote processes a price observation for the held option, ratcheting
// the trailing stop and exiting once it is breached. The returned flag reports
// whether persisted state changed. A rejected exit leaves the manager in state
// exiting; the error is surfaced and the exit is retried on the next quote.
func (m *Manager) HandleQuote(ctx context.Context, quote float64) (bool, error) {
	switch m.state {
	case Open:
		changed := m.position.UpdateTrail(quote, m.cfg.StopLossPercent)
		if !m.position.StoppedOut(quote) {
			return changed, nil
		}

		m.state = Exiting
		exited, err := m.exit(ctx, quote)
		return changed || exited, err

	case Exiting:
		return m.exit(ctx, quote)

	default:
		return false, nil
	}
}

// exit submits the market sell for the full position quantity and clears the
// position on a confirmed fill.
func (m *Manager) exit(ctx context.Context, quote float64) (bool, error) {
	pos := m.position
	fillPrice, err := m.cfg.Gateway.PlaceMarketOrder(ctx, shared.MarketOrder{
		SecurityID:      pos.OptionID,
		ExchangeSegment: m.cfg.OptionSegment,
		Side:            shared.Sell,
		Quantity:        pos.Quantity,
		ProductType:     m.cfg.ProductType,
	})
	if err != nil {
		// The position must not be silently dropped. Remain exiting and
		// surface the failed stop as a risk exposure.
		return false, fmt.Errorf("exit order for %s at quote %.2f: %w", pos.OptionID, quote, err)
	}

	now, _, err := shared.KolkataTime()
	if err != nil {
		m.cfg.Logger.Error().Msgf("fetching kolkata time: %v", err)
		now = time.Now()
	}

	openedOn := m.openedOn
	if openedOn == 0 {
		// The open timestamp is not part of the snapshot; a resumed position
		// falls back to the close time.
		openedOn = uint64(now.Unix())
	}

	trade := NewTrade(pos, fillPrice, openedOn, uint64(now.Unix()))
	if m.cfg.PersistClosedTrade != nil {
		err = m.cfg.PersistClosedTrade(ctx, trade)
		if err != nil {
			m.cfg.Logger.Error().Msgf("persisting closed trade %s: %v", trade.ID, err)
		}
	}

	m.position = nil
	m.openedOn = 0
	m.state = Flat

	m.notify(fmt.Sprintf("Sold %d x %s @ %.2f, pnl %.2f", trade.Quantity, trade.OptionID,
		trade.ExitPrice, trade.PNL))

	return true, nil
}

// notify relays the provided message when a notifier is configured.
func (m *Manager) notify(message string) {
	if m.cfg.Notify != nil {
		m.cfg.Notify(message)
	}
}
