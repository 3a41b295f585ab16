package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/hdas/crossover/engine"
	"github.com/hdas/crossover/fetch"
	"github.com/hdas/crossover/indicator"
	"github.com/hdas/crossover/journal"
	"github.com/hdas/crossover/market"
	"github.com/hdas/crossover/position"
	"github.com/hdas/crossover/store"
	"github.com/hdas/crossover/stream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

const (
	// defaultCandleRetention is the number of closed candles kept in memory
	// and in snapshots.
	defaultCandleRetention = 240
)

// BotConfig represents the configuration struct for the bot service.
type BotConfig struct {
	// ClientID is the dhan client id.
	ClientID string
	// AccessToken is the dhan access token.
	AccessToken string
	// APIBaseURL is the order gateway base url.
	APIBaseURL string
	// StreamURL is the tick stream websocket url.
	StreamURL string
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
	// CandleInterval is the candle aggregation interval.
	CandleInterval time.Duration
	// FastWindow and SlowWindow are the moving average windows.
	FastWindow int
	SlowWindow int
	// StrikeStep is the strike price granularity of the option chain.
	StrikeStep float64
	// DepthOffset selects the deep in-the-money strike below at-the-money.
	DepthOffset float64
	// StopLossPercent is the trailing stop distance from the peak price.
	StopLossPercent float64
	// QuotePollInterval is the trailing-stop quote check cadence.
	QuotePollInterval time.Duration
	// StatePath is the snapshot filepath.
	StatePath string
	// JournalEndpoint is the optional trade journal endpoint. The journal is
	// disabled when empty.
	JournalEndpoint string
	// JournalUser is the journal database user.
	JournalUser string
	// JournalPass is the journal database user pass.
	JournalPass string
	// Underlying names the traded underlying for journal rollups.
	Underlying string
	// Logger represents the application root logger.
	Logger *zerolog.Logger
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc
}

// Validate asserts the config sane inputs.
func (cfg *BotConfig) Validate() error {
	var errs error

	if cfg.StreamURL == "" {
		errs = errors.Join(errs, fmt.Errorf("stream url cannot be an empty string"))
	}
	if cfg.UnderlyingID == "" {
		errs = errors.Join(errs, fmt.Errorf("underlying id cannot be an empty string"))
	}
	if cfg.StatePath == "" {
		errs = errors.Join(errs, fmt.Errorf("state filepath cannot be an empty string"))
	}
	if cfg.CandleInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("candle interval must be positive"))
	}
	if cfg.QuotePollInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("quote poll interval must be positive"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}
	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}

	return errs
}

// Bot represents the crossover bot service.
type Bot struct {
	cfg       *BotConfig
	ingestor  *stream.Ingestor
	botEngine *engine.Engine
	scheduler gocron.Scheduler
	logger    *zerolog.Logger
	wg        sync.WaitGroup
}

// NewBot initializes a new bot service, resuming from the last persisted
// snapshot when one exists.
func NewBot(ctx context.Context, cfg *BotConfig) (*Bot, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	logger := cfg.Logger.With().Str("service", "crossover").Logger()

	gateway, err := fetch.NewDhanClient(&fetch.DhanConfig{
		ClientID:    cfg.ClientID,
		AccessToken: cfg.AccessToken,
		BaseURL:     cfg.APIBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating dhan client: %w", err)
	}

	st, err := store.NewStore(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot store: %w", err)
	}

	aggregator, err := market.NewAggregator(cfg.CandleInterval, defaultCandleRetention)
	if err != nil {
		return nil, fmt.Errorf("creating candle aggregator: %w", err)
	}

	detector, err := indicator.NewDetector(cfg.FastWindow, cfg.SlowWindow)
	if err != nil {
		return nil, fmt.Errorf("creating crossover detector: %w", err)
	}

	var persistTrade func(ctx context.Context, trade *position.Trade) error
	if cfg.JournalEndpoint != "" {
		journalLogger := logger.With().Str("component", "journal").Logger()
		tradeJournal, err := journal.NewJournal(ctx, &journal.JournalConfig{
			Endpoint:   cfg.JournalEndpoint,
			User:       cfg.JournalUser,
			Pass:       cfg.JournalPass,
			Underlying: cfg.Underlying,
			Logger:     &journalLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating trade journal: %w", err)
		}
		persistTrade = tradeJournal.PersistClosedTrade
	}

	positionMgrLogger := logger.With().Str("component", "positionmanager").Logger()
	positionMgr, err := position.NewManager(&position.ManagerConfig{
		Gateway:           gateway,
		UnderlyingID:      cfg.UnderlyingID,
		UnderlyingSegment: cfg.UnderlyingSegment,
		OptionSegment:     cfg.OptionSegment,
		ProductType:       cfg.ProductType,
		Expiry:            cfg.Expiry,
		Quantity:          cfg.Quantity,
		StrikeStep:        cfg.StrikeStep,
		DepthOffset:       cfg.DepthOffset,
		StopLossPercent:   cfg.StopLossPercent,
		Notify: func(message string) {
			positionMgrLogger.Info().Msg(message)
		},
		PersistClosedTrade: persistTrade,
		Logger:             &positionMgrLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating position manager: %w", err)
	}

	// Resume from the last committed snapshot.
	state, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	if state != nil {
		err = aggregator.Restore(state.Candles)
		if err != nil {
			return nil, fmt.Errorf("restoring candles: %w", err)
		}

		var lastTraded time.Time
		if state.LastTradedCandleStart != nil {
			lastTraded = *state.LastTradedCandleStart
		}
		positionMgr.Resume(state.Position, lastTraded)

		logger.Info().Msgf("resumed from snapshot: %d candles, state %s",
			len(state.Candles), positionMgr.State())
	}

	engineLogger := logger.With().Str("component", "engine").Logger()
	botEngine, err := engine.NewEngine(&engine.EngineConfig{
		Aggregator:      aggregator,
		Detector:        detector,
		PositionManager: positionMgr,
		Store:           st,
		Gateway:         gateway,
		OptionSegment:   cfg.OptionSegment,
		Logger:          &engineLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	ingestorLogger := logger.With().Str("component", "ingestor").Logger()
	ingestor, err := stream.NewIngestor(&stream.IngestorConfig{
		URL:             cfg.StreamURL,
		ExchangeSegment: cfg.UnderlyingSegment,
		SecurityID:      cfg.UnderlyingID,
		DataType:        "TICKER",
		HandleTick:      botEngine.SendTick,
		Logger:          &ingestorLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating tick ingestor: %w", err)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating job scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.QuotePollInterval),
		gocron.NewTask(botEngine.SendQuotePoll),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduling quote poll job: %w", err)
	}

	bot := &Bot{
		cfg:       cfg,
		ingestor:  ingestor,
		botEngine: botEngine,
		scheduler: scheduler,
		logger:    &logger,
	}

	return bot, nil
}

// Run handles the lifecycle processes of the bot service.
func (b *Bot) Run(ctx context.Context) {
	b.wg.Add(2)

	go func() {
		b.botEngine.Run(ctx)
		b.wg.Done()
	}()

	go func() {
		b.ingestor.Run(ctx)
		b.wg.Done()
	}()

	b.scheduler.Start()

	<-ctx.Done()
	err := b.scheduler.Shutdown()
	if err != nil {
		b.logger.Error().Msgf("shutting down job scheduler: %v", err)
	}

	b.wg.Wait()
}
