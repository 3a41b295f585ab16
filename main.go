package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/hdas/crossover/service"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

// newLogger creates the root logger, writing through a rotated log file when
// one is configured.
func newLogger(logFile string) zerolog.Logger {
	var out io.Writer = os.Stderr
	if logFile != "" {
		out = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Printf("loading config: %v", err)
		return
	}

	logger := newLogger(cfg.LogFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	botCfg := service.BotConfig{
		ClientID:          cfg.ClientID,
		AccessToken:       cfg.AccessToken,
		APIBaseURL:        cfg.APIBaseURL,
		StreamURL:         cfg.StreamURL,
		UnderlyingID:      cfg.UnderlyingID,
		UnderlyingSegment: cfg.UnderlyingSegment,
		OptionSegment:     cfg.OptionSegment,
		ProductType:       cfg.ProductType,
		Expiry:            cfg.Expiry,
		Quantity:          cfg.Quantity,
		CandleInterval:    time.Duration(cfg.CandleIntervalMinutes) * time.Minute,
		FastWindow:        cfg.FastWindow,
		SlowWindow:        cfg.SlowWindow,
		StrikeStep:        float64(cfg.StrikeStep),
		DepthOffset:       float64(cfg.DepthOffset),
		StopLossPercent:   float64(cfg.StopLossPercent) / 100,
		QuotePollInterval: time.Duration(cfg.QuotePollSeconds) * time.Second,
		StatePath:         cfg.StatePath,
		JournalEndpoint:   cfg.JournalEndpoint,
		JournalUser:       cfg.JournalUser,
		JournalPass:       cfg.JournalPass,
		Underlying:        cfg.Underlying,
		Logger:            &logger,
		Cancel:            cancel,
	}
	bot, err := service.NewBot(ctx, &botCfg)
	if err != nil {
		logger.Error().Msgf("creating bot service: %v", err)
		return
	}

	go handleTermination(ctx, cancel)
	bot.Run(ctx)
}
