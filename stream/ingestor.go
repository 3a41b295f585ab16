// Package stream maintains the live tick subscription and feeds parsed ticks
// into the processing pipeline.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hdas/crossover/shared"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	// defaultBackoffBase is the initial reconnect delay.
	defaultBackoffBase = time.Second * 5
	// defaultBackoffCap is the reconnect delay ceiling.
	defaultBackoffCap = time.Minute
	// pingMessage and pongMessage are the keep-alive frame bodies.
	pingMessage = "ping"
	pongMessage = `{"message":"pong"}`
)

// IngestorConfig represents the tick ingestor configuration.
type IngestorConfig struct {
	// URL is the tick stream websocket url.
	URL string
	// ExchangeSegment is the exchange segment of the subscribed instrument.
	ExchangeSegment string
	// SecurityID is the security id of the subscribed instrument.
	SecurityID string
	// DataType is the subscription data type.
	DataType string
	// HandleTick processes each parsed tick, fully, before the next one is
	// read off the connection.
	HandleTick func(tick shared.Tick)
	// BackoffBase is the initial reconnect delay. Defaults when zero.
	BackoffBase time.Duration
	// BackoffCap is the reconnect delay ceiling. Defaults when zero.
	BackoffCap time.Duration
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *IngestorConfig) Validate() error {
	var errs error

	if cfg.URL == "" {
		errs = errors.Join(errs, fmt.Errorf("stream url cannot be an empty string"))
	}
	if cfg.SecurityID == "" {
		errs = errors.Join(errs, fmt.Errorf("security id cannot be an empty string"))
	}
	if cfg.HandleTick == nil {
		errs = errors.Join(errs, fmt.Errorf("tick handler cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// subscription is the per-connection subscribe request.
type subscription struct {
	Action      string       `json:"action"`
	RequestID   string       `json:"requestId"`
	Instruments []instrument `json:"instruments"`
}

type instrument struct {
	ExchangeSegment string `json:"exchangeSegment"`
	SecurityID      string `json:"securityId"`
	DataType        string `json:"dataType"`
}

// Ingestor maintains the streaming connection, reconnecting with exponential
// backoff, and relays ticks in arrival order.
type Ingestor struct {
	cfg       *IngestorConfig
	malformed atomic.Uint64
}

// NewIngestor initializes a new tick ingestor.
func NewIngestor(cfg *IngestorConfig) (*Ingestor, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaultBackoffCap
	}

	return &Ingestor{cfg: cfg}, nil
}

// MalformedCount returns the number of malformed messages skipped so far.
func (i *Ingestor) MalformedCount() uint64 {
	return i.malformed.Load()
}

// nextBackoff doubles the provided delay up to the configured ceiling.
func nextBackoff(current time.Duration, ceiling time.Duration) time.Duration {
	next := current * 2
	if next > ceiling {
		next = ceiling
	}

	return next
}

// subscribe sends the subscription request for the configured instrument on
// the provided connection.
func (i *Ingestor) subscribe(conn *websocket.Conn) error {
	sub := subscription{
		Action:    "subscribe",
		RequestID: uuid.New().String(),
		Instruments: []instrument{
			{
				ExchangeSegment: i.cfg.ExchangeSegment,
				SecurityID:      i.cfg.SecurityID,
				DataType:        i.cfg.DataType,
			},
		},
	}

	err := conn.WriteJSON(sub)
	if err != nil {
		return fmt.Errorf("sending subscription request: %w", err)
	}

	return nil
}

// handleMessage parses one raw message, answering keep-alives in kind and
// relaying valid ticks. Malformed messages are skipped and counted.
func (i *Ingestor) handleMessage(conn *websocket.Conn, raw []byte) {
	msg := gjson.ParseBytes(raw)

	if msg.Get("message").String() == pingMessage {
		err := conn.WriteMessage(websocket.TextMessage, []byte(pongMessage))
		if err != nil {
			i.cfg.Logger.Error().Msgf("answering keep-alive: %v", err)
		}
		return
	}

	at := msg.Get("time")
	price := msg.Get("lastTradedPrice")
	if !at.Exists() || !price.Exists() {
		i.malformed.Add(1)
		return
	}

	i.cfg.HandleTick(shared.Tick{
		At:    time.UnixMilli(at.Int()),
		Price: price.Float(),
	})
}

// consume connects, subscribes and reads messages until the connection fails
// or the context is cancelled. It reports the number of messages received.
func (i *Ingestor) consume(ctx context.Context) (int, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, i.cfg.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("dialing %s: %w", i.cfg.URL, err)
	}

	defer conn.Close()

	err = i.subscribe(conn)
	if err != nil {
		return 0, err
	}

	// Unblock the read loop when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	var received int
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("reading message: %w", err)
		}

		received++
		i.handleMessage(conn, raw)
	}
}

// Run maintains the tick subscription until the context is cancelled,
// reconnecting on failure with exponential backoff. The delay resets to the
// base value after any connection that yields at least one message.
func (i *Ingestor) Run(ctx context.Context) {
	delay := i.cfg.BackoffBase

	for {
		if ctx.Err() != nil {
			return
		}

		received, err := i.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			i.cfg.Logger.Error().Msgf("tick stream disconnected after %d messages: %v", received, err)
		}

		if received > 0 {
			delay = i.cfg.BackoffBase
		}

		i.cfg.Logger.Info().Msgf("reconnecting tick stream in %s", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay = nextBackoff(delay, i.cfg.BackoffCap)
	}
}
