package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hdas/crossover/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

func TestIngestorConfigValidate(t *testing.T) {
	// Ensure an empty config is rejected.
	cfg := &IngestorConfig{}
	assert.Error(t, cfg.Validate())
}

func TestNextBackoff(t *testing.T) {
	base := time.Second * 5
	ceiling := time.Minute

	// Ensure five consecutive failures from base=5s, cap=60s produce delays
	// of 5, 10, 20, 40, 60, then hold at 60.
	delays := []time.Duration{}
	delay := base
	for range 6 {
		delays = append(delays, delay)
		delay = nextBackoff(delay, ceiling)
	}

	assert.Equal(t, delays, []time.Duration{
		time.Second * 5,
		time.Second * 10,
		time.Second * 20,
		time.Second * 40,
		time.Second * 60,
		time.Second * 60,
	})
}

func TestIngestor(t *testing.T) {
	upgrader := websocket.Upgrader{}

	// The test server asserts the subscription request, answers with one
	// malformed frame, one ping and two ticks, then expects the pong reply.
	subscriptions := make(chan string, 1)
	pongs := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscriptions <- string(raw)

		conn.WriteMessage(websocket.TextMessage, []byte(`{"noise":true}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"ping"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"time":1712050500000,"lastTradedPrice":19837.4}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"time":1712050501000,"lastTradedPrice":19838.1}`))

		_, raw, err = conn.ReadMessage()
		if err != nil {
			return
		}
		pongs <- string(raw)
	}))
	defer server.Close()

	ticks := make(chan shared.Tick, 4)
	ingestor, err := NewIngestor(&IngestorConfig{
		URL:             "ws" + strings.TrimPrefix(server.URL, "http"),
		ExchangeSegment: "IDX_I",
		SecurityID:      "13",
		DataType:        "TICKER",
		HandleTick:      func(tick shared.Tick) { ticks <- tick },
		BackoffBase:     time.Millisecond * 10,
		BackoffCap:      time.Millisecond * 40,
		Logger:          &log.Logger,
	})
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		ingestor.Run(ctx)
		close(done)
	}()

	// Ensure the subscription request names the instrument.
	sub := <-subscriptions
	assert.Equal(t, gjson.Get(sub, "action").String(), "subscribe")
	assert.Equal(t, gjson.Get(sub, "instruments.0.exchangeSegment").String(), "IDX_I")
	assert.Equal(t, gjson.Get(sub, "instruments.0.securityId").String(), "13")
	assert.Equal(t, gjson.Get(sub, "requestId").String() != "", true)

	// Ensure both ticks arrive parsed and in order.
	first := <-ticks
	assert.Equal(t, first.Price, 19837.4)
	assert.Equal(t, first.At, time.UnixMilli(1712050500000))

	second := <-ticks
	assert.Equal(t, second.Price, 19838.1)

	// Ensure the ping was answered with a pong frame.
	assert.Equal(t, gjson.Get(<-pongs, "message").String(), "pong")

	// Ensure the malformed frame was skipped and counted, not fatal.
	assert.Equal(t, ingestor.MalformedCount(), uint64(1))

	// Ensure cancellation stops the reconnect loop promptly.
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second * 2):
		t.Fatal("ingestor did not stop after cancellation")
	}
}
