package position

import (
	"fmt"

	"github.com/google/uuid"
)

// Position represents the single open option position held by the bot.
type Position struct {
	OptionID   string  `json:"optionId"`
	EntryPrice float64 `json:"entryPrice"`
	PeakPrice  float64 `json:"peakPrice"`
	StopPrice  float64 `json:"stopPrice"`
	Quantity   int     `json:"quantity"`
}

// NewPosition initializes a position from a confirmed buy fill, with the
// trailing stop anchored below the entry price.
func NewPosition(optionID string, fillPrice float64, quantity int, stopLossPercent float64) (*Position, error) {
	if optionID == "" {
		return nil, fmt.Errorf("option id cannot be an empty string")
	}
	if fillPrice <= 0 {
		return nil, fmt.Errorf("fill price must be positive, got %f", fillPrice)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	pos := &Position{
		OptionID:   optionID,
		EntryPrice: fillPrice,
		PeakPrice:  fillPrice,
		StopPrice:  fillPrice * (1 - stopLossPercent),
		Quantity:   quantity,
	}

	return pos, nil
}

// UpdateTrail ratchets the peak and stop prices with the provided quote. Both
// only ever move up. The returned flag reports whether either price changed.
func (p *Position) UpdateTrail(quote float64, stopLossPercent float64) bool {
	if quote <= p.PeakPrice {
		return false
	}

	p.PeakPrice = quote

	trail := p.PeakPrice * (1 - stopLossPercent)
	if trail > p.StopPrice {
		p.StopPrice = trail
	}

	return true
}

// StoppedOut reports whether the provided quote has reached the stop price.
func (p *Position) StoppedOut(quote float64) bool {
	return quote <= p.StopPrice
}

// PNL returns the realized profit and loss for the position at the provided
// exit price.
func (p *Position) PNL(exitPrice float64) float64 {
	return (exitPrice - p.EntryPrice) * float64(p.Quantity)
}

// Trade represents a completed round trip for the journal.
type Trade struct {
	ID         string
	OptionID   string
	EntryPrice float64
	ExitPrice  float64
	Quantity   int
	PNL        float64
	OpenedOn   uint64
	ClosedOn   uint64
}

// NewTrade initializes a trade record from a closed position.
func NewTrade(pos *Position, exitPrice float64, openedOn uint64, closedOn uint64) *Trade {
	return &Trade{
		ID:         uuid.New().String(),
		OptionID:   pos.OptionID,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.Quantity,
		PNL:        pos.PNL(exitPrice),
		OpenedOn:   openedOn,
		ClosedOn:   closedOn,
	}
}
