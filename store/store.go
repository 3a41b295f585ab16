// Package store provides durable, atomic snapshot persistence for the bot's
// recoverable state.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hdas/crossover/position"
	"github.com/hdas/crossover/shared"
)

// BotState is the persisted snapshot of all recoverable bot state.
type BotState struct {
	// Candles holds the closed candle sequence followed by the current open
	// candle.
	Candles []shared.Candlestick `json:"candles"`
	// Position is the open position, nil when flat.
	Position *position.Position `json:"position"`
	// LastTradedCandleStart marks the candle an entry was last filled on,
	// guaranteeing at most one entry attempt per candle.
	LastTradedCandleStart *time.Time `json:"lastTradedCandleStart"`
}

// Store reads and writes bot state snapshots. It holds no live state of its
// own.
type Store struct {
	path string
}

// NewStore initializes a snapshot store at the provided filepath.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state filepath cannot be an empty string")
	}

	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("creating state directory %s: %w", dir, err)
	}

	return &Store{path: path}, nil
}

// Save writes a complete snapshot using write-new-then-rename semantics, so a
// crash mid-write never corrupts the last successfully written snapshot.
func (s *Store) Save(state *BotState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling bot state: %w", err)
	}

	tmp := s.path + ".tmp"
	err = os.WriteFile(tmp, data, 0o644)
	if err != nil {
		return fmt.Errorf("writing snapshot %s: %w", tmp, err)
	}

	err = os.Rename(tmp, s.path)
	if err != nil {
		return fmt.Errorf("replacing snapshot %s: %w", s.path, err)
	}

	return nil
}

// Load returns the most recent valid snapshot, or nil when none exists.
func (s *Store) Load() (*BotState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading snapshot %s: %w", s.path, err)
	}

	var state BotState
	err = json.Unmarshal(data, &state)
	if err != nil {
		return nil, fmt.Errorf("unmarshalling snapshot %s: %w", s.path, err)
	}

	return &state, nil
}
