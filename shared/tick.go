package shared

import "time"

// Tick represents a traded price observation for an instrument.
type Tick struct {
	At    time.Time
	Price float64
}
