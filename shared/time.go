package shared

import (
	"fmt"
	"time"
)

// KolkataTime returns the current time in kolkata (IST), the exchange timezone
// for NSE instruments.
func KolkataTime() (time.Time, *time.Location, error) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("loading kolkata timezone: %w", err)
	}

	now := time.Now().In(loc)
	return now, loc, nil
}
