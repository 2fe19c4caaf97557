package game

import (
	"fmt"
	"time"
)

// Numbering maps calendar dates to sequential game numbers through a
// fixed (anchorDate, anchorNumber) pair. Day arithmetic is done at UTC
// midnight so the mapping is independent of the caller's time zone.
type Numbering struct {
	anchorDate   time.Time
	anchorNumber int
}

func NewNumbering(anchorDate string, anchorNumber int) (*Numbering, error) {
	t, err := time.Parse("2006-01-02", anchorDate)
	if err != nil {
		return nil, fmt.Errorf("invalid anchor date %q: %w", anchorDate, err)
	}
	return &Numbering{
		anchorDate:   midnightUTC(t),
		anchorNumber: anchorNumber,
	}, nil
}

// NumberForDate returns the game number for the given date. Dates
// before the anchor yield numbers below the anchor's; no clamping.
func (n *Numbering) NumberForDate(t time.Time) int {
	days := int(midnightUTC(t).Sub(n.anchorDate).Hours() / 24)
	return n.anchorNumber + days
}

// DateForNumber is the exact inverse of NumberForDate.
func (n *Numbering) DateForNumber(number int) time.Time {
	return n.anchorDate.AddDate(0, 0, number-n.anchorNumber)
}

// TodayNumber returns the game number for the current UTC date.
func (n *Numbering) TodayNumber() int {
	return n.NumberForDate(time.Now().UTC())
}

func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
