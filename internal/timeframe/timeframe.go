// Package timeframe resolves named reporting windows into inclusive
// calendar-day bounds and filters lots and series by them.
package timeframe

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"journal/internal/domain"
)

// Timeframe names a reporting window.
type Timeframe string

const (
	All         Timeframe = "ALL"
	YearToDate  Timeframe = "YTD"
	OneYear     Timeframe = "1Y"
	SixMonths   Timeframe = "6M"
	ThreeMonths Timeframe = "3M"
	OneMonth    Timeframe = "1M"
	OneWeek     Timeframe = "1W"
	OneDay      Timeframe = "1D"
)

// ErrUnknown is returned by Parse for names outside the supported set.
var ErrUnknown = errors.New("unknown timeframe")

// rolling maps each rolling window to its length in calendar days.
var rolling = map[Timeframe]int{
	OneDay:      1,
	OneWeek:     7,
	OneMonth:    30,
	ThreeMonths: 90,
	SixMonths:   180,
	OneYear:     365,
}

// Parse accepts a timeframe name case-insensitively. An empty string is ALL.
func Parse(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(s)))
	switch tf {
	case "":
		return All, nil
	case All, YearToDate:
		return tf, nil
	}
	if _, ok := rolling[tf]; ok {
		return tf, nil
	}
	return "", fmt.Errorf("parse timeframe %q: %w", s, ErrUnknown)
}

// Bounds is an inclusive calendar-day range. A nil side is unbounded.
type Bounds struct {
	Start *domain.Date `json:"start_date"`
	End   *domain.Date `json:"end_date"`
}

// Contains reports whether d falls inside the bounds.
func (b Bounds) Contains(d domain.Date) bool {
	if b.Start != nil && d.Before(*b.Start) {
		return false
	}
	if b.End != nil && d.After(*b.End) {
		return false
	}
	return true
}

// Window computes the bounds of tf. YTD starts on January 1 of now's year in
// loc. Rolling windows reach back from latest, the most recent data date, and
// use now's date when latest is zero.
func Window(tf Timeframe, now time.Time, latest domain.Date, loc *time.Location) Bounds {
	today := domain.DateOf(now.In(loc))
	switch tf {
	case All, "":
		return Bounds{}
	case YearToDate:
		start := domain.Date{Year: today.Year, Month: time.January, Day: 1}
		return Bounds{Start: &start}
	}

	days, ok := rolling[tf]
	if !ok {
		return Bounds{}
	}
	end := latest
	if end.IsZero() {
		end = today
	}
	start := end.AddDays(-days)
	return Bounds{Start: &start, End: &end}
}

// Latest returns the most recent close date of lots in loc, or the zero Date.
func Latest(lots []domain.ClosedLot, loc *time.Location) domain.Date {
	var latest domain.Date
	for _, lot := range lots {
		if d := domain.DateOf(lot.ClosedAt.In(loc)); latest.IsZero() || d.After(latest) {
			latest = d
		}
	}
	return latest
}

// FilterLots keeps the lots whose close date in loc lies within b.
func FilterLots(lots []domain.ClosedLot, b Bounds, loc *time.Location) []domain.ClosedLot {
	out := make([]domain.ClosedLot, 0, len(lots))
	for _, lot := range lots {
		if b.Contains(domain.DateOf(lot.ClosedAt.In(loc))) {
			out = append(out, lot)
		}
	}
	return out
}

// FilterSeries keeps the series records dated within b. Cumulative values are
// left as computed over the full history.
func FilterSeries(series []domain.DailyPnL, b Bounds) []domain.DailyPnL {
	out := make([]domain.DailyPnL, 0, len(series))
	for _, day := range series {
		if b.Contains(day.Date) {
			out = append(out, day)
		}
	}
	return out
}

// Apply windows lots by tf relative to their own latest close date.
func Apply(tf Timeframe, lots []domain.ClosedLot, now time.Time, loc *time.Location) (Bounds, []domain.ClosedLot) {
	b := Window(tf, now, Latest(lots, loc), loc)
	return b, FilterLots(lots, b, loc)
}
