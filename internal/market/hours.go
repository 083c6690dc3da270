package market

import (
	"fmt"
	"strings"
	"time"
)

// HolidayCalendar reports exchange holidays. Dates are in the exchange location.
type HolidayCalendar interface {
	IsHoliday(day time.Time) bool
}

// StaticHolidays is a fixed set of YYYY-MM-DD dates.
type StaticHolidays map[string]struct{}

func NewStaticHolidays(days []string) (StaticHolidays, error) {
	out := make(StaticHolidays, len(days))
	for _, d := range days {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return nil, fmt.Errorf("holiday %q: %w", d, err)
		}
		out[d] = struct{}{}
	}
	return out, nil
}

func (s StaticHolidays) IsHoliday(day time.Time) bool {
	_, ok := s[day.Format("2006-01-02")]
	return ok
}

// Hours is a weekday session window in an exchange location. Open and Close
// are offsets from local midnight.
type Hours struct {
	Location *time.Location
	Open     time.Duration
	Close    time.Duration
	Holidays HolidayCalendar
}

// DefaultHours is 09:30-16:00 America/New_York without holidays.
func DefaultHours() (Hours, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return Hours{}, err
	}
	return Hours{Location: loc, Open: 9*time.Hour + 30*time.Minute, Close: 16 * time.Hour}, nil
}

// Loc returns the exchange location, UTC when unset.
func (h Hours) Loc() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}

func (h Hours) midnight(t time.Time) time.Time {
	local := t.In(h.Loc())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, h.Loc())
}

// TradingDay returns the session date of t.
func (h Hours) TradingDay(t time.Time) string {
	return t.In(h.Loc()).Format("2006-01-02")
}

// DayStart returns local midnight of t's exchange day.
func (h Hours) DayStart(t time.Time) time.Time {
	return h.midnight(t)
}

// IsTradingDay reports whether t falls on a weekday that is not a holiday.
func (h Hours) IsTradingDay(t time.Time) bool {
	local := t.In(h.Loc())
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return h.Holidays == nil || !h.Holidays.IsHoliday(local)
}

// IsOpen reports whether the session is open at t. Close is exclusive.
func (h Hours) IsOpen(t time.Time) bool {
	if !h.IsTradingDay(t) {
		return false
	}
	mid := h.midnight(t)
	open := addClock(mid, h.Open)
	closeAt := addClock(mid, h.Close)
	return !t.Before(open) && t.Before(closeAt)
}

// NextOpen returns the next session open strictly after t, or t's own open
// when t is before it on a trading day.
func (h Hours) NextOpen(t time.Time) time.Time {
	mid := h.midnight(t)
	for i := 0; i < 15; i++ {
		day := mid.AddDate(0, 0, i)
		open := addClock(day, h.Open)
		if open.After(t) && h.IsTradingDay(open) {
			return open
		}
	}
	// more than two weeks of holidays; report the raw next weekday open
	return addClock(mid.AddDate(0, 0, 15), h.Open)
}

// addClock adds a wall-clock offset, staying correct across DST changes.
func addClock(midnight time.Time, offset time.Duration) time.Time {
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	return time.Date(midnight.Year(), midnight.Month(), midnight.Day(), h, m, 0, 0, midnight.Location())
}
