package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nyHours(t *testing.T) (Hours, *time.Location) {
	t.Helper()
	h, err := DefaultHours()
	require.NoError(t, err)
	return h, h.Location
}

func TestHoursIsOpen(t *testing.T) {
	h, ny := nyHours(t)
	tests := []struct {
		at   time.Time
		open bool
	}{
		{time.Date(2026, 3, 2, 9, 29, 59, 0, ny), false},
		{time.Date(2026, 3, 2, 9, 30, 0, 0, ny), true},
		{time.Date(2026, 3, 2, 15, 59, 0, 0, ny), true},
		{time.Date(2026, 3, 2, 16, 0, 0, 0, ny), false},
		{time.Date(2026, 3, 7, 11, 0, 0, 0, ny), false}, // Saturday
		{time.Date(2026, 7, 1, 13, 45, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.open, h.IsOpen(tt.at), tt.at.String())
	}
}

func TestHoursNextOpen(t *testing.T) {
	h, ny := nyHours(t)
	fri := time.Date(2026, 3, 6, 18, 0, 0, 0, ny)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 30, 0, 0, ny), h.NextOpen(fri))

	early := time.Date(2026, 3, 3, 7, 0, 0, 0, ny)
	assert.Equal(t, time.Date(2026, 3, 3, 9, 30, 0, 0, ny), h.NextOpen(early))

	// DST starts 2026-03-08; the open stays at 09:30 local
	next := h.NextOpen(time.Date(2026, 3, 8, 12, 0, 0, 0, ny))
	assert.Equal(t, 9, next.In(ny).Hour())
	assert.Equal(t, 30, next.In(ny).Minute())
	assert.Equal(t, time.Date(2026, 3, 9, 13, 30, 0, 0, time.UTC), next.UTC())
}

func TestHoursHolidays(t *testing.T) {
	h, ny := nyHours(t)
	hol, err := NewStaticHolidays([]string{"2026-12-25", " "})
	require.NoError(t, err)
	h.Holidays = hol
	xmas := time.Date(2026, 12, 25, 11, 0, 0, 0, ny)
	assert.False(t, h.IsOpen(xmas))
	assert.Equal(t, time.Date(2026, 12, 28, 9, 30, 0, 0, ny), h.NextOpen(xmas))

	_, err = NewStaticHolidays([]string{"25/12/2026"})
	assert.Error(t, err)
}

func TestHoursTradingDay(t *testing.T) {
	h, _ := nyHours(t)
	// 02:00 UTC is still the previous day in New York
	at := time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-02", h.TradingDay(at))
	assert.Equal(t, "2026-03-02", h.DayStart(at).Format("2006-01-02"))
}
