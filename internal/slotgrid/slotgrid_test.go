package slotgrid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-sync/internal/appointment"
)

func at(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestGenerateEmptyBookedSet(t *testing.T) {
	grid := Generate(nil, at(2025, time.June, 15, 8, 0), DefaultOptions())
	require.Len(t, grid, 7)

	for _, day := range grid {
		assert.Len(t, day.Slots, 22, day.Key)
		for _, s := range day.Slots {
			assert.True(t, s.Available)
		}
	}
	assert.Equal(t, "10:00 AM", grid[1].Slots[0].Time)
	assert.Equal(t, "08:30 PM", grid[1].Slots[21].Time)
}

func TestGenerateDayZeroRounding(t *testing.T) {
	cases := []struct {
		name  string
		now   time.Time
		first string
	}{
		{"before open", at(2025, time.June, 15, 7, 45), "10:00 AM"},
		{"past half hour", at(2025, time.June, 15, 14, 40), "03:00 PM"},
		{"before half hour", at(2025, time.June, 15, 14, 10), "02:30 PM"},
		{"on the half hour", at(2025, time.June, 15, 14, 30), "02:30 PM"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			grid := Generate(nil, tc.now, DefaultOptions())
			require.NotEmpty(t, grid[0].Slots)
			assert.Equal(t, tc.first, grid[0].Slots[0].Time)
			assert.Equal(t, "10:00 AM", grid[1].Slots[0].Time)
		})
	}
}

func TestGenerateAfterClose(t *testing.T) {
	grid := Generate(nil, at(2025, time.June, 15, 21, 15), DefaultOptions())
	require.Len(t, grid, 7)
	assert.Empty(t, grid[0].Slots)
	assert.Len(t, grid[1].Slots, 22)
}

func TestGenerateBookedSlots(t *testing.T) {
	booked := BookedSet{"15_6_2025": {"10:00 AM", "10:30 AM"}}
	grid := Generate(booked, at(2025, time.June, 15, 9, 0), DefaultOptions())

	today := grid[0]
	assert.Equal(t, "15_6_2025", today.Key)
	assert.Equal(t, "2025-06-15", today.Date)
	assert.False(t, today.Slots[0].Available)
	assert.False(t, today.Slots[1].Available)
	for _, s := range today.Slots[2:] {
		assert.True(t, s.Available, s.Time)
	}

	slot, ok := grid.Find("2025-06-15", "10:30 am")
	require.True(t, ok)
	assert.False(t, slot.Available)
}

func TestBookedRoundTrip(t *testing.T) {
	now := at(2025, time.June, 15, 9, 0)
	booked := BookedSet{}
	booked.Add("16_6_2025", "11:00 AM")

	slot, ok := Generate(booked, now, DefaultOptions()).Find("16_6_2025", "11:00 AM")
	require.True(t, ok)
	assert.False(t, slot.Available)

	booked.Remove("16_6_2025", "11:00 AM")
	assert.NotContains(t, booked, "16_6_2025")

	slot, ok = Generate(booked, now, DefaultOptions()).Find("16_6_2025", "11:00 AM")
	require.True(t, ok)
	assert.True(t, slot.Available)
}

func TestForDoctorNil(t *testing.T) {
	grid := ForDoctor(nil, nil, at(2025, time.June, 15, 9, 0), DefaultOptions())
	assert.Empty(t, grid)
	assert.Equal(t, 0, grid.AvailableCount())
}

func TestForDoctorMergesLocalBookings(t *testing.T) {
	doc := &appointment.Doctor{ID: 7, SlotsBooked: map[string][]string{"15_6_2025": {"10:00 AM"}}}
	recs := []appointment.Record{
		{ID: 1, Date: "2025-06-15", Time: "11:00 AM", Status: appointment.StatusPending},
		{ID: 2, Date: "15_6_2025", Time: "12:00 PM", Status: appointment.StatusCancelled},
	}

	grid := ForDoctor(doc, BookedFromAppointments(recs, time.UTC), at(2025, time.June, 15, 9, 0), DefaultOptions())

	s, _ := grid.Find("15_6_2025", "10:00 AM")
	assert.False(t, s.Available)
	s, _ = grid.Find("15_6_2025", "11:00 AM")
	assert.False(t, s.Available)
	s, _ = grid.Find("15_6_2025", "12:00 PM")
	assert.True(t, s.Available)
}

func TestParseDateKey(t *testing.T) {
	d, err := ParseDateKey("5_1_2026", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-05", ISODate(d))
	assert.Equal(t, "5_1_2026", DateKey(d))

	d, err = ParseDateKey("2026-01-05", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "5_1_2026", DateKey(d))

	_, err = ParseDateKey("31_2_2026", time.UTC)
	require.Error(t, err)
	_, err = ParseDateKey("tomorrow", time.UTC)
	require.Error(t, err)
}
