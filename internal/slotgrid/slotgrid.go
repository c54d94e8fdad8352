// Package slotgrid builds the 7-day bookable slot matrix for a doctor.
//
// Generate is pure: the caller passes now, and nothing is cached between
// calls so grids never go stale across a day boundary.
package slotgrid

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hackgods/appointment-sync/internal/appointment"
)

// BookedSet maps a date key ("15_6_2025") to the taken time labels.
type BookedSet map[string][]string

type Slot struct {
	Datetime  time.Time `json:"datetime"`
	Time      string    `json:"time"`
	Available bool      `json:"available"`
}

type Day struct {
	Key   string `json:"key"`
	Date  string `json:"date"` // yyyy-MM-dd, what the booking endpoint expects
	Slots []Slot `json:"slots"`
}

type Grid []Day

type Options struct {
	Days      int
	OpenHour  int
	CloseHour int
	Step      time.Duration
}

func DefaultOptions() Options {
	return Options{Days: 7, OpenHour: 10, CloseHour: 21, Step: 30 * time.Minute}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Days <= 0 {
		o.Days = d.Days
	}
	if o.OpenHour <= 0 && o.CloseHour <= 0 {
		o.OpenHour, o.CloseHour = d.OpenHour, d.CloseHour
	}
	if o.Step <= 0 {
		o.Step = d.Step
	}
	return o
}

const labelLayout = "03:04 PM"

// Label renders the 12-hour slot label used as the booked-set value.
func Label(t time.Time) string {
	return t.Format(labelLayout)
}

func normalizeLabel(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// DateKey renders the legacy unpadded d_m_yyyy key.
func DateKey(t time.Time) string {
	return fmt.Sprintf("%d_%d_%d", t.Day(), int(t.Month()), t.Year())
}

func ISODate(t time.Time) string {
	return t.Format("2006-01-02")
}

// ParseDateKey accepts both d_m_yyyy and yyyy-MM-dd.
func ParseDateKey(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}

	parts := strings.Split(s, "_")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("invalid date key %q", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date key %q: %w", s, err)
		}
		nums[i] = n
	}
	day, month, year := nums[0], nums[1], nums[2]
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, fmt.Errorf("invalid date key %q", s)
	}
	return t, nil
}

func (b BookedSet) Has(key, label string) bool {
	want := normalizeLabel(label)
	for _, l := range b[key] {
		if normalizeLabel(l) == want {
			return true
		}
	}
	return false
}

func (b BookedSet) Add(key, label string) {
	if b.Has(key, label) {
		return
	}
	b[key] = append(b[key], label)
}

func (b BookedSet) Remove(key, label string) {
	want := normalizeLabel(label)
	kept := b[key][:0:0]
	for _, l := range b[key] {
		if normalizeLabel(l) != want {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(b, key)
		return
	}
	b[key] = kept
}

// Merge unions sets into a fresh BookedSet.
func Merge(sets ...BookedSet) BookedSet {
	out := BookedSet{}
	for _, s := range sets {
		for key, labels := range s {
			for _, l := range labels {
				out.Add(key, l)
			}
		}
	}
	return out
}

// BookedFromAppointments derives taken slots from records that still hold
// their slot. Records with an unparseable date are skipped.
func BookedFromAppointments(records []appointment.Record, loc *time.Location) BookedSet {
	out := BookedSet{}
	for _, rec := range records {
		if !rec.Live() || rec.Time == "" {
			continue
		}
		day, err := ParseDateKey(rec.Date, loc)
		if err != nil {
			continue
		}
		out.Add(DateKey(day), rec.Time)
	}
	return out
}

// firstStart rounds today's first candidate slot forward.
func firstStart(now time.Time, o Options) time.Time {
	y, m, d := now.Date()
	loc := now.Location()
	switch {
	case now.Hour() < o.OpenHour:
		return time.Date(y, m, d, o.OpenHour, 0, 0, 0, loc)
	case now.Minute() > 30:
		return time.Date(y, m, d, now.Hour()+1, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, now.Hour(), 30, 0, 0, loc)
	}
}

func Generate(booked BookedSet, now time.Time, opts Options) Grid {
	o := opts.withDefaults()
	loc := now.Location()
	y, m, d := now.Date()

	grid := make(Grid, 0, o.Days)
	for i := 0; i < o.Days; i++ {
		day := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		end := time.Date(day.Year(), day.Month(), day.Day(), o.CloseHour, 0, 0, 0, loc)

		cur := time.Date(day.Year(), day.Month(), day.Day(), o.OpenHour, 0, 0, 0, loc)
		if i == 0 {
			cur = firstStart(now, o)
		}

		key := DateKey(day)
		slots := make([]Slot, 0)
		for ; cur.Before(end); cur = cur.Add(o.Step) {
			label := Label(cur)
			slots = append(slots, Slot{
				Datetime:  cur,
				Time:      label,
				Available: !booked.Has(key, label),
			})
		}

		grid = append(grid, Day{Key: key, Date: ISODate(day), Slots: slots})
	}
	return grid
}

// ForDoctor generates the grid for a doctor's own booked set plus any extra
// bookings known locally. A nil doctor yields an empty grid.
func ForDoctor(doc *appointment.Doctor, extra BookedSet, now time.Time, opts Options) Grid {
	if doc == nil || doc.ID <= 0 {
		return Grid{}
	}
	return Generate(Merge(doc.SlotsBooked, extra), now, opts)
}

// Find looks up a slot by date (either key format) and time label.
func (g Grid) Find(date, label string) (Slot, bool) {
	want := normalizeLabel(label)
	for _, day := range g {
		if day.Key != date && day.Date != date {
			continue
		}
		for _, s := range day.Slots {
			if normalizeLabel(s.Time) == want {
				return s, true
			}
		}
	}
	return Slot{}, false
}

// AvailableCount counts open slots across all days.
func (g Grid) AvailableCount() int {
	n := 0
	for _, day := range g {
		for _, s := range day.Slots {
			if s.Available {
				n++
			}
		}
	}
	return n
}
