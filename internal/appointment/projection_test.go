package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-sync/internal/events"
)

func int64p(v int64) *int64 { return &v }

func applied(p *Projection, ev events.Event) bool {
	return p.ApplyEvent(ev).Changed
}

func seeded(recs ...Record) *Projection {
	p := NewProjection()
	p.Replace(recs)
	return p
}

func TestProjectionStatusEventIsIdempotent(t *testing.T) {
	p := seeded(Record{ID: 1, Status: StatusPending})
	ev := events.Event{Type: events.TypeAppointmentStatus, ID: int64p(1), Status: "approved"}

	assert.True(t, applied(p, ev))
	assert.False(t, applied(p, ev))

	rec, ok := p.Get(1)
	require.True(t, ok)
	assert.Equal(t, StatusApproved, rec.Status)
	assert.Equal(t, 0, p.PendingCount())
}

func TestProjectionIgnoresUnknownRecord(t *testing.T) {
	p := seeded(Record{ID: 1, Status: StatusPending})
	assert.False(t, applied(p, events.Event{Type: events.TypeAppointmentCancelled, ID: int64p(99)}))
	assert.False(t, applied(p, events.Event{Type: events.TypeAppointmentStatus, ID: int64p(1), Status: "bogus"}))
	assert.Equal(t, 1, p.Len())
}

func TestProjectionConfirmedCancelIsNotResurrected(t *testing.T) {
	p := seeded(Record{ID: 5, Status: StatusApproved})

	prev, err := p.ConfirmLocal(5, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, prev)

	// A stale status event arriving after the cancel was accepted.
	assert.False(t, applied(p, events.Event{Type: events.TypeAppointmentStatus, ID: int64p(5), Status: "APPROVED"}))

	// A full refresh computed before the cancel landed.
	p.Replace([]Record{{ID: 5, Status: StatusApproved}})

	rec, _ := p.Get(5)
	assert.Equal(t, StatusCancelled, rec.Status)
	assert.Equal(t, OriginConfirmed, p.Origin(5))
}

func TestProjectionOptimisticIsOverwritten(t *testing.T) {
	p := seeded(Record{ID: 3, Status: StatusPending})

	require.NoError(t, p.MarkOptimistic(3, StatusApproved))
	assert.Equal(t, OriginOptimistic, p.Origin(3))

	p.Replace([]Record{{ID: 3, Status: StatusPending}})
	rec, _ := p.Get(3)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, OriginServer, p.Origin(3))
}

func TestProjectionMarkOptimisticChecksTransition(t *testing.T) {
	p := seeded(Record{ID: 3, Status: StatusRejected})
	require.ErrorIs(t, p.MarkOptimistic(3, StatusApproved), ErrInvalidStatusTransition)
	require.ErrorIs(t, p.MarkOptimistic(4, StatusApproved), ErrAppointmentNotFound)
}

func TestProjectionCheck(t *testing.T) {
	p := seeded(Record{ID: 1, Status: StatusApproved})

	_, err := p.Check(1, StatusRejected)
	require.ErrorIs(t, err, ErrInvalidStatusTransition)

	rec, err := p.Check(1, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)

	_, err = p.Check(2, StatusCancelled)
	require.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestProjectionBookedEvents(t *testing.T) {
	p := seeded(Record{ID: 1, DoctorID: 7, Date: "15_6_2025", Time: "10:00 AM", PatientEmail: "a@x.io", Status: StatusPending})

	booked := events.Event{
		Type:         events.TypeAppointmentBooked,
		ID:           int64p(2),
		DoctorID:     int64p(7),
		DoctorName:   "Dr. Rao",
		Date:         "15_6_2025",
		Time:         "10:30 AM",
		PatientEmail: "b@x.io",
	}
	assert.True(t, applied(p, booked))
	assert.False(t, applied(p, booked))
	assert.Equal(t, 2, p.PendingCount())

	// No id: kept as a provisional row until the next refresh.
	anon := booked
	anon.ID = nil
	anon.Time = "11:00 AM"
	assert.True(t, applied(p, anon))
	assert.False(t, applied(p, anon))
	assert.Equal(t, 3, p.PendingCount())

	list := p.List()
	require.Len(t, list, 3)
	assert.True(t, list[0].Provisional())
	assert.Equal(t, int64(2), list[1].ID)
	assert.Equal(t, int64(1), list[2].ID)

	// An anonymous echo of an already known record is not duplicated.
	echo := anon
	echo.Time = "10:00 AM"
	echo.PatientEmail = "a@x.io"
	assert.False(t, applied(p, echo))

	p.Replace([]Record{{ID: 1, Status: StatusPending}, {ID: 2, Status: StatusPending}, {ID: 3, Status: StatusPending}})
	assert.Equal(t, 3, p.Len())
	for _, rec := range p.List() {
		assert.False(t, rec.Provisional())
	}
}

func TestProjectionRebookAfterCancel(t *testing.T) {
	p := seeded(
		Record{ID: 1, DoctorID: 7, Date: "20_6_2025", Time: "10:00 AM", PatientEmail: "asha@x.io", Status: StatusCancelled},
		Record{ID: 2, DoctorID: 7, Date: "20_6_2025", Time: "10:30 AM", PatientEmail: "asha@x.io", Status: StatusRejected},
	)

	for _, tm := range []string{"10:00 AM", "10:30 AM"} {
		ch := p.ApplyEvent(events.Event{
			Type:         events.TypeAppointmentBooked,
			DoctorID:     int64p(7),
			Date:         "20_6_2025",
			Time:         tm,
			PatientEmail: "asha@x.io",
		})
		assert.True(t, ch.Inserted, tm)
		assert.False(t, ch.Known, tm)
	}
	assert.Equal(t, 2, p.PendingCount())
	assert.Equal(t, 4, p.Len())
}

func TestProjectionJournal(t *testing.T) {
	p := seeded(Record{ID: 1, Status: StatusPending}, Record{ID: 2, Status: StatusPending})
	_, err := p.ConfirmLocal(1, StatusRejected)
	require.NoError(t, err)
	require.NoError(t, p.MarkOptimistic(2, StatusApproved))

	j := p.Journal()
	require.Len(t, j, 2)
	assert.Equal(t, OriginConfirmed, j[0].Origin)
	assert.Equal(t, OriginOptimistic, j[1].Origin)
}

func TestProjectionChange(t *testing.T) {
	p := seeded(Record{ID: 1, Status: StatusPending}, Record{ID: 2, Status: StatusApproved})

	ch := p.ApplyEvent(events.Event{Type: events.TypeAppointmentStatus, ID: int64p(1), Status: "REJECTED"})
	assert.True(t, ch.Known)
	assert.True(t, ch.LeftPending())

	ch = p.ApplyEvent(events.Event{Type: events.TypeAppointmentCancelled, ID: int64p(2)})
	assert.True(t, ch.Changed)
	assert.False(t, ch.LeftPending())

	ch = p.ApplyEvent(events.Event{Type: events.TypeAppointmentCancelled, ID: int64p(40)})
	assert.False(t, ch.Known)
	assert.False(t, ch.Changed)
}
