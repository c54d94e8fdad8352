package dashboard

import (
	"github.com/hackgods/appointment-sync/internal/appointment"
	"github.com/hackgods/appointment-sync/internal/events"
	"github.com/hackgods/appointment-sync/internal/notifications"
)

// countsTowardCounters decides whether an event the projection has just
// seen should also move the aggregate counters. A record already moved off
// PENDING by a local mutation has been counted once; the echo of that
// mutation on the push channel must not count it again.
func countsTowardCounters(ev events.Event, ch appointment.Change) bool {
	switch ev.Type {
	case events.TypeAppointmentBooked:
		return ch.Inserted
	case events.TypeAppointmentStatus, events.TypeAppointmentCancelled:
		if ch.Known {
			return ch.LeftPending()
		}
		// not in view, counted as the event says
		return true
	case events.TypePatientRegistered:
		return true
	}
	return false
}

// statusNotice renders what a patient is told when a poll shows one of
// their records changed status.
func statusNotice(before, after appointment.Record) (string, notifications.Kind, bool) {
	if before.Status == after.Status {
		return "", "", false
	}
	switch after.Status {
	case appointment.StatusApproved:
		return notifications.ApprovedMessage(after.Date, after.Time), notifications.KindSuccess, true
	case appointment.StatusRejected:
		return notifications.RejectedMessage(after.Date, after.Time), notifications.KindWarning, true
	case appointment.StatusCancelled:
		return notifications.CancelledMessage(after.Date, after.Time), notifications.KindInfo, true
	}
	return "", "", false
}
