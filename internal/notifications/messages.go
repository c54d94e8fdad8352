package notifications

import (
	"fmt"
	"strings"

	"github.com/hackgods/appointment-sync/internal/events"
)

func ApprovedMessage(date, tm string) string {
	return fmt.Sprintf("Your appointment on %s at %s has been approved by the doctor.", date, tm)
}

func RejectedMessage(date, tm string) string {
	return fmt.Sprintf("Your appointment on %s at %s has been rejected. Please contact the clinic for more information.", date, tm)
}

func CancelledMessage(date, tm string) string {
	return fmt.Sprintf("Your appointment on %s at %s has been cancelled.", date, tm)
}

// FromEvent renders the notification a patient sees for a push event.
// date and tm fill in when the event itself carries none. Events that do
// not concern an appointment's outcome produce nothing.
func FromEvent(ev events.Event, date, tm string) (string, Kind, bool) {
	if ev.Date != "" {
		date = ev.Date
	}
	if ev.Time != "" {
		tm = ev.Time
	}

	switch ev.Type {
	case events.TypeAppointmentStatus:
		status := strings.ToUpper(ev.Status)
		if status == "" {
			return "", "", false
		}
		kind := KindInfo
		switch status {
		case "APPROVED":
			kind = KindSuccess
		case "REJECTED":
			kind = KindWarning
		}
		return fmt.Sprintf("Your appointment on %s at %s is %s.", date, tm, status), kind, true
	case events.TypeAppointmentCancelled:
		return CancelledMessage(date, tm), KindInfo, true
	}
	return "", "", false
}
