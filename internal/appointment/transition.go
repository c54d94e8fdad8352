package appointment

import (
	"errors"
	"fmt"
)

var ErrInvalidStatusTransition = errors.New("invalid status transition")

// PENDING is only ever the initial status and is never a target.
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:  {StatusCancelled},
	StatusRejected:  {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves rec to the target status or fails closed, leaving rec
// untouched.
func Transition(rec *Record, to Status) error {
	if !CanTransition(rec.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, rec.Status, to)
	}
	rec.Status = to
	return nil
}

// DisplayStatus is the patient-facing label. APPROVED reads as confirmed;
// PENDING reads as awaiting payment until a settle-able method moves it on.
func DisplayStatus(s Status) string {
	switch s {
	case StatusPending:
		return "Pending for payment"
	case StatusApproved:
		return "Confirmed"
	case StatusRejected:
		return "Rejected"
	case StatusCancelled:
		return "Appointment cancelled"
	}
	return string(s)
}
