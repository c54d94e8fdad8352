package events

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type discriminates push channel payloads.
type Type string

const (
	TypeAppointmentBooked    Type = "appointment_booked"
	TypeAppointmentStatus    Type = "appointment_status"
	TypeAppointmentCancelled Type = "appointment_cancelled"
	TypePatientRegistered    Type = "patient_registered"
)

var ErrUnknownType = errors.New("unknown event type")

// Event is the union of everything the admin and patient streams emit.
// Optional fields are pointers or zero values, matching the backend's
// sparse maps.
type Event struct {
	Type         Type   `json:"type"`
	ID           *int64 `json:"id,omitempty"`
	Status       string `json:"status,omitempty"`
	Date         string `json:"date,omitempty"`
	Time         string `json:"time,omitempty"`
	DoctorName   string `json:"doctorName,omitempty"`
	DoctorID     *int64 `json:"doctorId,omitempty"`
	Specialty    string `json:"specialty,omitempty"`
	PatientEmail string `json:"patientEmail,omitempty"`
	FullName     string `json:"fullName,omitempty"`
	Email        string `json:"email,omitempty"`
	UpdatedBy    string `json:"updatedBy,omitempty"`
}

func (t Type) Known() bool {
	switch t {
	case TypeAppointmentBooked, TypeAppointmentStatus, TypeAppointmentCancelled, TypePatientRegistered:
		return true
	}
	return false
}

// AppointmentID returns the record id carried by the event, or 0.
func (e Event) AppointmentID() int64 {
	if e.ID == nil {
		return 0
	}
	return *e.ID
}

// NormalizedStatus upper-cases the status payload.
func (e Event) NormalizedStatus() string {
	return strings.ToUpper(strings.TrimSpace(e.Status))
}

// Fingerprint identifies an event by content so replays can be dropped.
func (e Event) Fingerprint() string {
	data, _ := json.Marshal(e)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:12])
}

// Decode parses a single JSON payload. Unknown types return ErrUnknownType
// so callers can skip them without treating them as stream failures.
func Decode(data []byte) (Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Event{}, errors.New("empty event payload")
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if !ev.Type.Known() {
		return ev, fmt.Errorf("%w: %q", ErrUnknownType, ev.Type)
	}
	return ev, nil
}
