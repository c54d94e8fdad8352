package appointment

import (
	"strings"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// ParseStatus accepts any casing. Legacy payloads use CONFIRMED for an
// approved visit.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING":
		return StatusPending, true
	case "APPROVED", "CONFIRMED":
		return StatusApproved, true
	case "REJECTED":
		return StatusRejected, true
	case "CANCELLED", "CANCELED":
		return StatusCancelled, true
	}
	return "", false
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled
}

type Doctor struct {
	ID          int64               `json:"id"`
	Name        string              `json:"name"`
	Specialty   string              `json:"specialty"`
	Email       string              `json:"email,omitempty"`
	Fee         float64             `json:"fee"`
	Available   bool                `json:"available"`
	SlotsBooked map[string][]string `json:"slotsBooked,omitempty"`
}

type Patient struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Status string `json:"status,omitempty"` // registration approval
}

// Record is the local mirror of a backend appointment. ID is always the
// backend's; a zero ID marks a provisional row seen only through a push
// event that carried no identity.
type Record struct {
	ID           int64    `json:"id"`
	DoctorID     int64    `json:"doctorId,omitempty"`
	DoctorName   string   `json:"doctorName"`
	Specialty    string   `json:"specialty,omitempty"`
	PatientID    int64    `json:"patientId,omitempty"`
	PatientName  string   `json:"patientName"`
	PatientEmail string   `json:"patientEmail,omitempty"`
	Date         string   `json:"date"`
	Time         string   `json:"time"`
	Status       Status   `json:"status"`
	Fee          *float64 `json:"fee,omitempty"`
}

// Provisional reports whether the record has no backend identity yet.
func (r Record) Provisional() bool {
	return r.ID == 0
}

// HasFee reports whether a positive fee snapshot is present.
func (r Record) HasFee() bool {
	return r.Fee != nil && *r.Fee > 0
}

// Live reports whether the record still occupies its slot.
func (r Record) Live() bool {
	return r.Status == StatusPending || r.Status == StatusApproved
}
