package clinicapi

import "github.com/hackgods/appointment-sync/internal/appointment"

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return r, true
	}
	return "", false
}

// BookRequest is the booking body. Date is yyyy-MM-dd.
type BookRequest struct {
	DoctorID int64  `json:"doctorId"`
	Date     string `json:"date"`
	Time     string `json:"time"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type rawDoctor struct {
	ID          int64               `json:"id"`
	FullName    string              `json:"fullName"`
	Name        string              `json:"name"`
	Speciality  string              `json:"speciality"`
	Email       string              `json:"email"`
	Fees        *float64            `json:"fees"`
	Available   bool                `json:"available"`
	SlotsBooked map[string][]string `json:"slots_booked"`
}

func (r rawDoctor) toDoctor() appointment.Doctor {
	d := appointment.Doctor{
		ID:          r.ID,
		Name:        firstNonEmpty(r.FullName, r.Name, "Doctor"),
		Specialty:   r.Speciality,
		Email:       r.Email,
		Available:   r.Available,
		SlotsBooked: r.SlotsBooked,
	}
	if r.Fees != nil {
		d.Fee = *r.Fees
	}
	return d
}

type rawPatient struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Status   string `json:"status"`
}

func (r rawPatient) toPatient() appointment.Patient {
	return appointment.Patient{
		ID:     r.ID,
		Name:   firstNonEmpty(r.FullName, "Patient"),
		Email:  r.Email,
		Status: r.Status,
	}
}
