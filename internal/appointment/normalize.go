package appointment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RawAppointmentSource turns one upstream payload shape into a Record.
// Each backend endpoint gets its own source so the fallback chains stay
// explicit instead of being guessed at every read.
type RawAppointmentSource interface {
	Name() string
	Normalize(raw json.RawMessage) (Record, error)
}

var (
	PatientSource RawAppointmentSource = patientSource{}
	DoctorSource  RawAppointmentSource = doctorSource{}
	AdminSource   RawAppointmentSource = adminSource{}
)

const (
	defaultDoctorName  = "Doctor"
	defaultPatientName = "Patient"
)

// looseNumber accepts JSON numbers and numeric strings.
type looseNumber struct {
	value float64
	ok    bool
}

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		n.value, n.ok = f, true
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	n.value, n.ok = f, true
	return nil
}

func (n *looseNumber) asInt64() (int64, bool) {
	if n == nil || !n.ok || n.value != float64(int64(n.value)) {
		return 0, false
	}
	return int64(n.value), true
}

type rawParty struct {
	ID             *looseNumber `json:"id"`
	FullName       string       `json:"fullName"`
	Name           string       `json:"name"`
	Speciality     string       `json:"speciality"`
	Email          string       `json:"email"`
	Fees           *looseNumber `json:"fees"`
	Fee            *looseNumber `json:"fee"`
	AppointmentFee *looseNumber `json:"appointmentFee"`
}

type rawAppointment struct {
	ID              *looseNumber `json:"id"`
	Status          string       `json:"status"`
	Date            string       `json:"date"`
	Time            string       `json:"time"`
	SlotDate        string       `json:"slotDate"`
	SlotTime        string       `json:"slotTime"`
	AppointmentDate string       `json:"appointmentDate"`
	AppointmentTime string       `json:"appointmentTime"`
	DoctorName      string       `json:"doctorName"`
	PatientName     string       `json:"patientName"`
	Specialty       string       `json:"specialty"`
	DoctorID        *looseNumber `json:"doctorId"`
	Doctor          *rawParty    `json:"doctor"`
	DocData         *rawParty    `json:"docData"`
	Patient         *rawParty    `json:"patient"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (p *rawParty) id() int64 {
	if p == nil {
		return 0
	}
	id, _ := p.ID.asInt64()
	return id
}

func (p *rawParty) fee() *float64 {
	if p == nil {
		return nil
	}
	for _, n := range []*looseNumber{p.Fees, p.Fee, p.AppointmentFee} {
		if n != nil && n.ok {
			v := n.value
			return &v
		}
	}
	return nil
}

func (p *rawParty) displayName() string {
	if p == nil {
		return ""
	}
	return firstNonEmpty(p.Name, p.FullName)
}

func (p *rawParty) fullName() string {
	if p == nil {
		return ""
	}
	return firstNonEmpty(p.FullName, p.Name)
}

func (p *rawParty) speciality() string {
	if p == nil {
		return ""
	}
	return p.Speciality
}

func (p *rawParty) email() string {
	if p == nil {
		return ""
	}
	return p.Email
}

func decodeRaw(raw json.RawMessage) (rawAppointment, Record, error) {
	var r rawAppointment
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, Record{}, fmt.Errorf("decode appointment: %w", err)
	}

	id, ok := r.ID.asInt64()
	if !ok || id <= 0 {
		return r, Record{}, ErrMissingID
	}

	status, ok := ParseStatus(r.Status)
	if !ok {
		return r, Record{}, fmt.Errorf("appointment %d: unknown status %q", id, r.Status)
	}

	return r, Record{ID: id, Status: status}, nil
}

type patientSource struct{}

func (patientSource) Name() string { return "patient" }

// Normalize handles GET /api/appointments/me. Older builds nest the doctor
// under docData and use slotDate/slotTime.
func (patientSource) Normalize(raw json.RawMessage) (Record, error) {
	r, rec, err := decodeRaw(raw)
	if err != nil {
		return Record{}, err
	}

	doc := r.DocData
	if doc == nil {
		doc = r.Doctor
	}

	rec.DoctorID = doc.id()
	rec.DoctorName = firstNonEmpty(r.DocData.displayName(), r.Doctor.displayName(), defaultDoctorName)
	rec.Specialty = firstNonEmpty(doc.speciality(), r.Doctor.speciality())
	rec.PatientID = r.Patient.id()
	rec.PatientName = firstNonEmpty(r.Patient.fullName(), defaultPatientName)
	rec.PatientEmail = r.Patient.email()
	rec.Date = firstNonEmpty(r.SlotDate, r.Date)
	rec.Time = firstNonEmpty(r.SlotTime, r.Time)
	rec.Fee = r.DocData.fee()
	if rec.Fee == nil {
		rec.Fee = r.Doctor.fee()
	}
	return rec, nil
}

type doctorSource struct{}

func (doctorSource) Name() string { return "doctor" }

// Normalize handles GET /api/appointments/doctor/me.
func (doctorSource) Normalize(raw json.RawMessage) (Record, error) {
	r, rec, err := decodeRaw(raw)
	if err != nil {
		return Record{}, err
	}

	rec.DoctorID = r.Doctor.id()
	rec.DoctorName = firstNonEmpty(r.Doctor.displayName(), defaultDoctorName)
	rec.Specialty = r.Doctor.speciality()
	rec.PatientID = r.Patient.id()
	rec.PatientName = firstNonEmpty(r.Patient.fullName(), r.PatientName, defaultPatientName)
	rec.PatientEmail = r.Patient.email()
	rec.Date = r.Date
	rec.Time = r.Time
	rec.Fee = r.Doctor.fee()
	return rec, nil
}

type adminSource struct{}

func (adminSource) Name() string { return "admin" }

// Normalize handles GET /api/admin/appointments, which serializes the raw
// entity and sometimes flattens names onto the appointment itself.
func (adminSource) Normalize(raw json.RawMessage) (Record, error) {
	r, rec, err := decodeRaw(raw)
	if err != nil {
		return Record{}, err
	}

	rec.DoctorID = r.Doctor.id()
	if rec.DoctorID == 0 {
		rec.DoctorID, _ = r.DoctorID.asInt64()
	}
	rec.DoctorName = firstNonEmpty(r.Doctor.fullName(), r.DoctorName, defaultDoctorName)
	rec.Specialty = firstNonEmpty(r.Doctor.speciality(), r.Specialty)
	rec.PatientID = r.Patient.id()
	rec.PatientName = firstNonEmpty(r.Patient.fullName(), r.PatientName, defaultPatientName)
	rec.PatientEmail = r.Patient.email()
	rec.Date = firstNonEmpty(r.Date, r.AppointmentDate)
	rec.Time = firstNonEmpty(r.Time, r.AppointmentTime)
	rec.Fee = r.Doctor.fee()
	return rec, nil
}

// NormalizeList decodes a list body, either a bare array or an object with
// an "appointments" array. Items that fail to normalize are dropped; their
// errors are joined and returned next to the records that did.
func NormalizeList(src RawAppointmentSource, body []byte) ([]Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}

	var items []json.RawMessage
	if body[0] == '{' {
		var wrapped struct {
			Appointments []json.RawMessage `json:"appointments"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("decode %s appointment list: %w", src.Name(), err)
		}
		items = wrapped.Appointments
	} else if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode %s appointment list: %w", src.Name(), err)
	}

	records := make([]Record, 0, len(items))
	var errs []error
	for i, item := range items {
		rec, err := src.Normalize(item)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s item %d: %w", src.Name(), i, err))
			continue
		}
		records = append(records, rec)
	}
	return records, errors.Join(errs...)
}
