package appointment

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatientSourceNormalize(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "42",
		"status": "pending",
		"slotDate": "15_6_2025",
		"slotTime": "10:30 AM",
		"docData": {"id": 7, "name": "Dr. Rao", "speciality": "Cardiology", "fees": "650"},
		"patient": {"id": 3, "fullName": "Asha K", "email": "asha@example.com"}
	}`)

	rec, err := PatientSource.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.ID)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, int64(7), rec.DoctorID)
	assert.Equal(t, "Dr. Rao", rec.DoctorName)
	assert.Equal(t, "Cardiology", rec.Specialty)
	assert.Equal(t, "Asha K", rec.PatientName)
	assert.Equal(t, "15_6_2025", rec.Date)
	assert.Equal(t, "10:30 AM", rec.Time)
	require.NotNil(t, rec.Fee)
	assert.Equal(t, 650.0, *rec.Fee)
}

func TestPatientSourceFallsBackToDoctor(t *testing.T) {
	raw := json.RawMessage(`{"id": 5, "status": "APPROVED", "date": "2025-06-15", "time": "11:00 AM",
		"doctor": {"id": 2, "fullName": "Dr. Mehta", "speciality": "ENT", "fee": 300}}`)

	rec, err := PatientSource.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "Dr. Mehta", rec.DoctorName)
	assert.Equal(t, "ENT", rec.Specialty)
	assert.Equal(t, "2025-06-15", rec.Date)
	assert.Equal(t, defaultPatientName, rec.PatientName)
	require.NotNil(t, rec.Fee)
	assert.Equal(t, 300.0, *rec.Fee)
}

func TestDoctorSourceNormalize(t *testing.T) {
	raw := json.RawMessage(`{"id": 9, "status": "CONFIRMED", "date": "16_6_2025", "time": "04:00 PM",
		"patientName": "Ravi"}`)

	rec, err := DoctorSource.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, rec.Status)
	assert.Equal(t, "Ravi", rec.PatientName)
	assert.Equal(t, defaultDoctorName, rec.DoctorName)
	assert.Nil(t, rec.Fee)
}

func TestAdminSourceFlattenedNames(t *testing.T) {
	raw := json.RawMessage(`{"id": 11, "status": "REJECTED", "appointmentDate": "17_6_2025",
		"appointmentTime": "12:30 PM", "doctorName": "Dr. Iyer", "patientName": "Meera",
		"specialty": "Dermatology", "doctorId": "4"}`)

	rec, err := AdminSource.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rec.DoctorID)
	assert.Equal(t, "Dr. Iyer", rec.DoctorName)
	assert.Equal(t, "Meera", rec.PatientName)
	assert.Equal(t, "Dermatology", rec.Specialty)
	assert.Equal(t, "17_6_2025", rec.Date)
	assert.Equal(t, "12:30 PM", rec.Time)
}

func TestNormalizeRejectsMissingID(t *testing.T) {
	_, err := AdminSource.Normalize(json.RawMessage(`{"status": "PENDING"}`))
	require.ErrorIs(t, err, ErrMissingID)

	_, err = AdminSource.Normalize(json.RawMessage(`{"id": 3, "status": "LOST"}`))
	require.Error(t, err)
}

func TestNormalizeList(t *testing.T) {
	body := []byte(`{"appointments": [
		{"id": 1, "status": "PENDING", "date": "15_6_2025", "time": "10:00 AM"},
		{"status": "PENDING"},
		{"id": 2, "status": "CANCELLED", "date": "15_6_2025", "time": "10:30 AM"}
	]}`)

	recs, err := NormalizeList(DoctorSource, body)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMissingID)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0].ID)
	assert.Equal(t, int64(2), recs[1].ID)

	recs, err = NormalizeList(DoctorSource, []byte(`[{"id": 3, "status": "APPROVED"}]`))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	recs, err = NormalizeList(DoctorSource, []byte(`null`))
	require.NoError(t, err)
	assert.Empty(t, recs)
}
