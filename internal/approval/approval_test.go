package approval

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-sync/internal/appointment"
	"github.com/hackgods/appointment-sync/internal/clinicapi"
	"github.com/hackgods/appointment-sync/internal/clinicapi/clinicapitest"
	"github.com/hackgods/appointment-sync/internal/counters"
	"github.com/hackgods/appointment-sync/internal/events"
)

type fixture struct {
	srv      *clinicapitest.Server
	proj     *appointment.Projection
	counters *counters.Cache
	client   *clinicapi.Client
}

func newFixture(t *testing.T, recs ...appointment.Record) fixture {
	t.Helper()
	srv := clinicapitest.New(t)
	srv.AddToken("adm", clinicapitest.Identity{Role: clinicapi.RoleAdmin})
	srv.AddToken("doc", clinicapitest.Identity{Role: clinicapi.RoleDoctor, DoctorID: 7})
	srv.AddToken("pat", clinicapitest.Identity{Role: clinicapi.RolePatient, Email: "asha@example.com"})
	for _, rec := range recs {
		srv.Seed(rec)
	}

	proj := appointment.NewProjection()
	proj.Replace(recs)

	cache := counters.NewCache(counters.NewMemoryStore(), "admin", zerolog.Nop())
	require.NoError(t, cache.Refresh(context.Background(), counters.Compute(nil, recs, nil)))

	return fixture{
		srv:      srv,
		proj:     proj,
		counters: cache,
		client:   clinicapi.New(srv.URL, 2*time.Second, zerolog.Nop(), nil),
	}
}

func (fx fixture) flow(role clinicapi.Role, cred string) *Flow {
	return NewFlow(fx.client, Config{
		Role:       role,
		Credential: cred,
		Projection: fx.proj,
		Counters:   fx.counters,
	}, zerolog.Nop(), nil)
}

func pending(id int64) appointment.Record {
	return appointment.Record{ID: id, DoctorID: 7, Status: appointment.StatusPending}
}

func TestApprove(t *testing.T) {
	fx := newFixture(t, pending(1))

	require.NoError(t, fx.flow(clinicapi.RoleDoctor, "doc").Approve(context.Background(), 1))

	rec, _ := fx.proj.Get(1)
	assert.Equal(t, appointment.StatusApproved, rec.Status)
	assert.Equal(t, int64(0), fx.counters.Get().Pending)
	assert.Equal(t, 1, fx.srv.Hits("PUT /api/appointments/{id}/status"))
}

func TestApproveFailureLeavesStateUntouched(t *testing.T) {
	fx := newFixture(t, pending(1))
	fx.srv.Fail("status", 1, http.StatusForbidden, "Not authorized to update this appointment")

	err := fx.flow(clinicapi.RoleAdmin, "adm").Approve(context.Background(), 1)
	var rerr *clinicapi.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "Not authorized to update this appointment", rerr.Message)

	rec, _ := fx.proj.Get(1)
	assert.Equal(t, appointment.StatusPending, rec.Status)
	assert.Equal(t, int64(1), fx.counters.Get().Pending)
}

func TestApproveThenRejectFailsClosed(t *testing.T) {
	fx := newFixture(t, pending(1))
	f := fx.flow(clinicapi.RoleAdmin, "adm")

	require.NoError(t, f.Approve(context.Background(), 1))
	err := f.Reject(context.Background(), 1)
	require.ErrorIs(t, err, appointment.ErrInvalidStatusTransition)
	assert.Equal(t, 1, fx.srv.Hits("PUT /api/admin/appointments/{id}/status"), "no network call for an illegal transition")
}

func TestRolesAreEnforced(t *testing.T) {
	fx := newFixture(t, pending(1))

	require.ErrorIs(t, fx.flow(clinicapi.RolePatient, "pat").Approve(context.Background(), 1), ErrForbidden)
	require.ErrorIs(t, fx.flow(clinicapi.RoleDoctor, "doc").Cancel(context.Background(), 1), ErrForbidden)
	require.ErrorIs(t, fx.flow(clinicapi.RoleAdmin, "").Approve(context.Background(), 1), clinicapi.ErrAuthRequired)
	require.ErrorIs(t, fx.flow(clinicapi.RoleAdmin, "adm").Approve(context.Background(), 42), appointment.ErrAppointmentNotFound)
}

func TestApproveAllPartialFailure(t *testing.T) {
	fx := newFixture(t, pending(1), pending(2), pending(3))
	fx.srv.Fail("status", 2, http.StatusInternalServerError, "Optimistic lock failure")

	res, err := fx.flow(clinicapi.RoleAdmin, "adm").ApproveAll(context.Background(), []int64{1, 2, 3})

	var partial *PartialBulkFailure
	require.True(t, errors.As(err, &partial))
	assert.Len(t, partial.Failed, 1)
	assert.Contains(t, partial.Failed, int64(2))
	assert.Equal(t, []int64{1, 3}, res.Approved)

	for id, want := range map[int64]appointment.Status{
		1: appointment.StatusApproved,
		2: appointment.StatusPending,
		3: appointment.StatusApproved,
	} {
		rec, _ := fx.proj.Get(id)
		assert.Equal(t, want, rec.Status, "id %d", id)
	}
	assert.Equal(t, int64(1), fx.counters.Get().Pending)
	assert.Equal(t, 1, fx.proj.PendingCount())
	assert.Equal(t, []int64{2}, PendingIDs(fx.proj))
}

func TestCancelApprovedIsNotResurrected(t *testing.T) {
	rec := appointment.Record{ID: 5, DoctorID: 7, PatientEmail: "asha@example.com", Status: appointment.StatusApproved}
	fx := newFixture(t, rec)

	require.NoError(t, fx.flow(clinicapi.RolePatient, "pat").Cancel(context.Background(), 5))

	late := int64(5)
	fx.proj.ApplyEvent(events.Event{Type: events.TypeAppointmentStatus, ID: &late, Status: "APPROVED"})

	got, _ := fx.proj.Get(5)
	assert.Equal(t, appointment.StatusCancelled, got.Status)
	st, _ := fx.srv.Status(5)
	assert.Equal(t, appointment.StatusCancelled, st)
}

func TestClosedSessionDiscardsResult(t *testing.T) {
	fx := newFixture(t, pending(1))
	f := NewFlow(fx.client, Config{
		Role:       clinicapi.RoleAdmin,
		Credential: "adm",
		Projection: fx.proj,
		Closed:     func() bool { return true },
	}, zerolog.Nop(), nil)

	require.NoError(t, f.Approve(context.Background(), 1))
	rec, _ := fx.proj.Get(1)
	assert.Equal(t, appointment.StatusPending, rec.Status)
}

func TestPartialBulkFailureMessage(t *testing.T) {
	err := &PartialBulkFailure{Failed: map[int64]error{4: errors.New("boom"), 2: errors.New("nope")}}
	assert.Equal(t, "2 appointment(s) could not be approved (2: nope; 4: boom)", err.Error())
}
