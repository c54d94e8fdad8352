package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-sync/internal/appointment"
	"github.com/hackgods/appointment-sync/internal/booking"
	"github.com/hackgods/appointment-sync/internal/clinicapi"
	"github.com/hackgods/appointment-sync/internal/clinicapi/clinicapitest"
	"github.com/hackgods/appointment-sync/internal/counters"
	"github.com/hackgods/appointment-sync/internal/dashboard"
	"github.com/hackgods/appointment-sync/internal/directory"
	"github.com/hackgods/appointment-sync/internal/notifications"
	"github.com/hackgods/appointment-sync/internal/observability/metrics"
	"github.com/hackgods/appointment-sync/internal/payment"
	redisclient "github.com/hackgods/appointment-sync/internal/redis"
)

type testEnv struct {
	srv    *clinicapitest.Server
	mr     *miniredis.Miniredis
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	srv := clinicapitest.New(t)
	srv.AddDoctor(appointment.Doctor{ID: 7, Name: "Dr. Rao", Specialty: "Cardiology", Fee: 650, Available: true})
	srv.AddToken("pat", clinicapitest.Identity{Role: clinicapi.RolePatient, Email: "asha@example.com", Name: "Asha"})
	srv.AddToken("doc", clinicapitest.Identity{Role: clinicapi.RoleDoctor, Email: "rao@clinic.io", DoctorID: 7})

	logger := zerolog.Nop()
	reg := prometheus.NewRegistry()
	m := metrics.NewSyncMetrics(reg)
	client := clinicapi.New(srv.URL, 2*time.Second, logger, m)

	dir, err := directory.New(client, 16, logger)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hub := dashboard.NewHub(logger, m)
	sessions := dashboard.NewManager(dashboard.Deps{
		Backend:       client,
		CounterStore:  counters.NewRedisStore(rdb),
		Notifications: notifications.NewLog(notifications.NewRedisStore(rdb, time.Hour), 100, time.Hour, logger),
		Payment: payment.NewFlow(payment.Config{
			VPA:           "clinic@icici",
			MerchantName:  "Prime HealthCare",
			Currency:      "INR",
			NetBankingURL: "https://bank.example/",
			QRImageURL:    "/assets/upi-qr.png",
		}, logger),
		PollInterval:    time.Hour,
		RetryMin:        10 * time.Millisecond,
		RetryMax:        50 * time.Millisecond,
		BulkConcurrency: 4,
		Logger:          logger,
		Metrics:         m,
	}, hub, time.Minute)
	t.Cleanup(sessions.CloseAll)

	router := NewRouter(RouterConfig{
		Sessions:  sessions,
		Hub:       hub,
		Booking:   booking.NewFlow(client, dir, redisclient.NewRedisKeyLocker(rdb, time.Second), logger),
		Directory: dir,
		Health: NewHealthHandler(client, nil, PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}), "test", "v0.0.1"),
		Gatherer: reg,
		Logger:   logger,
	})
	return &testEnv{srv: srv, mr: mr, router: router}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Linux; Android 14)")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func tomorrow() string {
	return time.Now().AddDate(0, 0, 1).Format("2006-01-02")
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = e.do(t, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, map[string]string{"backend": "ok", "postgres": "disabled", "redis": "ok"}, ready.Dependencies)

	e.mr.Close()
	rec = e.do(t, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decode[ReadinessResponse](t, rec).Status)

	down := NewHealthHandler(PingFunc(func(context.Context) error { return errors.New("refused") }), nil, nil, "test", "")
	rr := httptest.NewRecorder()
	down.Readiness(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clinic_dashboard_ws_clients")
}

func TestSlots(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/doctors/doc7/slots", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SlotsResponse](t, rec)
	assert.Len(t, resp.Days, 7)
	assert.Positive(t, resp.Available)

	rec = e.do(t, http.MethodGet, "/doctors/nobody/slots", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[SlotsResponse](t, rec).Days)
}

func TestPatientBookingAndPayment(t *testing.T) {
	e := newTestEnv(t)
	day := tomorrow()

	rec := e.do(t, http.MethodPost, "/sessions", "", OpenSessionRequest{Role: "patient", Email: "asha@example.com"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.do(t, http.MethodPost, "/sessions", "pat", OpenSessionRequest{Role: "nurse"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodPost, "/sessions", "pat", OpenSessionRequest{Role: "patient", Email: "asha@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodPost, "/appointments", "", BookRequest{DoctorID: "7", Date: day, Time: "11:00 AM"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.do(t, http.MethodPost, "/appointments", "pat", BookRequest{DoctorID: "7", Date: "someday", Time: "11:00 AM"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodPost, "/appointments", "pat", BookRequest{DoctorID: "abc", Date: day, Time: "11:00 AM"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(t, http.MethodPost, "/appointments", "pat", BookRequest{DoctorID: "doc7", Date: day, Time: "11:00 AM"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Appointment booked successfully", decode[booking.Result](t, rec).Message)

	rec = e.do(t, http.MethodPost, "/appointments", "pat", BookRequest{DoctorID: "doc7", Date: day, Time: "11:00 AM"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var view dashboard.View
	require.Eventually(t, func() bool {
		view = decode[dashboard.View](t, e.do(t, http.MethodGet, "/dashboard", "pat", nil))
		// the refreshed record carries the fee the booked event lacks
		return len(view.Appointments) == 1 && view.Appointments[0].Fee != nil
	}, 2*time.Second, 10*time.Millisecond)
	id := view.Appointments[0].ID

	path := "/appointments/" + strconv.FormatInt(id, 10) + "/payment"
	rec = e.do(t, http.MethodPost, path, "pat", PaymentRequest{Method: "bitcoin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, path, "pat", PaymentRequest{Method: "upi"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	in := decode[payment.Initiation](t, rec)
	assert.True(t, in.OpenDirect)
	assert.True(t, strings.HasPrefix(in.Redirect, "upi://pay?"))
	st, _ := e.srv.Status(id)
	assert.Equal(t, appointment.StatusApproved, st)

	rec = e.do(t, http.MethodGet, "/notifications", "pat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodPost, "/notifications/read", "pat", MarkReadRequest{ID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, http.MethodPost, "/notifications/read", "pat", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDoctorDecisions(t *testing.T) {
	e := newTestEnv(t)
	var ids []int64
	for _, tm := range []string{"10:00 AM", "10:30 AM", "11:00 AM"} {
		ids = append(ids, e.srv.Seed(appointment.Record{DoctorID: 7, PatientEmail: "asha@example.com", Date: "2025-06-20", Time: tm, Status: appointment.StatusPending}))
	}

	rec := e.do(t, http.MethodGet, "/dashboard", "doc", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/sessions", "doc", OpenSessionRequest{Role: "doctor"})
	require.Equal(t, http.StatusCreated, rec.Code)

	approvePath := func(id int64) string { return "/appointments/" + strconv.FormatInt(id, 10) + "/approve" }

	rec = e.do(t, http.MethodPost, approvePath(ids[0]), "doc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusResponse{ID: ids[0], Status: appointment.StatusApproved}, decode[StatusResponse](t, rec))

	rec = e.do(t, http.MethodPost, approvePath(ids[0]), "doc", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/appointments/"+strconv.FormatInt(ids[1], 10)+"/cancel", "doc", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/appointments/x/reject", "doc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	e.srv.Fail("status", ids[2], http.StatusInternalServerError, "Database unavailable")
	rec = e.do(t, http.MethodPost, approvePath(ids[2]), "doc", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Database unavailable", decode[ErrorResponse](t, rec).Details)

	e.srv.Fail("status", ids[2], http.StatusInternalServerError, "Database unavailable")
	rec = e.do(t, http.MethodPost, "/appointments/approve-all", "doc", nil)
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	bulk := decode[BulkResponse](t, rec)
	assert.Equal(t, []int64{ids[1]}, bulk.Approved)
	assert.Equal(t, map[int64]string{ids[2]: "Database unavailable"}, bulk.Failed)

	rec = e.do(t, http.MethodDelete, "/sessions", "doc", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, http.MethodDelete, "/sessions", "doc", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebsocketStreamsViews(t *testing.T) {
	e := newTestEnv(t)
	e.srv.Seed(appointment.Record{DoctorID: 7, PatientEmail: "asha@example.com", Date: "2025-06-20", Time: "10:00 AM", Status: appointment.StatusPending})

	ts := httptest.NewServer(e.router)
	defer ts.Close()

	rec := e.do(t, http.MethodPost, "/sessions", "doc", OpenSessionRequest{Role: "doctor"})
	require.Equal(t, http.StatusCreated, rec.Code)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws?token=doc", nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var v dashboard.View
	require.NoError(t, conn.ReadJSON(&v))
	assert.Equal(t, clinicapi.RoleDoctor, v.Role)
	require.Len(t, v.Appointments, 1)

	rec = e.do(t, http.MethodPost, "/appointments/"+strconv.FormatInt(v.Appointments[0].ID, 10)+"/approve", "doc", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, conn.ReadJSON(&v))
	assert.Equal(t, appointment.StatusApproved, v.Appointments[0].Status)
}
