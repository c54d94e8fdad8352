// Package clinicapi is the HTTP client for the clinic backend, which owns
// persistence and auth. Credentials are opaque bearer tokens.
package clinicapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-sync/internal/appointment"
	"github.com/hackgods/appointment-sync/internal/observability/metrics"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
	streamHTTP *http.Client
	logger     zerolog.Logger
	metrics    *metrics.SyncMetrics
}

// New builds a client. A zero timeout uses the default. The push channel
// uses a separate client without an overall timeout.
func New(baseURL string, timeout time.Duration, logger zerolog.Logger, m *metrics.SyncMetrics) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		streamHTTP: &http.Client{},
		logger:     logger.With().Str("component", "clinicapi").Logger(),
		metrics:    m,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Book submits a booking. A 2xx with success=false is still a rejection.
func (c *Client) Book(ctx context.Context, credential string, req BookRequest) (APIResponse, error) {
	if credential == "" {
		return APIResponse{}, ErrAuthRequired
	}
	body, err := c.do(ctx, "book", http.MethodPost, "/api/appointments/book", credential, nil, req)
	if err != nil {
		return APIResponse{}, err
	}

	var resp APIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// Older builds return the created record instead of the envelope.
		return APIResponse{Success: true, Message: "Appointment booked successfully"}, nil
	}
	if !resp.Success && resp.Message != "" {
		return resp, &RemoteError{Status: http.StatusBadRequest, Message: resp.Message}
	}
	resp.Success = true
	return resp, nil
}

// ListAppointments fetches the role-scoped list and normalizes it with the
// matching source. Malformed items are logged and skipped.
func (c *Client) ListAppointments(ctx context.Context, role Role, credential string) ([]appointment.Record, error) {
	if credential == "" {
		return nil, ErrAuthRequired
	}

	var (
		path string
		src  appointment.RawAppointmentSource
	)
	switch role {
	case RolePatient:
		path, src = "/api/appointments/me", appointment.PatientSource
	case RoleDoctor:
		path, src = "/api/appointments/doctor/me", appointment.DoctorSource
	case RoleAdmin:
		path, src = "/api/admin/appointments", appointment.AdminSource
	default:
		return nil, fmt.Errorf("clinicapi: unknown role %q", role)
	}

	body, err := c.do(ctx, "list_"+string(role), http.MethodGet, path, credential, nil, nil)
	if err != nil {
		return nil, err
	}

	records, err := appointment.NormalizeList(src, body)
	if err != nil {
		if records == nil {
			return nil, err
		}
		c.logger.Warn().Err(err).Str("role", string(role)).Msg("dropped malformed appointments")
	}
	return records, nil
}

// Lister binds ListAppointments to one role.
func (c *Client) Lister(role Role) appointment.Lister {
	return appointment.ListerFunc(func(ctx context.Context, credential string) ([]appointment.Record, error) {
		return c.ListAppointments(ctx, role, credential)
	})
}

func (c *Client) Cancel(ctx context.Context, credential string, id int64) error {
	if credential == "" {
		return ErrAuthRequired
	}
	_, err := c.do(ctx, "cancel", http.MethodPut, "/api/appointments/"+strconv.FormatInt(id, 10)+"/cancel", credential, nil, nil)
	return err
}

// UpdateStatus is the doctor-side status mutation.
func (c *Client) UpdateStatus(ctx context.Context, credential string, id int64, status appointment.Status) error {
	return c.updateStatus(ctx, "update_status", "/api/appointments/", credential, id, status)
}

func (c *Client) AdminUpdateStatus(ctx context.Context, credential string, id int64, status appointment.Status) error {
	return c.updateStatus(ctx, "admin_update_status", "/api/admin/appointments/", credential, id, status)
}

func (c *Client) updateStatus(ctx context.Context, op, prefix, credential string, id int64, status appointment.Status) error {
	if credential == "" {
		return ErrAuthRequired
	}
	if status == appointment.StatusPending {
		return fmt.Errorf("%w: PENDING is never set explicitly", appointment.ErrInvalidStatusTransition)
	}
	q := url.Values{"status": {string(status)}}
	_, err := c.do(ctx, op, http.MethodPut, prefix+strconv.FormatInt(id, 10)+"/status", credential, q, nil)
	return err
}

// Doctors lists public doctor reference data.
func (c *Client) Doctors(ctx context.Context) ([]appointment.Doctor, error) {
	return c.doctors(ctx, "doctors", "/api/doctors", "")
}

func (c *Client) AdminDoctors(ctx context.Context, credential string) ([]appointment.Doctor, error) {
	if credential == "" {
		return nil, ErrAuthRequired
	}
	return c.doctors(ctx, "admin_doctors", "/api/admin/doctors", credential)
}

func (c *Client) doctors(ctx context.Context, op, path, credential string) ([]appointment.Doctor, error) {
	body, err := c.do(ctx, op, http.MethodGet, path, credential, nil, nil)
	if err != nil {
		return nil, err
	}
	var raw []rawDoctor
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("clinicapi: decode doctors: %w", err)
	}
	out := make([]appointment.Doctor, 0, len(raw))
	for _, r := range raw {
		if r.ID <= 0 {
			continue
		}
		out = append(out, r.toDoctor())
	}
	return out, nil
}

func (c *Client) AdminUsers(ctx context.Context, credential string) ([]appointment.Patient, error) {
	if credential == "" {
		return nil, ErrAuthRequired
	}
	body, err := c.do(ctx, "admin_users", http.MethodGet, "/api/admin/users", credential, nil, nil)
	if err != nil {
		return nil, err
	}
	var raw []rawPatient
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("clinicapi: decode users: %w", err)
	}
	out := make([]appointment.Patient, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.toPatient())
	}
	return out, nil
}

// OpenEvents opens the role's push channel. The token travels as a query
// parameter because the backend serves it as an EventSource endpoint.
// Doctors have no push channel.
func (c *Client) OpenEvents(ctx context.Context, role Role, credential string) (io.ReadCloser, error) {
	if credential == "" {
		return nil, ErrAuthRequired
	}
	var path string
	switch role {
	case RoleAdmin:
		path = "/api/admin/events"
	case RolePatient:
		path = "/api/patient/events"
	default:
		return nil, fmt.Errorf("clinicapi: no push channel for role %q", role)
	}

	u := c.baseURL + path + "?" + url.Values{"token": {credential}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("clinicapi: create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		c.metrics.ObserveBackend("events_"+string(role), 0, time.Since(start))
		return nil, fmt.Errorf("clinicapi: open events: %w", err)
	}
	c.metrics.ObserveBackend("events_"+string(role), resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, remoteError(resp.StatusCode, body)
	}
	return resp.Body, nil
}

// Ping checks the backend answers at all; any HTTP status counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/doctors", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("clinicapi: backend status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path, credential string, query url.Values, in any) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("clinicapi: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("clinicapi: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveBackend(op, 0, time.Since(start))
		return nil, fmt.Errorf("clinicapi: %s: %w", op, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveBackend(op, resp.StatusCode, time.Since(start))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("clinicapi: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := remoteError(resp.StatusCode, respBody)
		c.logger.Debug().Str("op", op).Int("status", rerr.Status).Str("message", rerr.Message).Msg("backend rejected request")
		return nil, rerr
	}
	return respBody, nil
}
