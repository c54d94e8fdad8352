// Package dashboard holds one live view per signed-in user: the appointment
// projection, the admin counters and the patient notification log, kept in
// step with the backend by a realtime bridge.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/appointment-sync/internal/appointment"
	"github.com/hackgods/appointment-sync/internal/approval"
	"github.com/hackgods/appointment-sync/internal/clinicapi"
	"github.com/hackgods/appointment-sync/internal/counters"
	"github.com/hackgods/appointment-sync/internal/events"
	"github.com/hackgods/appointment-sync/internal/notifications"
	"github.com/hackgods/appointment-sync/internal/observability/metrics"
	"github.com/hackgods/appointment-sync/internal/payment"
	"github.com/hackgods/appointment-sync/internal/realtime"
)

// Backend is everything a session reads from or writes to the clinic
// backend.
type Backend interface {
	approval.Backend
	ListAppointments(ctx context.Context, role clinicapi.Role, credential string) ([]appointment.Record, error)
	AdminDoctors(ctx context.Context, credential string) ([]appointment.Doctor, error)
	AdminUsers(ctx context.Context, credential string) ([]appointment.Patient, error)
	OpenEvents(ctx context.Context, role clinicapi.Role, credential string) (io.ReadCloser, error)
}

type Identity struct {
	Role       clinicapi.Role
	Credential string
	Email      string // patient sessions only
}

// Deps are shared by every session a manager opens.
type Deps struct {
	Backend         Backend
	CounterStore    counters.Store
	Notifications   *notifications.Log
	Payment         *payment.Flow
	PollInterval    time.Duration
	RetryMin        time.Duration
	RetryMax        time.Duration
	BulkConcurrency int
	Logger          zerolog.Logger
	Metrics         *metrics.SyncMetrics
}

// Row is a record with the labels the dashboard renders next to it.
type Row struct {
	appointment.Record
	StatusLabel string `json:"statusLabel"`
	FeeLabel    string `json:"feeLabel"`
}

const feeSymbol = "₹"

// View is what a dashboard renders.
type View struct {
	SessionID    string             `json:"sessionId"`
	Role         clinicapi.Role     `json:"role"`
	Appointments []Row              `json:"appointments"`
	PendingCount int                `json:"pendingCount"`
	Counters     *counters.Counters `json:"counters,omitempty"`
	Unread       int                `json:"unreadNotifications"`
	RefreshedAt  *time.Time         `json:"refreshedAt,omitempty"`
}

type Session struct {
	ID       string
	identity Identity
	deps     Deps
	logger   zerolog.Logger

	proj     *appointment.Projection
	counters *counters.Cache
	approval *approval.Flow
	bridge   *realtime.Bridge
	views    *events.Dispatcher[View]

	refreshMu sync.Mutex // one full refresh at a time

	mu          sync.Mutex
	closed      bool
	baselined   bool
	refreshedAt time.Time
	lastUsed    time.Time
}

func NewSession(id Identity, deps Deps) (*Session, error) {
	if id.Credential == "" {
		return nil, clinicapi.ErrAuthRequired
	}
	switch id.Role {
	case clinicapi.RolePatient:
		if id.Email == "" {
			return nil, errors.New("dashboard: patient session needs an email")
		}
	case clinicapi.RoleDoctor, clinicapi.RoleAdmin:
	default:
		return nil, fmt.Errorf("dashboard: unknown role %q", id.Role)
	}

	s := &Session{
		ID:       uuid.NewString(),
		identity: id,
		deps:     deps,
		proj:     appointment.NewProjection(),
		views:    events.NewDispatcher[View](),
		lastUsed: time.Now(),
	}
	s.logger = deps.Logger.With().Str("component", "dashboard").Str("session", s.ID).Str("role", string(id.Role)).Logger()

	var pending approval.PendingCounter
	if id.Role == clinicapi.RoleAdmin {
		store := deps.CounterStore
		if store == nil {
			store = counters.NewMemoryStore()
		}
		s.counters = counters.NewCache(store, "admin", s.logger)
		pending = s.counters
	}

	s.approval = approval.NewFlow(deps.Backend, approval.Config{
		Role:        id.Role,
		Credential:  id.Credential,
		Projection:  s.proj,
		Counters:    pending,
		Concurrency: deps.BulkConcurrency,
		Closed:      s.Closed,
	}, s.logger, deps.Metrics)

	opts := realtime.Options{
		Role:     string(id.Role),
		Refresh:  s.refresh,
		RetryMin: deps.RetryMin,
		RetryMax: deps.RetryMax,
	}
	switch id.Role {
	case clinicapi.RolePatient:
		opts.Open = s.openEvents
		opts.PollInterval = deps.PollInterval
		opts.Filter = s.ownEvent
	case clinicapi.RoleDoctor:
		opts.PollInterval = deps.PollInterval
	case clinicapi.RoleAdmin:
		opts.Open = s.openEvents
	}
	bridge, err := realtime.NewBridge(opts, s.logger, deps.Metrics)
	if err != nil {
		return nil, err
	}
	s.bridge = bridge
	s.bridge.Subscribe(s.apply)
	return s, nil
}

// Start loads cached counters, runs the first refresh and starts the
// bridge. A failed first refresh is logged; the bridge retries.
func (s *Session) Start(ctx context.Context) {
	if s.counters != nil {
		if err := s.counters.Load(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("counter cold start failed")
		}
	}
	if s.identity.Role == clinicapi.RolePatient && s.deps.Notifications != nil {
		if n, err := s.deps.Notifications.Prune(ctx, s.identity.Email); err != nil {
			s.logger.Warn().Err(err).Msg("prune notifications failed")
		} else if n > 0 {
			s.logger.Debug().Int("removed", n).Msg("pruned stale notifications")
		}
	}
	if s.identity.Role == clinicapi.RoleDoctor {
		if err := s.bridge.Refresh(ctx, "open"); err != nil {
			s.logger.Warn().Err(err).Msg("initial refresh failed")
		}
	}
	// push roles refresh as soon as the channel connects
	s.bridge.Start(context.WithoutCancel(ctx))
	s.deps.Metrics.SessionOpened(string(s.identity.Role))
}

func (s *Session) Role() clinicapi.Role { return s.identity.Role }

func (s *Session) Email() string { return s.identity.Email }

func (s *Session) openEvents(ctx context.Context) (io.ReadCloser, error) {
	return s.deps.Backend.OpenEvents(ctx, s.identity.Role, s.identity.Credential)
}

func (s *Session) ownEvent(ev events.Event) bool {
	if ev.Type == events.TypePatientRegistered {
		return false
	}
	return ev.PatientEmail == "" || strings.EqualFold(ev.PatientEmail, s.identity.Email)
}

// refresh replaces the projection with what the backend says now. Results
// that arrive after Close are dropped.
func (s *Session) refresh(ctx context.Context, trigger string) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	var (
		records  []appointment.Record
		doctors  []appointment.Doctor
		patients []appointment.Patient
	)
	if s.identity.Role == clinicapi.RoleAdmin {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			records, err = s.deps.Backend.ListAppointments(gctx, s.identity.Role, s.identity.Credential)
			return err
		})
		g.Go(func() (err error) {
			doctors, err = s.deps.Backend.AdminDoctors(gctx, s.identity.Credential)
			return err
		})
		g.Go(func() (err error) {
			patients, err = s.deps.Backend.AdminUsers(gctx, s.identity.Credential)
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		var err error
		records, err = s.deps.Backend.ListAppointments(ctx, s.identity.Role, s.identity.Credential)
		if err != nil {
			return err
		}
	}

	if s.Closed() {
		return realtime.ErrBridgeClosed
	}

	var before map[int64]appointment.Record
	if s.identity.Role == clinicapi.RolePatient {
		before = make(map[int64]appointment.Record)
		for _, rec := range s.proj.List() {
			before[rec.ID] = rec
		}
	}
	s.proj.Replace(records)

	if s.counters != nil {
		if err := s.counters.Refresh(ctx, counters.Compute(doctors, records, patients)); err != nil {
			s.logger.Warn().Err(err).Msg("persist counters failed")
		}
	}

	s.mu.Lock()
	first := !s.baselined
	s.baselined = true
	s.refreshedAt = time.Now().UTC()
	s.mu.Unlock()

	if before != nil && !first {
		for _, rec := range records {
			prev, ok := before[rec.ID]
			if !ok {
				continue
			}
			if msg, kind, ok := statusNotice(prev, rec); ok {
				s.notify(ctx, msg, kind)
			}
		}
	}

	s.logger.Debug().Str("trigger", trigger).Int("records", len(records)).Msg("refreshed")
	s.publish(ctx)
	return nil
}

// apply reduces one push event into the session.
func (s *Session) apply(ev events.Event) {
	if s.Closed() {
		return
	}
	var before appointment.Record
	if id := ev.AppointmentID(); id > 0 {
		before, _ = s.proj.Get(id)
	}

	ch := s.proj.ApplyEvent(ev)
	changed := ch.Changed
	if s.counters != nil && countsTowardCounters(ev, ch) {
		if s.counters.ApplyEvent(ev) {
			changed = true
		}
	}
	s.deps.Metrics.ObserveEvent(string(s.identity.Role), string(ev.Type), changed)

	ctx := context.Background()
	if s.identity.Role == clinicapi.RolePatient && ch.Changed && ch.Known {
		if msg, kind, ok := notifications.FromEvent(ev, before.Date, before.Time); ok {
			s.notify(ctx, msg, kind)
		}
	}
	if changed {
		s.publish(ctx)
	}
}

func (s *Session) notify(ctx context.Context, msg string, kind notifications.Kind) {
	if s.deps.Notifications == nil {
		return
	}
	if _, err := s.deps.Notifications.Add(ctx, s.identity.Email, msg, kind); err != nil {
		s.logger.Warn().Err(err).Msg("record notification failed")
	}
}

// View returns the current dashboard state.
func (s *Session) View(ctx context.Context) View {
	s.touch()
	snap := s.proj.Snapshot()
	v := View{
		SessionID:    s.ID,
		Role:         s.identity.Role,
		Appointments: make([]Row, 0, len(snap.Records)),
		PendingCount: snap.PendingCount,
	}
	for _, rec := range snap.Records {
		v.Appointments = append(v.Appointments, Row{
			Record:      rec,
			StatusLabel: appointment.DisplayStatus(rec.Status),
			FeeLabel:    payment.FeeLabel(rec, feeSymbol),
		})
	}
	if s.counters != nil {
		c := s.counters.Get()
		v.Counters = &c
	}
	if s.identity.Role == clinicapi.RolePatient && s.deps.Notifications != nil {
		n, err := s.deps.Notifications.UnreadCount(ctx, s.identity.Email)
		if err != nil {
			s.logger.Warn().Err(err).Msg("count unread notifications failed")
		}
		v.Unread = n
	}
	s.mu.Lock()
	if !s.refreshedAt.IsZero() {
		at := s.refreshedAt
		v.RefreshedAt = &at
	}
	s.mu.Unlock()
	return v
}

// Subscribe registers fn for every view change.
func (s *Session) Subscribe(fn func(View)) (unsubscribe func()) {
	return s.views.Subscribe(fn)
}

func (s *Session) publish(ctx context.Context) {
	if s.views.Len() == 0 {
		return
	}
	s.views.Dispatch(s.View(ctx))
}

// Focus asks for an immediate refresh, as when the window regains focus.
func (s *Session) Focus(ctx context.Context) {
	s.touch()
	s.bridge.Trigger(ctx)
}

// Refresh runs a full refresh now and waits for it.
func (s *Session) Refresh(ctx context.Context) error {
	s.touch()
	return s.bridge.Refresh(ctx, "manual")
}

func (s *Session) Approve(ctx context.Context, id int64) error {
	s.touch()
	err := s.approval.Approve(ctx, id)
	if err == nil {
		s.publish(ctx)
	}
	return err
}

func (s *Session) Reject(ctx context.Context, id int64) error {
	s.touch()
	err := s.approval.Reject(ctx, id)
	if err == nil {
		s.publish(ctx)
	}
	return err
}

func (s *Session) Cancel(ctx context.Context, id int64) error {
	s.touch()
	err := s.approval.Cancel(ctx, id)
	if err == nil {
		s.publish(ctx)
	}
	return err
}

// ApproveAll approves every PENDING record currently in view.
func (s *Session) ApproveAll(ctx context.Context) (approval.BulkResult, error) {
	s.touch()
	res, err := s.approval.ApproveAll(ctx, approval.PendingIDs(s.proj))
	if len(res.Approved) > 0 {
		s.publish(ctx)
	}
	return res, err
}

// PayAndAdvance starts a payment and, once the method is initiated, moves a
// PENDING record to APPROVED ahead of the backend. The backend call that
// follows may fail; the next refresh then restores the server's status.
func (s *Session) PayAndAdvance(ctx context.Context, id int64, method payment.Method, dev payment.Device) (payment.Initiation, error) {
	s.touch()
	if s.identity.Role != clinicapi.RolePatient {
		return payment.Initiation{}, approval.ErrForbidden
	}
	if s.deps.Payment == nil {
		return payment.Initiation{}, errors.New("dashboard: payments not configured")
	}
	rec, ok := s.proj.Get(id)
	if !ok {
		return payment.Initiation{}, fmt.Errorf("%w: %d", appointment.ErrAppointmentNotFound, id)
	}

	in, err := s.deps.Payment.Initiate(ctx, rec, method, dev)
	if err != nil {
		return payment.Initiation{}, err
	}
	if rec.Status != appointment.StatusPending || s.Closed() {
		return in, nil
	}

	if err := s.proj.MarkOptimistic(id, appointment.StatusApproved); err != nil {
		s.logger.Warn().Err(err).Int64("id", id).Msg("optimistic approve skipped")
		return in, nil
	}
	s.publish(ctx)

	err = s.deps.Backend.UpdateStatus(ctx, s.identity.Credential, id, appointment.StatusApproved)
	s.deps.Metrics.ObserveMutation("pay_advance", err)
	if err != nil {
		s.logger.Warn().Err(err).Int64("id", id).Msg("status update after payment failed")
	}
	return in, nil
}

// Notifications returns the patient's live notifications.
func (s *Session) Notifications(ctx context.Context) ([]notifications.Notification, error) {
	s.touch()
	if s.identity.Role != clinicapi.RolePatient || s.deps.Notifications == nil {
		return []notifications.Notification{}, nil
	}
	return s.deps.Notifications.ForPatient(ctx, s.identity.Email)
}

// MarkRead marks one notification read, or all of them when id is empty.
func (s *Session) MarkRead(ctx context.Context, id string) error {
	s.touch()
	if s.identity.Role != clinicapi.RolePatient || s.deps.Notifications == nil {
		return approval.ErrForbidden
	}
	var err error
	if id == "" {
		err = s.deps.Notifications.MarkAllRead(ctx, s.identity.Email)
	} else {
		err = s.deps.Notifications.MarkRead(ctx, s.identity.Email, id)
	}
	if err == nil {
		s.publish(ctx)
	}
	return err
}

// Projection exposes the session's records for read-only callers.
func (s *Session) Projection() *appointment.Projection { return s.proj }

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the bridge. Anything in flight is discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.bridge.Close()
	s.deps.Metrics.SessionClosed(string(s.identity.Role))
	s.logger.Info().Msg("session closed")
}
