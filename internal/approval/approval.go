// Package approval runs approve, reject and cancel against the backend and
// only then applies them to the session projection.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/appointment-sync/internal/appointment"
	"github.com/hackgods/appointment-sync/internal/clinicapi"
	"github.com/hackgods/appointment-sync/internal/observability/metrics"
)

var ErrForbidden = errors.New("role may not perform this action")

// Backend is the slice of the clinic client the flow needs.
type Backend interface {
	Cancel(ctx context.Context, credential string, id int64) error
	UpdateStatus(ctx context.Context, credential string, id int64, status appointment.Status) error
	AdminUpdateStatus(ctx context.Context, credential string, id int64, status appointment.Status) error
}

// PendingCounter is decremented when a local mutation moves a record off
// PENDING. Nil for sessions without counters.
type PendingCounter interface {
	DecrementPending()
}

// PartialBulkFailure reports the ids a bulk approve could not move. The
// ones that succeeded keep their transition.
type PartialBulkFailure struct {
	Failed map[int64]error
}

func (e *PartialBulkFailure) Error() string {
	ids := make([]int64, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10)+": "+e.Failed[id].Error())
	}
	return fmt.Sprintf("%d appointment(s) could not be approved (%s)", len(ids), strings.Join(parts, "; "))
}

type BulkResult struct {
	Approved []int64         `json:"approved"`
	Failed   map[int64]error `json:"-"`
}

type Config struct {
	Role        clinicapi.Role
	Credential  string
	Projection  *appointment.Projection
	Counters    PendingCounter
	Concurrency int
	// Closed reports whether the owning session is gone; results arriving
	// after that are not applied.
	Closed func() bool
}

type Flow struct {
	backend Backend
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.SyncMetrics
}

func NewFlow(backend Backend, cfg Config, logger zerolog.Logger, m *metrics.SyncMetrics) *Flow {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Closed == nil {
		cfg.Closed = func() bool { return false }
	}
	return &Flow{
		backend: backend,
		cfg:     cfg,
		logger:  logger.With().Str("component", "approval").Str("role", string(cfg.Role)).Logger(),
		metrics: m,
	}
}

func (f *Flow) Approve(ctx context.Context, id int64) error {
	err := f.decide(ctx, id, appointment.StatusApproved)
	f.metrics.ObserveMutation("approve", err)
	return err
}

func (f *Flow) Reject(ctx context.Context, id int64) error {
	err := f.decide(ctx, id, appointment.StatusRejected)
	f.metrics.ObserveMutation("reject", err)
	return err
}

func (f *Flow) decide(ctx context.Context, id int64, target appointment.Status) error {
	if f.cfg.Role != clinicapi.RoleAdmin && f.cfg.Role != clinicapi.RoleDoctor {
		return ErrForbidden
	}
	if f.cfg.Credential == "" {
		return clinicapi.ErrAuthRequired
	}
	if _, err := f.cfg.Projection.Check(id, target); err != nil {
		return err
	}

	var err error
	if f.cfg.Role == clinicapi.RoleAdmin {
		err = f.backend.AdminUpdateStatus(ctx, f.cfg.Credential, id, target)
	} else {
		err = f.backend.UpdateStatus(ctx, f.cfg.Credential, id, target)
	}
	if err != nil {
		return err
	}

	f.confirm(id, target)
	return nil
}

// Cancel is allowed for the patient owning the record, or an admin.
// Patient projections only hold the patient's own records.
func (f *Flow) Cancel(ctx context.Context, id int64) error {
	err := f.cancel(ctx, id)
	f.metrics.ObserveMutation("cancel", err)
	return err
}

func (f *Flow) cancel(ctx context.Context, id int64) error {
	if f.cfg.Role != clinicapi.RolePatient && f.cfg.Role != clinicapi.RoleAdmin {
		return ErrForbidden
	}
	if f.cfg.Credential == "" {
		return clinicapi.ErrAuthRequired
	}
	if _, err := f.cfg.Projection.Check(id, appointment.StatusCancelled); err != nil {
		return err
	}
	if err := f.backend.Cancel(ctx, f.cfg.Credential, id); err != nil {
		return err
	}
	f.confirm(id, appointment.StatusCancelled)
	return nil
}

func (f *Flow) confirm(id int64, status appointment.Status) {
	if f.cfg.Closed() {
		f.logger.Debug().Int64("id", id).Msg("session closed, dropping confirmed result")
		return
	}
	prev, err := f.cfg.Projection.ConfirmLocal(id, status)
	if err != nil {
		f.logger.Warn().Err(err).Int64("id", id).Msg("confirmed record vanished from projection")
		return
	}
	if prev == appointment.StatusPending && f.cfg.Counters != nil {
		f.cfg.Counters.DecrementPending()
	}
	f.logger.Info().Int64("id", id).Str("from", string(prev)).Str("to", string(status)).Msg("appointment updated")
}

// ApproveAll approves each id independently with bounded concurrency.
// Failures are collected, never retried, and never undo a success.
func (f *Flow) ApproveAll(ctx context.Context, ids []int64) (BulkResult, error) {
	res := BulkResult{Failed: make(map[int64]error)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			err := f.Approve(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[id] = err
			} else {
				res.Approved = append(res.Approved, id)
			}
			// never cancel siblings
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Approved, func(i, j int) bool { return res.Approved[i] < res.Approved[j] })
	if len(res.Failed) > 0 {
		f.logger.Warn().Int("approved", len(res.Approved)).Int("failed", len(res.Failed)).Msg("bulk approve partially failed")
		return res, &PartialBulkFailure{Failed: res.Failed}
	}
	return res, nil
}

// PendingIDs lists the ids an approve-all over the current view would
// touch.
func PendingIDs(p *appointment.Projection) []int64 {
	var ids []int64
	for _, rec := range p.List() {
		if rec.Status == appointment.StatusPending && !rec.Provisional() {
			ids = append(ids, rec.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
