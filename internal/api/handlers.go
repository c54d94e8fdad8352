package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-sync/internal/appointment"
	"github.com/hackgods/appointment-sync/internal/approval"
	"github.com/hackgods/appointment-sync/internal/booking"
	"github.com/hackgods/appointment-sync/internal/clinicapi"
	"github.com/hackgods/appointment-sync/internal/dashboard"
	"github.com/hackgods/appointment-sync/internal/directory"
	"github.com/hackgods/appointment-sync/internal/notifications"
	"github.com/hackgods/appointment-sync/internal/payment"
	redisclient "github.com/hackgods/appointment-sync/internal/redis"
	"github.com/hackgods/appointment-sync/internal/slotgrid"
)

type handlers struct {
	sessions  *dashboard.Manager
	hub       *dashboard.Hub
	booking   *booking.Flow
	directory *directory.Directory
	logger    zerolog.Logger
	now       func() time.Time
}

// credential reads the bearer token. Browsers cannot set headers on a
// websocket handshake, so the token query parameter is accepted too.
func credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func (h *handlers) session(w http.ResponseWriter, r *http.Request) (*dashboard.Session, bool) {
	cred := credential(r)
	if cred == "" {
		handleError(w, clinicapi.ErrAuthRequired)
		return nil, false
	}
	s, err := h.sessions.Get(cred)
	if err != nil {
		handleError(w, err)
		return nil, false
	}
	return s, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *handlers) openSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	role, ok := clinicapi.ParseRole(strings.ToLower(strings.TrimSpace(req.Role)))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_role", "role must be patient, doctor or admin")
		return
	}

	s, err := h.sessions.Open(r.Context(), dashboard.Identity{
		Role:       role,
		Credential: credential(r),
		Email:      strings.TrimSpace(req.Email),
	})
	if errors.Is(err, clinicapi.ErrAuthRequired) {
		handleError(w, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{SessionID: s.ID, Role: string(s.Role())})
}

func (h *handlers) closeSession(w http.ResponseWriter, r *http.Request) {
	cred := credential(r)
	if cred == "" {
		handleError(w, clinicapi.ErrAuthRequired)
		return
	}
	if err := h.sessions.Close(cred); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getDashboard(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View(r.Context()))
}

func (h *handlers) focus(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Focus(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) slots(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "id")

	// slots this patient already holds stay blocked even before the
	// directory catches up
	var extra slotgrid.BookedSet
	if cred := credential(r); cred != "" {
		if s, err := h.sessions.Get(cred); err == nil {
			if docID, err := directory.ParseRef(ref); err == nil {
				var mine []appointment.Record
				for _, rec := range s.Projection().List() {
					if rec.DoctorID == docID {
						mine = append(mine, rec)
					}
				}
				extra = slotgrid.BookedFromAppointments(mine, h.now().Location())
			}
		}
	}

	grid, err := h.directory.Grid(r.Context(), ref, h.now(), extra)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: ref, Available: grid.AvailableCount(), Days: grid})
}

func (h *handlers) book(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	cred := credential(r)
	res, err := h.booking.Book(r.Context(), booking.Request{
		Credential: cred,
		DoctorRef:  req.DoctorID,
		Date:       req.Date,
		Time:       req.Time,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	if s, err := h.sessions.Get(cred); err == nil {
		s.Focus(r.Context())
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handlers) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, appointment.StatusApproved, (*dashboard.Session).Approve)
}

func (h *handlers) reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, appointment.StatusRejected, (*dashboard.Session).Reject)
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, appointment.StatusCancelled, (*dashboard.Session).Cancel)
}

func (h *handlers) transition(w http.ResponseWriter, r *http.Request, to appointment.Status,
	op func(*dashboard.Session, context.Context, int64) error) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := op(s, r.Context(), id); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{ID: id, Status: to})
}

func (h *handlers) approveAll(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	res, err := s.ApproveAll(r.Context())

	resp := BulkResponse{Approved: res.Approved}
	if resp.Approved == nil {
		resp.Approved = []int64{}
	}
	var partial *approval.PartialBulkFailure
	switch {
	case errors.As(err, &partial):
		resp.Failed = make(map[int64]string, len(partial.Failed))
		for id, ferr := range partial.Failed {
			resp.Failed[id] = ferr.Error()
		}
		resp.Message = partial.Error()
		writeJSON(w, http.StatusMultiStatus, resp)
	case err != nil:
		handleError(w, err)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *handlers) pay(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	method, err := payment.ParseMethod(req.Method)
	if err != nil {
		handleError(w, err)
		return
	}

	in, err := s.PayAndAdvance(r.Context(), id, method, payment.Device{UserAgent: r.UserAgent()})
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (h *handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	ns, err := s.Notifications(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

func (h *handlers) markRead(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req MarkReadRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
	}
	if err := s.MarkRead(r.Context(), req.ID); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) websocket(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	// Serve writes its own response on a failed upgrade
	if err := h.hub.Serve(w, r, s.ID, s.View(r.Context())); err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
	}
}

func handleError(w http.ResponseWriter, err error) {
	var remote *clinicapi.RemoteError
	if errors.As(err, &remote) {
		status := remote.Status
		if status < 400 {
			status = http.StatusBadGateway
		}
		writeError(w, status, "backend_rejected", remote.Message)
		return
	}

	switch {
	case errors.Is(err, clinicapi.ErrAuthRequired):
		writeError(w, http.StatusUnauthorized, "auth_required", "please log in again")
	case errors.Is(err, booking.ErrValidation),
		errors.Is(err, payment.ErrUnknownMethod),
		errors.Is(err, payment.ErrNoFee):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, directory.ErrUnresolvedReference):
		writeError(w, http.StatusUnprocessableEntity, "unresolved_reference", err.Error())
	case errors.Is(err, approval.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, dashboard.ErrNoSession):
		writeError(w, http.StatusNotFound, "session_not_found", "open a dashboard session first")
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, notifications.ErrNotificationNotFound):
		writeError(w, http.StatusNotFound, "notification_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
