// Package clinicapitest runs an in-memory clinic backend over httptest for
// tests of the client, the flows and the realtime bridge.
package clinicapitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/appointment-sync/internal/appointment"
	"github.com/hackgods/appointment-sync/internal/clinicapi"
	"github.com/hackgods/appointment-sync/internal/events"
	"github.com/hackgods/appointment-sync/internal/slotgrid"
)

type Identity struct {
	Role     clinicapi.Role
	Email    string
	Name     string
	DoctorID int64
}

type failure struct {
	status  int
	message string
}

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	doctors  map[int64]appointment.Doctor
	patients []appointment.Patient
	appts    map[int64]appointment.Record
	nextID   int64
	tokens   map[string]Identity
	failures map[string]failure
	subs     map[chan []byte]clinicapi.Role
	hits     map[string]int
}

func New(t testing.TB) *Server {
	s := &Server{
		doctors:  make(map[int64]appointment.Doctor),
		appts:    make(map[int64]appointment.Record),
		tokens:   make(map[string]Identity),
		failures: make(map[string]failure),
		subs:     make(map[chan []byte]clinicapi.Role),
		hits:     make(map[string]int),
		nextID:   1,
	}

	r := chi.NewRouter()
	r.Use(s.count)
	r.Get("/api/doctors", s.listDoctors)
	r.Post("/api/appointments/book", s.book)
	r.Get("/api/appointments/me", s.listMine)
	r.Get("/api/appointments/doctor/me", s.listDoctor)
	r.Put("/api/appointments/{id}/cancel", s.cancel)
	r.Put("/api/appointments/{id}/status", s.updateStatus)
	r.Get("/api/admin/appointments", s.listAll)
	r.Put("/api/admin/appointments/{id}/status", s.updateStatus)
	r.Get("/api/admin/doctors", s.listDoctors)
	r.Get("/api/admin/users", s.listUsers)
	r.Get("/api/admin/events", s.events(clinicapi.RoleAdmin))
	r.Get("/api/patient/events", s.events(clinicapi.RolePatient))

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) AddDoctor(d appointment.Doctor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.SlotsBooked == nil {
		d.SlotsBooked = map[string][]string{}
	}
	s.doctors[d.ID] = d
}

func (s *Server) AddPatient(p appointment.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients = append(s.patients, p)
}

func (s *Server) AddToken(token string, id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = id
}

// Seed stores a record as-is and returns its id. A zero ID is assigned.
func (s *Server) Seed(rec appointment.Record) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == 0 {
		rec.ID = s.nextID
	}
	if rec.ID >= s.nextID {
		s.nextID = rec.ID + 1
	}
	s.appts[rec.ID] = rec
	return rec.ID
}

// Fail makes the next calls of op ("book", "status", "cancel", "list")
// for id fail with the given status and message. Use id 0 for ops without
// an id.
func (s *Server) Fail(op string, id int64, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op+":"+strconv.FormatInt(id, 10)] = failure{status: status, message: message}
}

func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]failure)
}

func (s *Server) Status(id int64) (appointment.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.appts[id]
	return rec.Status, ok
}

func (s *Server) Appointments() []appointment.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]appointment.Record, 0, len(s.appts))
	for _, rec := range s.appts {
		out = append(out, rec)
	}
	return out
}

// Hits returns how many requests matched a chi route pattern, for example
// "GET /api/appointments/me".
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Emit pushes an event to every connected subscriber of the matching
// channel. Admin receives everything; patients receive everything too, the
// client filters by email as the real backend does.
func (s *Server) Emit(ev events.Event) {
	data, _ := json.Marshal(ev)
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- data:
		default:
		}
	}
}

// Close drops push connections first so streaming handlers return.
func (s *Server) Close() {
	s.DropSubscribers()
	s.Server.Close()
}

// DropSubscribers closes every open push connection.
func (s *Server) DropSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		s.mu.Lock()
		s.hits[r.Method+" "+pattern]++
		s.mu.Unlock()
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg})
}

func (s *Server) identity(r *http.Request) (Identity, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[token]
	return id, ok
}

// takeFailure must be called with s.mu held.
func (s *Server) takeFailure(op string, id int64) (failure, bool) {
	key := op + ":" + strconv.FormatInt(id, 10)
	f, ok := s.failures[key]
	return f, ok
}

type wireParty struct {
	ID         int64    `json:"id"`
	FullName   string   `json:"fullName"`
	Speciality string   `json:"speciality,omitempty"`
	Email      string   `json:"email,omitempty"`
	Fees       *float64 `json:"fees,omitempty"`
}

type wireAppointment struct {
	ID      int64     `json:"id"`
	Status  string    `json:"status"`
	Date    string    `json:"date"`
	Time    string    `json:"time"`
	Doctor  wireParty `json:"doctor"`
	Patient wireParty `json:"patient"`
}

func (s *Server) wire(rec appointment.Record) wireAppointment {
	doc := s.doctors[rec.DoctorID]
	fee := rec.Fee
	if fee == nil && doc.Fee > 0 {
		f := doc.Fee
		fee = &f
	}
	return wireAppointment{
		ID:     rec.ID,
		Status: string(rec.Status),
		Date:   rec.Date,
		Time:   rec.Time,
		Doctor: wireParty{
			ID:         rec.DoctorID,
			FullName:   firstNonEmpty(rec.DoctorName, doc.Name),
			Speciality: firstNonEmpty(rec.Specialty, doc.Specialty),
			Fees:       fee,
		},
		Patient: wireParty{ID: rec.PatientID, FullName: rec.PatientName, Email: rec.PatientEmail},
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (s *Server) list(w http.ResponseWriter, keep func(appointment.Record) bool) {
	s.mu.Lock()
	if f, ok := s.takeFailure("list", 0); ok {
		s.mu.Unlock()
		writeMessage(w, f.status, f.message)
		return
	}
	out := make([]wireAppointment, 0, len(s.appts))
	for _, rec := range s.appts {
		if keep(rec) {
			out = append(out, s.wire(rec))
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listMine(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	s.list(w, func(rec appointment.Record) bool { return rec.PatientEmail == id.Email })
}

func (s *Server) listDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	s.list(w, func(rec appointment.Record) bool { return rec.DoctorID == id.DoctorID })
}

func (s *Server) listAll(w http.ResponseWriter, r *http.Request) {
	if id, ok := s.identity(r); !ok || id.Role != clinicapi.RoleAdmin {
		writeMessage(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	s.list(w, func(appointment.Record) bool { return true })
}

func (s *Server) listDoctors(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]map[string]any, 0, len(s.doctors))
	for _, d := range s.doctors {
		out = append(out, map[string]any{
			"id":           d.ID,
			"fullName":     d.Name,
			"speciality":   d.Specialty,
			"email":        d.Email,
			"fees":         d.Fee,
			"available":    d.Available,
			"slots_booked": d.SlotsBooked,
		})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]map[string]any, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, map[string]any{"id": p.ID, "fullName": p.Name, "email": p.Email, "status": p.Status})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) book(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Not authenticated")
		return
	}

	var req clinicapi.BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	if f, ok := s.takeFailure("book", 0); ok {
		s.mu.Unlock()
		writeMessage(w, f.status, f.message)
		return
	}
	doc, ok := s.doctors[req.DoctorID]
	if !ok {
		s.mu.Unlock()
		writeMessage(w, http.StatusBadRequest, "Doctor not found")
		return
	}
	day, err := slotgrid.ParseDateKey(req.Date, nil)
	if err != nil {
		s.mu.Unlock()
		writeMessage(w, http.StatusBadRequest, "Invalid date")
		return
	}
	key := slotgrid.DateKey(day)
	if slotgrid.BookedSet(doc.SlotsBooked).Has(key, req.Time) {
		s.mu.Unlock()
		writeMessage(w, http.StatusBadRequest, "Slot not available")
		return
	}
	slotgrid.BookedSet(doc.SlotsBooked).Add(key, req.Time)

	rec := appointment.Record{
		ID:           s.nextID,
		DoctorID:     doc.ID,
		DoctorName:   doc.Name,
		Specialty:    doc.Specialty,
		PatientName:  firstNonEmpty(id.Name, id.Email),
		PatientEmail: id.Email,
		Date:         req.Date,
		Time:         req.Time,
		Status:       appointment.StatusPending,
	}
	s.nextID++
	s.appts[rec.ID] = rec
	s.mu.Unlock()

	// the live backend announces bookings without their id
	docID := doc.ID
	s.Emit(events.Event{
		Type:         events.TypeAppointmentBooked,
		DoctorID:     &docID,
		DoctorName:   doc.Name,
		Specialty:    doc.Specialty,
		Date:         req.Date,
		Time:         req.Time,
		PatientEmail: id.Email,
	})
	writeJSON(w, http.StatusOK, clinicapi.APIResponse{Success: true, Message: "Appointment booked successfully"})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identity(r); !ok {
		writeMessage(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid id")
		return
	}

	s.mu.Lock()
	if f, ok := s.takeFailure("cancel", id); ok {
		s.mu.Unlock()
		writeMessage(w, f.status, f.message)
		return
	}
	rec, ok := s.appts[id]
	if !ok {
		s.mu.Unlock()
		writeMessage(w, http.StatusBadRequest, "Appointment not found")
		return
	}
	rec.Status = appointment.StatusCancelled
	s.appts[id] = rec
	s.mu.Unlock()

	s.Emit(events.Event{Type: events.TypeAppointmentCancelled, ID: &id})
	writeJSON(w, http.StatusOK, clinicapi.APIResponse{Success: true, Message: "Appointment cancelled"})
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identity(r); !ok {
		writeMessage(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid id")
		return
	}
	status, ok := appointment.ParseStatus(r.URL.Query().Get("status"))
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid status")
		return
	}

	s.mu.Lock()
	if f, ok := s.takeFailure("status", id); ok {
		s.mu.Unlock()
		writeMessage(w, f.status, f.message)
		return
	}
	rec, ok := s.appts[id]
	if !ok {
		s.mu.Unlock()
		writeMessage(w, http.StatusNotFound, "Appointment not found")
		return
	}
	rec.Status = status
	s.appts[id] = rec
	wire := s.wire(rec)
	s.mu.Unlock()

	s.Emit(events.Event{Type: events.TypeAppointmentStatus, ID: &id, Status: string(status)})
	writeJSON(w, http.StatusOK, wire)
}

func (s *Server) events(role clinicapi.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.identity(r)
		if !ok || id.Role != role {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		ch := make(chan []byte, 32)
		s.mu.Lock()
		s.subs[ch] = role
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
			}
			s.mu.Unlock()
		}()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case data, ok := <-ch:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}
