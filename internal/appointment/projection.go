package appointment

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hackgods/appointment-sync/internal/events"
)

// Origin says who produced a journaled status.
type Origin string

const (
	OriginServer     Origin = "server"
	OriginOptimistic Origin = "optimistic"
	OriginConfirmed  Origin = "confirmed"
)

type JournalEntry struct {
	ID     int64     `json:"id"`
	Status Status    `json:"status"`
	Origin Origin    `json:"origin"`
	At     time.Time `json:"at"`
}

const defaultJournalCap = 256

// Projection is one dashboard's local view of the appointments it can see.
//
// Every write sets absolute state so replays and reordering converge. The
// journal records local mutations: an optimistic entry may be overwritten by
// any authoritative update, a confirmed terminal entry (the backend accepted
// our cancel or reject) is never moved out of its terminal status.
type Projection struct {
	mu          sync.RWMutex
	records     map[int64]Record
	provisional map[string]provisionalRecord
	local       map[int64]JournalEntry
	journal     []JournalEntry
	seq         uint64
	now         func() time.Time
}

type provisionalRecord struct {
	rec Record
	seq uint64
}

func NewProjection() *Projection {
	return &Projection{
		records:     make(map[int64]Record),
		provisional: make(map[string]provisionalRecord),
		local:       make(map[int64]JournalEntry),
		now:         time.Now,
	}
}

func provisionalKey(doctorID int64, date, tm, email string) string {
	return strconv.FormatInt(doctorID, 10) + "|" + date + "|" + tm + "|" + email
}

// guarded reports whether an incoming status must be ignored because the
// record sits in a terminal status the backend already confirmed for us.
func (p *Projection) guarded(id int64, incoming Status) bool {
	e, ok := p.local[id]
	return ok && e.Origin == OriginConfirmed && e.Status.Terminal() && incoming != e.Status
}

func (p *Projection) record(id int64, status Status, origin Origin) {
	e := JournalEntry{ID: id, Status: status, Origin: origin, At: p.now()}
	if origin == OriginServer {
		if prev, ok := p.local[id]; ok && prev.Origin == OriginOptimistic {
			delete(p.local, id)
		}
	} else {
		p.local[id] = e
	}
	p.journal = append(p.journal, e)
	if len(p.journal) > defaultJournalCap {
		p.journal = append(p.journal[:0:0], p.journal[len(p.journal)-defaultJournalCap:]...)
	}
}

// Replace installs a full authoritative fetch. Provisional rows and
// optimistic entries are dropped; confirmed terminal entries still win.
func (p *Projection) Replace(records []Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[int64]Record, len(records))
	for _, rec := range records {
		if rec.ID <= 0 {
			continue
		}
		if p.guarded(rec.ID, rec.Status) {
			rec.Status = p.local[rec.ID].Status
		}
		next[rec.ID] = rec
	}

	for id, e := range p.local {
		if _, ok := next[id]; !ok || e.Origin == OriginOptimistic {
			delete(p.local, id)
		}
	}

	p.records = next
	p.provisional = make(map[string]provisionalRecord)
}

// Change describes what one event did to the projection.
type Change struct {
	ID       int64
	Known    bool // the record was in view before the event
	Inserted bool
	Changed  bool
	Before   Status
	After    Status
}

// LeftPending reports whether the event moved a known record off PENDING.
func (c Change) LeftPending() bool {
	return c.Changed && c.Before == StatusPending && c.After != StatusPending
}

// ApplyEvent reduces one push event into the projection. Applying the same
// event twice reports no change the second time.
func (p *Projection) ApplyEvent(ev events.Event) Change {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case events.TypeAppointmentBooked:
		return p.insertBooked(ev)
	case events.TypeAppointmentStatus:
		status, ok := ParseStatus(ev.Status)
		if !ok {
			return Change{ID: ev.AppointmentID()}
		}
		return p.setStatus(ev.AppointmentID(), status)
	case events.TypeAppointmentCancelled:
		return p.setStatus(ev.AppointmentID(), StatusCancelled)
	}
	return Change{}
}

func (p *Projection) insertBooked(ev events.Event) Change {
	var doctorID int64
	if ev.DoctorID != nil {
		doctorID = *ev.DoctorID
	}

	rec := Record{
		ID:           ev.AppointmentID(),
		DoctorID:     doctorID,
		DoctorName:   firstNonEmpty(ev.DoctorName, fmt.Sprintf("Doctor #%d", doctorID)),
		Specialty:    ev.Specialty,
		PatientName:  firstNonEmpty(ev.PatientEmail, defaultPatientName),
		PatientEmail: ev.PatientEmail,
		Date:         ev.Date,
		Time:         ev.Time,
		Status:       StatusPending,
	}
	inserted := Change{ID: rec.ID, Inserted: true, Changed: true, After: StatusPending}

	if rec.ID > 0 {
		if existing, ok := p.records[rec.ID]; ok {
			return Change{ID: rec.ID, Known: true, Before: existing.Status, After: existing.Status}
		}
		p.records[rec.ID] = rec
		p.record(rec.ID, rec.Status, OriginServer)
		return inserted
	}

	key := provisionalKey(doctorID, ev.Date, ev.Time, ev.PatientEmail)
	if _, ok := p.provisional[key]; ok {
		return Change{Known: true, Before: StatusPending, After: StatusPending}
	}
	// a cancelled or rejected row for the same slot is an earlier booking
	for _, existing := range p.records {
		if existing.Live() && existing.DoctorID == doctorID && existing.Date == ev.Date &&
			existing.Time == ev.Time && existing.PatientEmail == ev.PatientEmail {
			return Change{ID: existing.ID, Known: true, Before: existing.Status, After: existing.Status}
		}
	}
	p.seq++
	p.provisional[key] = provisionalRecord{rec: rec, seq: p.seq}
	return inserted
}

func (p *Projection) setStatus(id int64, status Status) Change {
	rec, ok := p.records[id]
	if !ok {
		return Change{ID: id}
	}
	ch := Change{ID: id, Known: true, Before: rec.Status, After: rec.Status}
	if rec.Status == status || p.guarded(id, status) {
		return ch
	}
	rec.Status = status
	p.records[id] = rec
	p.record(id, status, OriginServer)
	ch.After, ch.Changed = status, true
	return ch
}

// Check returns the record if moving it to target is a legal transition.
func (p *Projection) Check(id int64, target Status) (Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %d", ErrAppointmentNotFound, id)
	}
	if !CanTransition(rec.Status, target) {
		return rec, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, rec.Status, target)
	}
	return rec, nil
}

// ConfirmLocal applies a mutation the backend has already accepted. It
// returns the status the record held before.
func (p *Projection) ConfirmLocal(id int64, status Status) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrAppointmentNotFound, id)
	}
	prev := rec.Status
	rec.Status = status
	p.records[id] = rec
	p.record(id, status, OriginConfirmed)
	return prev, nil
}

// MarkOptimistic moves a record ahead of backend confirmation. The entry
// stays overwritable by the next authoritative update.
func (p *Projection) MarkOptimistic(id int64, status Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrAppointmentNotFound, id)
	}
	if err := Transition(&rec, status); err != nil {
		return err
	}
	p.records[id] = rec
	p.record(id, status, OriginOptimistic)
	return nil
}

func (p *Projection) Get(id int64) (Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.records[id]
	return rec, ok
}

// Origin returns the origin of the latest local mutation for id, or
// OriginServer when none is outstanding.
func (p *Projection) Origin(id int64) Origin {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, ok := p.local[id]; ok {
		return e.Origin
	}
	return OriginServer
}

// List returns provisional rows (newest first) followed by records by
// descending id.
func (p *Projection) List() []Record {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prov := make([]provisionalRecord, 0, len(p.provisional))
	for _, pr := range p.provisional {
		prov = append(prov, pr)
	}
	sort.Slice(prov, func(i, j int) bool { return prov[i].seq > prov[j].seq })

	out := make([]Record, 0, len(prov)+len(p.records))
	for _, pr := range prov {
		out = append(out, pr.rec)
	}

	start := len(out)
	for _, rec := range p.records {
		out = append(out, rec)
	}
	tail := out[start:]
	sort.Slice(tail, func(i, j int) bool { return tail[i].ID > tail[j].ID })
	return out
}

// PendingCount counts PENDING rows, provisional ones included.
func (p *Projection) PendingCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := len(p.provisional)
	for _, rec := range p.records {
		if rec.Status == StatusPending {
			n++
		}
	}
	return n
}

func (p *Projection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records) + len(p.provisional)
}

// Journal returns a copy of the recent mutation log, oldest first.
func (p *Projection) Journal() []JournalEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]JournalEntry, len(p.journal))
	copy(out, p.journal)
	return out
}

type Snapshot struct {
	Records      []Record `json:"records"`
	PendingCount int      `json:"pendingCount"`
}

// Snapshot returns the list and pending count as one consistent view.
func (p *Projection) Snapshot() Snapshot {
	recs := p.List()
	pending := 0
	for _, rec := range recs {
		if rec.Status == StatusPending {
			pending++
		}
	}
	return Snapshot{Records: recs, PendingCount: pending}
}
