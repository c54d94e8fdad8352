// Package counters keeps the admin dashboard's aggregate counts.
//
// A full refresh always sets the counts exactly; push events adjust them
// incrementally in between. Pending never drops below zero.
package counters

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-sync/internal/appointment"
	"github.com/hackgods/appointment-sync/internal/events"
)

type Counters struct {
	Doctors      int64 `json:"doctors"`
	Appointments int64 `json:"appointments"`
	Pending      int64 `json:"pending"`
	Patients     int64 `json:"patients"`
}

// Store persists counters per scope so a cold start can show the last
// known values before the first refresh completes.
type Store interface {
	Load(ctx context.Context, scope string) (Counters, bool, error)
	Save(ctx context.Context, scope string, c Counters) error
}

// Compute derives exact counts from fully fetched collections.
func Compute(doctors []appointment.Doctor, records []appointment.Record, patients []appointment.Patient) Counters {
	c := Counters{
		Doctors:      int64(len(doctors)),
		Appointments: int64(len(records)),
		Patients:     int64(len(patients)),
	}
	for _, rec := range records {
		if rec.Status == appointment.StatusPending {
			c.Pending++
		}
	}
	return c
}

type Cache struct {
	store  Store
	scope  string
	logger zerolog.Logger

	mu sync.RWMutex
	c  Counters
}

func NewCache(store Store, scope string, logger zerolog.Logger) *Cache {
	return &Cache{
		store:  store,
		scope:  scope,
		logger: logger.With().Str("component", "counters").Str("scope", scope).Logger(),
	}
}

// Load seeds the cache from the store. A missing entry leaves zeros.
func (c *Cache) Load(ctx context.Context) error {
	stored, ok, err := c.store.Load(ctx, c.scope)
	if err != nil {
		return fmt.Errorf("load counters: %w", err)
	}
	if !ok {
		return nil
	}
	c.mu.Lock()
	c.c = stored
	c.mu.Unlock()
	return nil
}

// Refresh sets the counts exactly and persists them. A store failure is
// returned but the in-memory counts are already updated.
func (c *Cache) Refresh(ctx context.Context, fresh Counters) error {
	c.mu.Lock()
	c.c = fresh
	c.mu.Unlock()

	if err := c.store.Save(ctx, c.scope, fresh); err != nil {
		return fmt.Errorf("save counters: %w", err)
	}
	return nil
}

// ApplyEvent adjusts counts for one push event and reports whether any
// count changed.
func (c *Cache) ApplyEvent(ev events.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.c
	switch ev.Type {
	case events.TypeAppointmentBooked:
		c.c.Appointments++
		c.c.Pending++
	case events.TypePatientRegistered:
		c.c.Patients++
	case events.TypeAppointmentStatus:
		if s := ev.NormalizedStatus(); s != "" && s != string(appointment.StatusPending) {
			c.decrementPending()
		}
	case events.TypeAppointmentCancelled:
		c.decrementPending()
	}
	return c.c != before
}

// DecrementPending is used after a local mutation moved a record off
// PENDING.
func (c *Cache) DecrementPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decrementPending()
}

func (c *Cache) decrementPending() {
	c.c.Pending = max(c.c.Pending-1, 0)
}

func (c *Cache) Get() Counters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.c
}
