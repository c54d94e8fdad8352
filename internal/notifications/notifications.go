// Package notifications keeps the per-patient notification log shown on the
// patient dashboard. Entries are capped per patient and expire after a
// window.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrNotificationNotFound = errors.New("notification not found")

type Kind string

const (
	KindSuccess Kind = "success"
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

type Notification struct {
	ID           string    `json:"id"`
	PatientEmail string    `json:"patientEmail"`
	Message      string    `json:"message"`
	Kind         Kind      `json:"type"`
	CreatedAt    time.Time `json:"timestamp"`
	Read         bool      `json:"read"`
}

// Store holds notifications per patient, newest first.
type Store interface {
	Append(ctx context.Context, email string, n Notification, limit int) error
	List(ctx context.Context, email string) ([]Notification, error)
	Replace(ctx context.Context, email string, ns []Notification) error
}

type Log struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

func NewLog(store Store, limit int, window time.Duration, logger zerolog.Logger) *Log {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &Log{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
		logger: logger.With().Str("component", "notifications").Logger(),
	}
}

func (l *Log) Add(ctx context.Context, email, message string, kind Kind) (Notification, error) {
	n := Notification{
		ID:           uuid.NewString(),
		PatientEmail: email,
		Message:      message,
		Kind:         kind,
		CreatedAt:    l.now().UTC(),
	}
	if err := l.store.Append(ctx, email, n, l.limit); err != nil {
		return Notification{}, fmt.Errorf("append notification: %w", err)
	}
	l.logger.Debug().Str("email", email).Str("kind", string(kind)).Msg("notification added")
	return n, nil
}

// ForPatient returns live notifications, newest first. Entries older than
// the window are hidden even before Prune removes them.
func (l *Log) ForPatient(ctx context.Context, email string) ([]Notification, error) {
	all, err := l.store.List(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	cutoff := l.now().Add(-l.window)
	out := all[:0]
	for _, n := range all {
		if n.CreatedAt.After(cutoff) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (l *Log) MarkRead(ctx context.Context, email, id string) error {
	all, err := l.store.List(ctx, email)
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}
	for i := range all {
		if all[i].ID == id {
			if all[i].Read {
				return nil
			}
			all[i].Read = true
			return l.store.Replace(ctx, email, all)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotificationNotFound, id)
}

func (l *Log) MarkAllRead(ctx context.Context, email string) error {
	all, err := l.store.List(ctx, email)
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}
	dirty := false
	for i := range all {
		if !all[i].Read {
			all[i].Read, dirty = true, true
		}
	}
	if !dirty {
		return nil
	}
	return l.store.Replace(ctx, email, all)
}

func (l *Log) UnreadCount(ctx context.Context, email string) (int, error) {
	live, err := l.ForPatient(ctx, email)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, x := range live {
		if !x.Read {
			n++
		}
	}
	return n, nil
}

// Prune drops entries older than the window and returns how many went.
func (l *Log) Prune(ctx context.Context, email string) (int, error) {
	all, err := l.store.List(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("list notifications: %w", err)
	}
	live, err := l.ForPatient(ctx, email)
	if err != nil {
		return 0, err
	}
	removed := len(all) - len(live)
	if removed == 0 {
		return 0, nil
	}
	if err := l.store.Replace(ctx, email, live); err != nil {
		return 0, fmt.Errorf("prune notifications: %w", err)
	}
	return removed, nil
}
