// Package directory caches doctor reference data and resolves the doctor
// references the UI passes around ("7", "doc7") to backend ids.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-sync/internal/appointment"
	"github.com/hackgods/appointment-sync/internal/slotgrid"
)

var (
	ErrUnresolvedReference = errors.New("doctor reference does not resolve to a backend id")
	ErrDoctorNotFound      = errors.New("doctor not found")
)

// Source loads the full doctor list from the backend.
type Source interface {
	Doctors(ctx context.Context) ([]appointment.Doctor, error)
}

type Directory struct {
	src    Source
	cache  *lru.Cache[int64, appointment.Doctor]
	logger zerolog.Logger

	mu        sync.Mutex
	refreshed time.Time
}

func New(src Source, size int, logger zerolog.Logger) (*Directory, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[int64, appointment.Doctor](size)
	if err != nil {
		return nil, fmt.Errorf("directory: init cache: %w", err)
	}
	return &Directory{
		src:    src,
		cache:  cache,
		logger: logger.With().Str("component", "directory").Logger(),
	}, nil
}

// Refresh replaces the cached doctors with a fresh backend list.
func (d *Directory) Refresh(ctx context.Context) error {
	docs, err := d.src.Doctors(ctx)
	if err != nil {
		return fmt.Errorf("directory: refresh: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Purge()
	for _, doc := range docs {
		d.cache.Add(doc.ID, doc)
	}
	d.refreshed = time.Now()
	d.logger.Debug().Int("doctors", len(docs)).Msg("doctor directory refreshed")
	return nil
}

// Get returns a cached doctor, refreshing once on a miss.
func (d *Directory) Get(ctx context.Context, id int64) (appointment.Doctor, error) {
	if doc, ok := d.cache.Get(id); ok {
		return doc, nil
	}
	if err := d.Refresh(ctx); err != nil {
		return appointment.Doctor{}, err
	}
	if doc, ok := d.cache.Get(id); ok {
		return doc, nil
	}
	return appointment.Doctor{}, fmt.Errorf("%w: %d", ErrDoctorNotFound, id)
}

// List returns cached doctors by id, loading them when the cache is cold.
func (d *Directory) List(ctx context.Context) ([]appointment.Doctor, error) {
	if d.cache.Len() == 0 {
		if err := d.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	docs := d.cache.Values()
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (d *Directory) LastRefresh() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refreshed
}

// ParseRef extracts a positive backend id from "7" or "doc7".
func ParseRef(ref string) (int64, error) {
	s := strings.TrimPrefix(strings.TrimSpace(ref), "doc")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnresolvedReference, ref)
	}
	return id, nil
}

// Resolve maps a UI reference to a doctor the backend knows about.
func (d *Directory) Resolve(ctx context.Context, ref string) (appointment.Doctor, error) {
	id, err := ParseRef(ref)
	if err != nil {
		return appointment.Doctor{}, err
	}
	doc, err := d.Get(ctx, id)
	if errors.Is(err, ErrDoctorNotFound) {
		return appointment.Doctor{}, fmt.Errorf("%w: %q", ErrUnresolvedReference, ref)
	}
	return doc, err
}

// Grid builds the slot grid for a doctor. Unknown doctors yield an empty
// grid rather than an error.
func (d *Directory) Grid(ctx context.Context, ref string, now time.Time, extra slotgrid.BookedSet) (slotgrid.Grid, error) {
	doc, err := d.Resolve(ctx, ref)
	if errors.Is(err, ErrUnresolvedReference) {
		return slotgrid.ForDoctor(nil, nil, now, slotgrid.DefaultOptions()), nil
	}
	if err != nil {
		return nil, err
	}
	return slotgrid.ForDoctor(&doc, extra, now, slotgrid.DefaultOptions()), nil
}
