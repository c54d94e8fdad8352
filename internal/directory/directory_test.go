package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-sync/internal/appointment"
	"github.com/hackgods/appointment-sync/internal/slotgrid"
)

type fakeSource struct {
	docs  []appointment.Doctor
	err   error
	calls int
}

func (f *fakeSource) Doctors(context.Context) ([]appointment.Doctor, error) {
	f.calls++
	return f.docs, f.err
}

func newDirectory(t *testing.T, src Source) *Directory {
	t.Helper()
	d, err := New(src, 8, zerolog.Nop())
	require.NoError(t, err)
	return d
}

func TestParseRef(t *testing.T) {
	for ref, want := range map[string]int64{"7": 7, "doc7": 7, " doc12 ": 12} {
		got, err := ParseRef(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, want, got)
	}
	for _, ref := range []string{"", "doc", "abc", "0", "doc-3", "7.5"} {
		_, err := ParseRef(ref)
		require.ErrorIs(t, err, ErrUnresolvedReference, ref)
	}
}

func TestResolve(t *testing.T) {
	src := &fakeSource{docs: []appointment.Doctor{{ID: 7, Name: "Dr. Rao"}}}
	d := newDirectory(t, src)
	ctx := context.Background()

	doc, err := d.Resolve(ctx, "doc7")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Rao", doc.Name)
	assert.Equal(t, 1, src.calls)

	_, err = d.Resolve(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "second lookup is served from cache")

	_, err = d.Resolve(ctx, "doc99")
	require.ErrorIs(t, err, ErrUnresolvedReference)
}

func TestResolveSurfacesBackendErrors(t *testing.T) {
	d := newDirectory(t, &fakeSource{err: errors.New("connection refused")})
	_, err := d.Resolve(context.Background(), "7")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnresolvedReference)
}

func TestGrid(t *testing.T) {
	src := &fakeSource{docs: []appointment.Doctor{{
		ID:          7,
		SlotsBooked: map[string][]string{"15_6_2025": {"10:00 AM", "10:30 AM"}},
	}}}
	d := newDirectory(t, src)
	now := time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC)

	grid, err := d.Grid(context.Background(), "doc7", now, nil)
	require.NoError(t, err)
	require.Len(t, grid, 7)
	assert.Equal(t, 22*7-2, grid.AvailableCount())

	grid, err = d.Grid(context.Background(), "local-only", now, slotgrid.BookedSet{})
	require.NoError(t, err)
	assert.Empty(t, grid)
}

func TestList(t *testing.T) {
	src := &fakeSource{docs: []appointment.Doctor{{ID: 9}, {ID: 2}, {ID: 5}}}
	d := newDirectory(t, src)

	docs, err := d.List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, int64(2), docs[0].ID)
	assert.False(t, d.LastRefresh().IsZero())
}
