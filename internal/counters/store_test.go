package counters

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client)
	ctx := context.Background()

	_, ok, err := s.Load(ctx, "admin")
	require.NoError(t, err)
	assert.False(t, ok)

	want := Counters{Doctors: 3, Appointments: 12, Pending: 4, Patients: 9}
	require.NoError(t, s.Save(ctx, "admin", want))
	assert.Equal(t, "4", mr.HGet("counters:admin", "pending"))

	got, ok, err := s.Load(ctx, "admin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	mr.HSet("counters:admin", "pending", "lots")
	_, _, err = s.Load(ctx, "admin")
	require.Error(t, err)
}

func TestPgStoreLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT doctors, appointments, pending, patients").
		WithArgs("admin").
		WillReturnRows(pgxmock.NewRows([]string{"doctors", "appointments", "pending", "patients"}).
			AddRow(int64(2), int64(8), int64(3), int64(6)))

	got, ok, err := NewPgStore(mock).Load(context.Background(), "admin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Counters{Doctors: 2, Appointments: 8, Pending: 3, Patients: 6}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreLoadMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT doctors").WithArgs("admin").WillReturnError(pgx.ErrNoRows)

	_, ok, err := NewPgStore(mock).Load(context.Background(), "admin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPgStoreSave(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO dashboard_counters").
		WithArgs("admin", int64(2), int64(8), int64(3), int64(6)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = NewPgStore(mock).Save(context.Background(), "admin", Counters{Doctors: 2, Appointments: 8, Pending: 3, Patients: 6})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
