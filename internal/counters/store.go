package counters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

type MemoryStore struct {
	mu   sync.Mutex
	data map[string]Counters
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Counters)}
}

func (s *MemoryStore) Load(_ context.Context, scope string) (Counters, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[scope]
	return c, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, scope string, c Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[scope] = c
	return nil
}

// RedisStore keeps one hash per scope.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(scope string) string {
	return "counters:" + scope
}

func (s *RedisStore) Load(ctx context.Context, scope string) (Counters, bool, error) {
	vals, err := s.client.HGetAll(ctx, redisKey(scope)).Result()
	if err != nil {
		return Counters{}, false, fmt.Errorf("hgetall counters: %w", err)
	}
	if len(vals) == 0 {
		return Counters{}, false, nil
	}

	var c Counters
	for field, dst := range map[string]*int64{
		"doctors":      &c.Doctors,
		"appointments": &c.Appointments,
		"pending":      &c.Pending,
		"patients":     &c.Patients,
	} {
		if v, ok := vals[field]; ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Counters{}, false, fmt.Errorf("counters field %s: %w", field, err)
			}
			*dst = n
		}
	}
	return c, true, nil
}

func (s *RedisStore) Save(ctx context.Context, scope string, c Counters) error {
	err := s.client.HSet(ctx, redisKey(scope),
		"doctors", c.Doctors,
		"appointments", c.Appointments,
		"pending", c.Pending,
		"patients", c.Patients,
	).Err()
	if err != nil {
		return fmt.Errorf("hset counters: %w", err)
	}
	return nil
}

// pgConn is satisfied by *pgxpool.Pool and pgxmock.
type pgConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgStore keeps one row per scope in dashboard_counters.
type PgStore struct {
	db pgConn
}

func NewPgStore(db pgConn) *PgStore {
	return &PgStore{db: db}
}

const (
	loadCountersSQL = `SELECT doctors, appointments, pending, patients
		FROM dashboard_counters WHERE scope = $1`

	saveCountersSQL = `INSERT INTO dashboard_counters (scope, doctors, appointments, pending, patients, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (scope) DO UPDATE SET
			doctors = EXCLUDED.doctors,
			appointments = EXCLUDED.appointments,
			pending = EXCLUDED.pending,
			patients = EXCLUDED.patients,
			updated_at = EXCLUDED.updated_at`
)

func (s *PgStore) Load(ctx context.Context, scope string) (Counters, bool, error) {
	var c Counters
	err := s.db.QueryRow(ctx, loadCountersSQL, scope).Scan(&c.Doctors, &c.Appointments, &c.Pending, &c.Patients)
	if errors.Is(err, pgx.ErrNoRows) {
		return Counters{}, false, nil
	}
	if err != nil {
		return Counters{}, false, fmt.Errorf("select counters: %w", err)
	}
	return c, true, nil
}

func (s *PgStore) Save(ctx context.Context, scope string, c Counters) error {
	_, err := s.db.Exec(ctx, saveCountersSQL, scope, c.Doctors, c.Appointments, c.Pending, c.Patients)
	if err != nil {
		return fmt.Errorf("upsert counters: %w", err)
	}
	return nil
}
