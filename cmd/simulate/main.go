package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-sync/internal/api"
	"github.com/hackgods/appointment-sync/internal/appointment"
	"github.com/hackgods/appointment-sync/internal/dashboard"
	"github.com/hackgods/appointment-sync/internal/logging"
)

type SimConfig struct {
	PortalURL     string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	DecisionRatio float64
	ReadRatio     float64
	Patients      []patientToken
	DoctorToken   string
	DoctorRefs    []string
}

type patientToken struct {
	Token string
	Email string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

type Metrics struct {
	Booking   OperationMetrics
	Decision  OperationMetrics
	Dashboard OperationMetrics
	Slots     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	client  *http.Client
	logger  zerolog.Logger
	metrics Metrics
}

func main() {
	logger := logging.Component(logging.New(getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info")), "simulate")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	runID := uuid.NewString()
	logger.Info().
		Str("run_id", runID).
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("patients", len(cfg.Patients)).
		Float64("booking", cfg.BookingRatio).
		Float64("decision", cfg.DecisionRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	gofakeit.Seed(time.Now().UnixNano())

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	ctx := context.Background()
	if err := sim.openSessions(ctx); err != nil {
		logger.Fatal().Err(err).Msg("open sessions")
	}
	defer sim.closeSessions(ctx)

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		PortalURL:     strings.TrimRight(getEnv("SIM_PORTAL_URL", "http://localhost:8081"), "/"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.4),
		DecisionRatio: getFloat("SIM_DECISION_RATIO", 0.2),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.4),
		DoctorToken:   os.Getenv("SIM_DOCTOR_TOKEN"),
		DoctorRefs:    splitList(getEnv("SIM_DOCTOR_REFS", "doc1")),
	}

	// SIM_PATIENT_TOKENS=token:email,token:email
	for _, pair := range splitList(os.Getenv("SIM_PATIENT_TOKENS")) {
		token, email, _ := strings.Cut(pair, ":")
		cfg.Patients = append(cfg.Patients, patientToken{Token: token, Email: email})
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.DecisionRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.DecisionRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if len(cfg.Patients) == 0 {
		return fmt.Errorf("SIM_PATIENT_TOKENS is required")
	}
	for _, p := range cfg.Patients {
		if p.Token == "" || p.Email == "" {
			return fmt.Errorf("SIM_PATIENT_TOKENS entries must be token:email")
		}
	}
	if len(cfg.DoctorRefs) == 0 {
		return fmt.Errorf("SIM_DOCTOR_REFS must name at least one doctor")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func (s *Simulator) openSessions(ctx context.Context) error {
	for _, p := range s.config.Patients {
		code, err := s.call(ctx, http.MethodPost, "/sessions", p.Token, api.OpenSessionRequest{Role: "patient", Email: p.Email}, nil)
		if err != nil {
			return err
		}
		if code != http.StatusCreated {
			return fmt.Errorf("patient session for %s: status %d", p.Email, code)
		}
	}
	if s.config.DoctorToken != "" {
		code, err := s.call(ctx, http.MethodPost, "/sessions", s.config.DoctorToken, api.OpenSessionRequest{Role: "doctor"}, nil)
		if err != nil {
			return err
		}
		if code != http.StatusCreated {
			return fmt.Errorf("doctor session: status %d", code)
		}
	}
	return nil
}

func (s *Simulator) closeSessions(ctx context.Context) {
	tokens := []string{s.config.DoctorToken}
	for _, p := range s.config.Patients {
		tokens = append(tokens, p.Token)
	}
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, err := s.call(ctx, http.MethodDelete, "/sessions", t, nil, nil); err != nil {
			s.logger.Warn().Err(err).Msg("close session")
		}
	}
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := gofakeit.Float64Range(0, 1)
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx)
			case r < s.config.BookingRatio+s.config.DecisionRatio:
				s.doDecision(ctx)
			default:
				if gofakeit.Bool() {
					s.doDashboard(ctx)
				} else {
					s.doSlots(ctx)
				}
			}
		}
	}
}

func (s *Simulator) randomPatient() patientToken {
	return s.config.Patients[gofakeit.Number(0, len(s.config.Patients)-1)]
}

func (s *Simulator) randomDoctor() string {
	return s.config.DoctorRefs[gofakeit.Number(0, len(s.config.DoctorRefs)-1)]
}

func (s *Simulator) doBooking(ctx context.Context) {
	ref := s.randomDoctor()

	var grid api.SlotsResponse
	if code, err := s.call(ctx, http.MethodGet, "/doctors/"+ref+"/slots", "", nil, &grid); err != nil || code != http.StatusOK {
		return
	}

	type choice struct{ date, time string }
	var free []choice
	for _, day := range grid.Days {
		for _, slot := range day.Slots {
			if slot.Available {
				free = append(free, choice{date: day.Date, time: slot.Time})
			}
		}
	}
	if len(free) == 0 {
		return
	}
	pick := free[gofakeit.Number(0, len(free)-1)]

	start := time.Now()
	code, err := s.call(ctx, http.MethodPost, "/appointments", s.randomPatient().Token,
		api.BookRequest{DoctorID: ref, Date: pick.date, Time: pick.time}, nil)
	s.metrics.Booking.Record(time.Since(start), err == nil && code == http.StatusCreated,
		code == http.StatusConflict || code == http.StatusBadRequest)
}

func (s *Simulator) doDecision(ctx context.Context) {
	if s.config.DoctorToken == "" {
		return
	}

	var view dashboard.View
	if code, err := s.call(ctx, http.MethodGet, "/dashboard", s.config.DoctorToken, nil, &view); err != nil || code != http.StatusOK {
		return
	}
	var pending []int64
	for _, rec := range view.Appointments {
		if rec.Status == appointment.StatusPending {
			pending = append(pending, rec.ID)
		}
	}
	if len(pending) == 0 {
		return
	}

	id := pending[gofakeit.Number(0, len(pending)-1)]
	action := "approve"
	if gofakeit.Number(1, 4) == 1 {
		action = "reject"
	}

	start := time.Now()
	code, err := s.call(ctx, http.MethodPost, "/appointments/"+strconv.FormatInt(id, 10)+"/"+action, s.config.DoctorToken, nil, nil)
	s.metrics.Decision.Record(time.Since(start), err == nil && code == http.StatusOK, code == http.StatusConflict)
}

func (s *Simulator) doDashboard(ctx context.Context) {
	start := time.Now()
	code, err := s.call(ctx, http.MethodGet, "/dashboard", s.randomPatient().Token, nil, nil)
	s.metrics.Dashboard.Record(time.Since(start), err == nil && code == http.StatusOK, false)
}

func (s *Simulator) doSlots(ctx context.Context) {
	start := time.Now()
	code, err := s.call(ctx, http.MethodGet, "/doctors/"+s.randomDoctor()+"/slots", "", nil, nil)
	s.metrics.Slots.Record(time.Since(start), err == nil && code == http.StatusOK, false)
}

func (s *Simulator) call(ctx context.Context, method, path, token string, in, out any) (int, error) {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.PortalURL+path, &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", gofakeit.UserAgent())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Approve/Reject", &s.metrics.Decision)
	printOperationReport("Dashboard", &s.metrics.Dashboard)
	printOperationReport("Slots", &s.metrics.Slots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
