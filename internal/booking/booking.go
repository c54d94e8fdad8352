// Package booking submits a patient's slot choice to the backend.
//
// The flow never touches a projection: a successful booking only refreshes
// the doctor directory, and the new record arrives through the realtime
// bridge or the next poll.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-sync/internal/appointment"
	"github.com/hackgods/appointment-sync/internal/clinicapi"
	redisclient "github.com/hackgods/appointment-sync/internal/redis"
	"github.com/hackgods/appointment-sync/internal/slotgrid"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrSlotBeingBooked = errors.New("slot is already being booked")
)

// Backend is the slice of the clinic client the flow needs.
type Backend interface {
	Book(ctx context.Context, credential string, req clinicapi.BookRequest) (clinicapi.APIResponse, error)
}

// Doctors resolves references and refreshes reference data.
type Doctors interface {
	Resolve(ctx context.Context, ref string) (appointment.Doctor, error)
	Refresh(ctx context.Context) error
}

type Request struct {
	Credential string
	DoctorRef  string
	Date       string // either yyyy-MM-dd or d_m_yyyy
	Time       string
}

type Result struct {
	DoctorID int64  `json:"doctorId"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Message  string `json:"message"`
}

type Flow struct {
	backend Backend
	doctors Doctors
	locker  redisclient.Locker
	logger  zerolog.Logger
	now     func() time.Time
}

func NewFlow(backend Backend, doctors Doctors, locker redisclient.Locker, logger zerolog.Logger) *Flow {
	return &Flow{
		backend: backend,
		doctors: doctors,
		locker:  locker,
		logger:  logger.With().Str("component", "booking").Logger(),
		now:     time.Now,
	}
}

func lockKey(doctorID int64, date, tm string) string {
	return "book:" + strconv.FormatInt(doctorID, 10) + ":" + date + ":" + strings.ToUpper(tm)
}

// Book validates locally, then submits. Checks run in a fixed order so the
// first problem is the one reported: credential, slot, doctor reference.
func (f *Flow) Book(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Credential) == "" {
		return Result{}, clinicapi.ErrAuthRequired
	}
	if strings.TrimSpace(req.Time) == "" {
		return Result{}, fmt.Errorf("%w: please select a time slot", ErrValidation)
	}
	day, err := slotgrid.ParseDateKey(req.Date, f.now().Location())
	if err != nil {
		return Result{}, fmt.Errorf("%w: invalid date selection", ErrValidation)
	}

	doc, err := f.doctors.Resolve(ctx, req.DoctorRef)
	if err != nil {
		return Result{}, err
	}

	grid := slotgrid.ForDoctor(&doc, nil, f.now(), slotgrid.DefaultOptions())
	slot, ok := grid.Find(slotgrid.DateKey(day), req.Time)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s %s is not a bookable slot", ErrValidation, req.Date, req.Time)
	}
	if !slot.Available {
		return Result{}, fmt.Errorf("%w: %s %s is already booked", ErrValidation, req.Date, req.Time)
	}

	body := clinicapi.BookRequest{DoctorID: doc.ID, Date: slotgrid.ISODate(day), Time: slot.Time}

	var resp clinicapi.APIResponse
	err = f.locker.WithKeyLock(ctx, lockKey(body.DoctorID, body.Date, body.Time), func(ctx context.Context) error {
		var err error
		resp, err = f.backend.Book(ctx, req.Credential, body)
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return Result{}, ErrSlotBeingBooked
	}
	if err != nil {
		f.logger.Info().Err(err).Int64("doctor_id", body.DoctorID).Str("date", body.Date).Str("time", body.Time).Msg("booking rejected")
		return Result{}, err
	}

	f.logger.Info().Int64("doctor_id", body.DoctorID).Str("date", body.Date).Str("time", body.Time).Msg("appointment booked")

	if err := f.doctors.Refresh(ctx); err != nil {
		f.logger.Warn().Err(err).Msg("doctor refresh after booking failed")
	}

	return Result{DoctorID: body.DoctorID, Date: body.Date, Time: body.Time, Message: resp.Message}, nil
}
