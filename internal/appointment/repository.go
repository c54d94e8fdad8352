package appointment

import (
	"context"
	"errors"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrMissingID           = errors.New("appointment payload has no id")
)

// Lister fetches the caller-scoped appointment list from the backend.
type Lister interface {
	ListAppointments(ctx context.Context, credential string) ([]Record, error)
}

// ListerFunc adapts a plain function to Lister.
type ListerFunc func(ctx context.Context, credential string) ([]Record, error)

func (f ListerFunc) ListAppointments(ctx context.Context, credential string) ([]Record, error) {
	return f(ctx, credential)
}
