package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("appointment not found")
	// ErrSlotTaken is returned by Create when another non-cancelled
	// appointment already holds the doctor's start time on that date.
	ErrSlotTaken = errors.New("slot already booked")
	// ErrStatusChanged is returned by UpdateStatus when the stored status no
	// longer matches the expected previous status.
	ErrStatusChanged = errors.New("appointment status changed concurrently")
)

type ScheduleRepository interface {
	// ActiveWindows returns the doctor's active windows for a weekday,
	// ordered by start time.
	ActiveWindows(ctx context.Context, doctorID uuid.UUID, day time.Weekday) ([]Window, error)
}

type AppointmentRepository interface {
	// LockDoctorDay serializes bookings for one doctor and date until the
	// surrounding transaction ends.
	LockDoctorDay(ctx context.Context, doctorID uuid.UUID, date Date) error
	ListForDoctorOnDate(ctx context.Context, doctorID uuid.UUID, date Date) ([]*Appointment, error)
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	// UpdateStatus sets the status to `to` only if it is still `from`.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	// ListOpenThrough returns SCHEDULED and CONFIRMED appointments dated on
	// or before the given date.
	ListOpenThrough(ctx context.Context, date Date) ([]*Appointment, error)
}
