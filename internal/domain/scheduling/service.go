package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/apperror"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
)

const timeLayout = "15:04"

// Event routing keys.
const (
	EventAppointmentBooked        = "appointment.booked"
	EventAppointmentStatusChanged = "appointment.status_changed"
)

type Config struct {
	SlotGranularityMinutes int
	DefaultDurationMinutes int
	// Location is the clinic time zone in which appointment dates and times
	// are expressed. Defaults to UTC.
	Location *time.Location
}

type DoctorDirectory interface {
	DoctorExists(ctx context.Context, id uuid.UUID) (bool, error)
}

type PatientDirectory interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// PatientProvisioner synthesizes a placeholder patient inside the caller's
// transaction.
type PatientProvisioner interface {
	Provision(ctx context.Context, firstName, lastName string) (*identity.PlaceholderPatient, error)
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Deps struct {
	Tx           Transactor
	Schedules    ScheduleRepository
	Appointments AppointmentRepository
	Doctors      DoctorDirectory
	Patients     PatientDirectory
	Provisioner  PatientProvisioner
	Publisher    events.Publisher
	Validate     *validator.Validate
}

type Service struct {
	cfg Config
	Deps
}

func NewService(cfg Config, deps Deps) (*Service, error) {
	if cfg.SlotGranularityMinutes <= 0 {
		return nil, fmt.Errorf("slot granularity must be positive, got %d", cfg.SlotGranularityMinutes)
	}
	if cfg.DefaultDurationMinutes <= 0 {
		return nil, fmt.Errorf("default duration must be positive, got %d", cfg.DefaultDurationMinutes)
	}
	if cfg.DefaultDurationMinutes > cfg.SlotGranularityMinutes {
		return nil, fmt.Errorf("default duration %d exceeds slot granularity %d", cfg.DefaultDurationMinutes, cfg.SlotGranularityMinutes)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Validate == nil {
		deps.Validate = NewValidator()
	}
	return &Service{cfg: cfg, Deps: deps}, nil
}

// BookingRequest is the input of BookAppointment. Exactly one of PatientID or
// the FirstName/LastName pair identifies the patient.
type BookingRequest struct {
	DoctorID        string `json:"doctor_id" validate:"required,uuid"`
	PatientID       string `json:"patient_id,omitempty" validate:"omitempty,uuid"`
	FirstName       string `json:"first_name,omitempty" validate:"required_without=PatientID,excluded_with=PatientID,max=100"`
	LastName        string `json:"last_name,omitempty" validate:"required_without=PatientID,excluded_with=PatientID,max=100"`
	Date            string `json:"date" validate:"required,datetime=2006-01-02"`
	Time            string `json:"time" validate:"required,datetime=15:04"`
	DurationMinutes int    `json:"duration_minutes,omitempty" validate:"omitempty,min=5,max=480"`
	Type            string `json:"type,omitempty" validate:"omitempty,oneof=CONSULTATION FOLLOW_UP CHECKUP EMERGENCY PROCEDURE"`
	Notes           string `json:"notes,omitempty" validate:"max=2000"`
	Symptoms        string `json:"symptoms,omitempty" validate:"max=2000"`
}

type bookingInput struct {
	doctorID  uuid.UUID
	patientID uuid.UUID
	firstName string
	lastName  string
	date      Date
	start     TimeOfDay
	duration  int
	apptType  AppointmentType
	notes     *string
	symptoms  *string
}

func (s *Service) parseBooking(req BookingRequest) (*bookingInput, error) {
	if err := s.Validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	in := &bookingInput{
		firstName: strings.TrimSpace(req.FirstName),
		lastName:  strings.TrimSpace(req.LastName),
		duration:  req.DurationMinutes,
		apptType:  AppointmentType(req.Type),
		notes:     optionalText(req.Notes),
		symptoms:  optionalText(req.Symptoms),
	}

	var err error
	if in.doctorID, err = uuid.Parse(req.DoctorID); err != nil {
		return nil, apperror.Validation("doctor_id must be a UUID")
	}
	if req.PatientID != "" {
		if in.patientID, err = uuid.Parse(req.PatientID); err != nil {
			return nil, apperror.Validation("patient_id must be a UUID")
		}
	} else if in.firstName == "" || in.lastName == "" {
		return nil, apperror.Validation("either patient_id or first_name and last_name is required")
	}
	if in.date, err = ParseDate(req.Date); err != nil {
		return nil, apperror.Validation("%v", err)
	}
	if in.start, err = ParseTimeOfDay(req.Time); err != nil {
		return nil, apperror.Validation("%v", err)
	}
	if in.duration == 0 {
		in.duration = s.cfg.DefaultDurationMinutes
	}
	if in.apptType == "" {
		in.apptType = TypeConsultation
	}
	return in, nil
}

// GetAvailableSlots returns the bookable slot start times of a doctor on a
// date. A day without an active window yields an empty result.
func (s *Service) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date Date) ([]TimeOfDay, error) {
	if err := s.requireDoctor(ctx, doctorID); err != nil {
		return nil, s.translate(ctx, "load doctor", err)
	}

	windows, err := s.Schedules.ActiveWindows(ctx, doctorID, date.Weekday())
	if err != nil {
		return nil, s.dependency(ctx, "load schedule", err)
	}
	if len(windows) == 0 {
		return []TimeOfDay{}, nil
	}

	appts, err := s.Appointments.ListForDoctorOnDate(ctx, doctorID, date)
	if err != nil {
		return nil, s.dependency(ctx, "load appointments", err)
	}
	return AvailableSlots(windows, blockingIntervals(appts), s.cfg.SlotGranularityMinutes), nil
}

// BookAppointment re-checks the requested interval and persists the
// appointment, provisioning a placeholder patient when only a name is given.
// Everything happens in one transaction.
func (s *Service) BookAppointment(ctx context.Context, bookedBy uuid.UUID, req BookingRequest) (*BookingResult, error) {
	in, err := s.parseBooking(req)
	if err != nil {
		return nil, err
	}

	var result *BookingResult
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		r, err := s.book(ctx, bookedBy, in)
		result = r
		return err
	})
	if err != nil {
		return nil, s.translate(ctx, "book appointment", err)
	}

	appt := result.Appointment
	zerolog.Ctx(ctx).Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", appt.DoctorID.String()).
		Str("date", appt.Date.String()).
		Str("time", appt.Time.String()).
		Bool("patient_created", result.PatientCreated).
		Msg("appointment booked")

	s.publish(ctx, EventAppointmentBooked, AppointmentBooked{
		AppointmentID:  appt.ID,
		DoctorID:       appt.DoctorID,
		PatientID:      appt.PatientID,
		BookedBy:       appt.BookedBy,
		Date:           appt.Date,
		Time:           appt.Time,
		Duration:       appt.DurationMinutes,
		PatientCreated: result.PatientCreated,
	})
	return result, nil
}

// book runs inside a READ COMMITTED transaction. The doctor-day lock is the
// first statement, so every read after it sees bookings committed by the
// previous holder.
func (s *Service) book(ctx context.Context, bookedBy uuid.UUID, in *bookingInput) (*BookingResult, error) {
	if err := s.Appointments.LockDoctorDay(ctx, in.doctorID, in.date); err != nil {
		return nil, err
	}

	if err := s.requireDoctor(ctx, in.doctorID); err != nil {
		return nil, err
	}
	if in.patientID != uuid.Nil {
		ok, err := s.Patients.PatientExists(ctx, in.patientID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperror.NotFound("patient %s not found", in.patientID)
		}
	}

	requested := Interval{Start: in.start, End: in.start.AddMinutes(in.duration)}
	windows, err := s.Schedules.ActiveWindows(ctx, in.doctorID, in.date.Weekday())
	if err != nil {
		return nil, err
	}
	if !FitsSchedule(requested, windows) {
		return nil, apperror.Conflict("%s %s is outside the doctor's available hours", in.date, in.start)
	}

	existing, err := s.Appointments.ListForDoctorOnDate(ctx, in.doctorID, in.date)
	if err != nil {
		return nil, err
	}
	if overlapsAny(requested, blockingIntervals(existing)) {
		return nil, slotTaken(in)
	}

	result := &BookingResult{}
	appt := &Appointment{
		PatientID:       in.patientID,
		DoctorID:        in.doctorID,
		BookedBy:        bookedBy,
		Date:            in.date,
		Time:            in.start,
		DurationMinutes: in.duration,
		Type:            in.apptType,
		Status:          StatusScheduled,
		Notes:           in.notes,
		Symptoms:        in.symptoms,
	}

	if in.patientID == uuid.Nil {
		p, err := s.Provisioner.Provision(ctx, in.firstName, in.lastName)
		if err != nil {
			return nil, err
		}
		ref := p.Ref()
		appt.PatientID = ref.PatientID
		appt.FirstName = &ref.FirstName
		appt.LastName = &ref.LastName
		result.PatientCreated = true
	}

	if err := s.Appointments.Create(ctx, appt); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, slotTaken(in)
		}
		return nil, err
	}
	result.Appointment = appt
	return result, nil
}

func slotTaken(in *bookingInput) error {
	return apperror.Conflict("slot %s %s is no longer available, refresh availability and try again", in.date, in.start)
}

// TransitionStatus moves an appointment along its lifecycle. The write only
// succeeds if no one else changed the status in between.
func (s *Service) TransitionStatus(ctx context.Context, id uuid.UUID, newStatus string) (*Appointment, error) {
	to, ok := ParseStatus(newStatus)
	if !ok {
		return nil, apperror.Validation("unknown status %q", newStatus)
	}

	current, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(current.Status, to); err != nil {
		return nil, err
	}

	updated, err := s.Appointments.UpdateStatus(ctx, id, current.Status, to)
	if errors.Is(err, ErrStatusChanged) {
		return nil, apperror.Conflict("appointment %s was modified concurrently, reload and try again", id)
	}
	if err != nil {
		return nil, s.dependency(ctx, "update appointment status", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("appointment_id", id.String()).
		Str("from", string(current.Status)).
		Str("to", string(to)).
		Msg("appointment status changed")

	s.publish(ctx, EventAppointmentStatusChanged, AppointmentStatusChanged{
		AppointmentID: id,
		DoctorID:      updated.DoctorID,
		From:          current.Status,
		To:            to,
	})
	return updated, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.Appointments.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperror.NotFound("appointment %s not found", id)
	}
	if err != nil {
		return nil, s.dependency(ctx, "load appointment", err)
	}
	return a, nil
}

func (s *Service) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	if err := s.requireDoctor(ctx, doctorID); err != nil {
		return nil, 0, s.translate(ctx, "load doctor", err)
	}
	items, total, err := s.Appointments.ListByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, 0, s.dependency(ctx, "list appointments", err)
	}
	return items, total, nil
}

// MarkNoShows moves every SCHEDULED or CONFIRMED appointment whose end lies
// before now to NO_SHOW. Appointments changed concurrently are skipped. It
// returns the ids that were marked.
func (s *Service) MarkNoShows(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	local := now.In(s.cfg.Location)
	open, err := s.Appointments.ListOpenThrough(ctx, DateOf(local))
	if err != nil {
		return nil, s.dependency(ctx, "list open appointments", err)
	}

	log := zerolog.Ctx(ctx)
	marked := []uuid.UUID{}
	var errs []error
	for _, a := range open {
		end := a.Date.At(a.Time, s.cfg.Location).Add(time.Duration(a.DurationMinutes) * time.Minute)
		if !end.Before(now) {
			continue
		}
		if _, err := s.TransitionStatus(ctx, a.ID, string(StatusNoShow)); err != nil {
			if apperror.Is(err, apperror.KindConflict) || apperror.Is(err, apperror.KindInvalidTransition) {
				log.Warn().Str("appointment_id", a.ID.String()).Err(err).Msg("no-show sweep skipped appointment")
				continue
			}
			errs = append(errs, err)
			continue
		}
		marked = append(marked, a.ID)
	}

	log.Info().Int("marked", len(marked)).Int("candidates", len(open)).Msg("no-show sweep finished")
	if len(errs) > 0 {
		return marked, errors.Join(errs...)
	}
	return marked, nil
}

func (s *Service) requireDoctor(ctx context.Context, id uuid.UUID) error {
	ok, err := s.Doctors.DoctorExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NotFound("doctor %s not found", id)
	}
	return nil
}

// translate maps raw store errors onto the taxonomy. Taxonomy errors pass
// through unchanged.
func (s *Service) translate(ctx context.Context, op string, err error) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) && appErr.Kind != apperror.KindDependency {
		return err
	}
	if db.IsSerializationFailure(err) {
		return apperror.Conflict("the booking collided with a concurrent change, try again")
	}
	if errors.As(err, &appErr) {
		zerolog.Ctx(ctx).Error().Err(err).Str("op", op).Msg("dependency failure")
		return err
	}
	return s.dependency(ctx, op, err)
}

func (s *Service) dependency(ctx context.Context, op string, err error) error {
	zerolog.Ctx(ctx).Error().Err(err).Str("op", op).Msg("dependency failure")
	return apperror.Dependency(op, err)
}

func (s *Service) publish(ctx context.Context, key string, data any) {
	if err := s.Publisher.PublishJSON(ctx, key, events.NewEnvelope(key, data)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event", key).Msg("event publish failed")
	}
}

func optionalText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
