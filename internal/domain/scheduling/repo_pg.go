package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

const appointmentSlotKey = "appointments_doctor_slot_key"

func timeParam(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func timeOfDay(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

// -- Schedule Repository --

type scheduleRepoPG struct {
	pool *pgxpool.Pool
}

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepoPG{pool: pool}
}

func (r *scheduleRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *scheduleRepoPG) ActiveWindows(ctx context.Context, doctorID uuid.UUID, day time.Weekday) ([]Window, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT start_time, end_time FROM doctor_schedules
		WHERE doctor_id = $1 AND day_of_week = $2 AND is_active
		ORDER BY start_time`, doctorID, int(day))
	if err != nil {
		return nil, fmt.Errorf("list schedule windows: %w", err)
	}
	defer rows.Close()

	var windows []Window
	for rows.Next() {
		var start, end pgtype.Time
		if err := rows.Scan(&start, &end); err != nil {
			return nil, fmt.Errorf("scan schedule window: %w", err)
		}
		windows = append(windows, Window{
			DoctorID:  doctorID,
			DayOfWeek: day,
			Start:     timeOfDay(start),
			End:       timeOfDay(end),
		})
	}
	return windows, rows.Err()
}

// -- Appointment Repository --

type appointmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, patient_id, first_name, last_name, doctor_id, booked_by, appointment_date, start_time,
	duration_minutes, appointment_type, status, notes, symptoms, created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var (
		a       Appointment
		patient pgtype.UUID
		date    time.Time
		start   pgtype.Time
	)
	err := row.Scan(&a.ID, &patient, &a.FirstName, &a.LastName, &a.DoctorID, &a.BookedBy, &date, &start,
		&a.DurationMinutes, &a.Type, &a.Status, &a.Notes, &a.Symptoms, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if patient.Valid {
		a.PatientID = uuid.UUID(patient.Bytes)
	}
	a.Date = DateOf(date)
	a.Time = timeOfDay(start)
	return &a, nil
}

func (r *appointmentRepoPG) scanRows(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var out []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *appointmentRepoPG) LockDoctorDay(ctx context.Context, doctorID uuid.UUID, date Date) error {
	key := doctorID.String() + "/" + date.String()
	if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("lock doctor day: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) ListForDoctorOnDate(ctx context.Context, doctorID uuid.UUID, date Date) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2
		ORDER BY start_time`, doctorID, date.Time())
	if err != nil {
		return nil, fmt.Errorf("list appointments for day: %w", err)
	}
	return r.scanRows(rows)
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, first_name, last_name, doctor_id, booked_by,
			appointment_date, start_time, duration_minutes, appointment_type, status, notes, symptoms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.FirstName, a.LastName, a.DoctorID, a.BookedBy,
		a.Date.Time(), timeParam(a.Time), a.DurationMinutes, a.Type, a.Status, a.Notes, a.Symptoms,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, appointmentSlotKey) {
		return ErrSlotTaken
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1
		ORDER BY appointment_date DESC, start_time DESC
		LIMIT $2 OFFSET $3`, doctorID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	items, err := r.scanRows(rows)
	return items, total, err
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+apptCols, id, from, to))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStatusChanged
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) ListOpenThrough(ctx context.Context, date Date) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE status IN ('SCHEDULED', 'CONFIRMED') AND appointment_date <= $1
		ORDER BY appointment_date, start_time`, date.Time())
	if err != nil {
		return nil, fmt.Errorf("list open appointments: %w", err)
	}
	return r.scanRows(rows)
}
