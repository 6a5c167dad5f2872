package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

const usersEmailKey = "users_email_key"

// -- User Repository --

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, email, password_hash, first_name, last_name, role, is_active, phone, created_at, updated_at`

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, role, is_active, phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role, u.IsActive, u.Phone,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if db.IsUniqueViolation(err, usersEmailKey) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role, &u.IsActive, &u.Phone,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (
			id, user_id, is_placeholder, date_of_birth, gender, blood_group, address,
			emergency_contact_name, emergency_contact_phone, allergies, medical_history
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.IsPlaceholder, p.DateOfBirth, p.Gender, p.BloodGroup, p.Address,
		p.EmergencyContactName, p.EmergencyContactPhone, p.Allergies, p.MedicalHistory,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetIdentity(ctx context.Context, id uuid.UUID) (PatientIdentity, error) {
	var u User
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT p.id, p.user_id, p.is_placeholder, p.date_of_birth, p.gender, p.blood_group, p.address,
		       p.emergency_contact_name, p.emergency_contact_phone, p.allergies, p.medical_history,
		       p.created_at, p.updated_at,
		       u.id, u.email, u.first_name, u.last_name, u.role, u.is_active, u.phone
		FROM patients p
		JOIN users u ON u.id = p.user_id
		WHERE p.id = $1`, id).Scan(
		&p.ID, &p.UserID, &p.IsPlaceholder, &p.DateOfBirth, &p.Gender, &p.BloodGroup, &p.Address,
		&p.EmergencyContactName, &p.EmergencyContactPhone, &p.Allergies, &p.MedicalHistory,
		&p.CreatedAt, &p.UpdatedAt,
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.IsActive, &u.Phone,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return NewPatientIdentity(&u, &p), nil
}

func (r *patientRepoPG) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check patient: %w", err)
	}
	return exists, nil
}

// -- Doctor Repository --

type doctorRepoPG struct {
	pool *pgxpool.Pool
}

func NewDoctorRepo(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT d.id, d.user_id, u.first_name, u.last_name, d.specialization, d.license_number,
		       d.is_active, d.created_at
		FROM doctors d
		JOIN users u ON u.id = d.user_id
		WHERE d.id = $1`, id).Scan(
		&d.ID, &d.UserID, &d.FirstName, &d.LastName, &d.Specialization, &d.LicenseNumber,
		&d.IsActive, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return &d, nil
}

func (r *doctorRepoPG) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM doctors WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check doctor: %w", err)
	}
	return exists, nil
}
