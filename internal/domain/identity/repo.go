package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("identity: not found")
	ErrDuplicateEmail = errors.New("identity: email already registered")
)

type UserRepository interface {
	// Create inserts u and returns ErrDuplicateEmail when the email is taken.
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	// GetIdentity loads a patient together with its user.
	GetIdentity(ctx context.Context, id uuid.UUID) (PatientIdentity, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type DoctorRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}
