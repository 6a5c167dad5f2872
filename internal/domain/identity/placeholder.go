package identity

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/apperror"
	"github.com/hms/hms/internal/platform/db"
)

const maxNameLength = 100

type PlaceholderConfig struct {
	EmailDomain   string
	EmailAttempts int
}

// PlaceholderService synthesizes a minimal patient identity from a name.
// Provision must run inside the caller's transaction so that the user and
// patient rows commit or roll back with the booking.
type PlaceholderService struct {
	users    UserRepository
	patients PatientRepository
	hasher   PasswordHasher
	cfg      PlaceholderConfig

	tokens  TokenSource
	entropy io.Reader
}

func NewPlaceholderService(users UserRepository, patients PatientRepository, hasher PasswordHasher, cfg PlaceholderConfig) *PlaceholderService {
	if cfg.EmailAttempts <= 0 {
		cfg.EmailAttempts = 3
	}
	return &PlaceholderService{
		users:    users,
		patients: patients,
		hasher:   hasher,
		cfg:      cfg,
		tokens:   RandomToken,
	}
}

// WithTokenSource replaces the email token generator.
func (s *PlaceholderService) WithTokenSource(tokens TokenSource) *PlaceholderService {
	s.tokens = tokens
	return s
}

// Provision creates a PATIENT user with a placeholder email and an unusable
// random credential, then its placeholder patient profile.
func (s *PlaceholderService) Provision(ctx context.Context, firstName, lastName string) (*PlaceholderPatient, error) {
	firstName, lastName = strings.TrimSpace(firstName), strings.TrimSpace(lastName)
	if firstName == "" || lastName == "" {
		return nil, apperror.Validation("first_name and last_name are required")
	}
	if len(firstName) > maxNameLength || len(lastName) > maxNameLength {
		return nil, apperror.Validation("first_name and last_name must be at most %d characters", maxNameLength)
	}

	plain, err := TemporaryPassword(s.entropy)
	if err != nil {
		return nil, apperror.Dependency("generate credential", err)
	}
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return nil, apperror.Dependency("hash credential", err)
	}

	user, err := s.createUser(ctx, firstName, lastName, hash)
	if err != nil {
		return nil, err
	}

	patient := &Patient{
		UserID:        user.ID,
		IsPlaceholder: true,
		Gender:        GenderOther,
	}
	if err := s.patients.Create(ctx, patient); err != nil {
		return nil, apperror.Dependency("create placeholder patient", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("patient_id", patient.ID.String()).
		Str("user_id", user.ID.String()).
		Msg("placeholder patient provisioned")

	return NewPatientIdentity(user, patient).(*PlaceholderPatient), nil
}

// createUser retries with a new email token on a unique-email collision. Each
// attempt runs in a savepoint so a collision does not abort the transaction.
func (s *PlaceholderService) createUser(ctx context.Context, firstName, lastName, hash string) (*User, error) {
	for attempt := 1; attempt <= s.cfg.EmailAttempts; attempt++ {
		u := &User{
			Email:        PlaceholderEmail(firstName, lastName, s.tokens(), s.cfg.EmailDomain),
			PasswordHash: hash,
			FirstName:    firstName,
			LastName:     lastName,
			Role:         RolePatient,
			IsActive:     true,
		}
		err := db.Savepoint(ctx, func(ctx context.Context) error {
			return s.users.Create(ctx, u)
		})
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, ErrDuplicateEmail) {
			return nil, apperror.Dependency("create placeholder user", err)
		}
		zerolog.Ctx(ctx).Warn().Int("attempt", attempt).Msg("placeholder email collision, retrying")
	}
	return nil, apperror.Dependency("create placeholder user",
		errors.New("placeholder email attempts exhausted"))
}
