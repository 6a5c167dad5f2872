package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperror"
)

type Service struct {
	patients PatientRepository
	doctors  DoctorRepository
}

func NewService(patients PatientRepository, doctors DoctorRepository) *Service {
	return &Service{patients: patients, doctors: doctors}
}

// -- Patient --

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (PatientIdentity, error) {
	p, err := s.patients.GetIdentity(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperror.NotFound("patient %s not found", id)
	}
	if err != nil {
		return nil, apperror.Dependency("load patient", err)
	}
	return p, nil
}

func (s *Service) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.patients.Exists(ctx, id)
	if err != nil {
		return false, apperror.Dependency("check patient", err)
	}
	return ok, nil
}

// -- Doctor --

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperror.NotFound("doctor %s not found", id)
	}
	if err != nil {
		return nil, apperror.Dependency("load doctor", err)
	}
	return d, nil
}

func (s *Service) DoctorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.doctors.Exists(ctx, id)
	if err != nil {
		return false, apperror.Dependency("check doctor", err)
	}
	return ok, nil
}
