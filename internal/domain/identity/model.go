package identity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleDoctor  Role = "DOCTOR"
	RoleStaff   Role = "STAFF"
	RolePatient Role = "PATIENT"
)

type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderOther  Gender = "OTHER"
)

// User maps to the users table.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	Role         Role      `db:"role" json:"role"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Patient maps to the patients table. Placeholder rows carry only the user
// link, the gender sentinel and timestamps.
type Patient struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	UserID                uuid.UUID  `db:"user_id" json:"user_id"`
	IsPlaceholder         bool       `db:"is_placeholder" json:"is_placeholder"`
	DateOfBirth           *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender                Gender     `db:"gender" json:"gender"`
	BloodGroup            *string    `db:"blood_group" json:"blood_group,omitempty"`
	Address               *string    `db:"address" json:"address,omitempty"`
	EmergencyContactName  *string    `db:"emergency_contact_name" json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string    `db:"emergency_contact_phone" json:"emergency_contact_phone,omitempty"`
	Allergies             *string    `db:"allergies" json:"allergies,omitempty"`
	MedicalHistory        *string    `db:"medical_history" json:"medical_history,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// Doctor maps to the doctors table joined with its user.
type Doctor struct {
	ID             uuid.UUID `db:"id" json:"id"`
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	FirstName      string    `db:"first_name" json:"first_name"`
	LastName       string    `db:"last_name" json:"last_name"`
	Specialization string    `db:"specialization" json:"specialization"`
	LicenseNumber  *string   `db:"license_number" json:"license_number,omitempty"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// PatientRef is what every patient variant knows about itself.
type PatientRef struct {
	PatientID uuid.UUID `json:"patient_id"`
	UserID    uuid.UUID `json:"user_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

// PatientIdentity is either a *FullPatient or a *PlaceholderPatient.
// Consumers switch on the concrete type.
type PatientIdentity interface {
	Ref() PatientRef
	isPatientIdentity()
}

// FullPatient is a registered patient with a complete profile.
type FullPatient struct {
	PatientRef
	Email                 string     `json:"email"`
	Phone                 *string    `json:"phone,omitempty"`
	DateOfBirth           *time.Time `json:"date_of_birth,omitempty"`
	Gender                Gender     `json:"gender"`
	BloodGroup            *string    `json:"blood_group,omitempty"`
	Address               *string    `json:"address,omitempty"`
	EmergencyContactName  *string    `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string    `json:"emergency_contact_phone,omitempty"`
	Allergies             *string    `json:"allergies,omitempty"`
	MedicalHistory        *string    `json:"medical_history,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

func (p *FullPatient) Ref() PatientRef { return p.PatientRef }
func (p *FullPatient) isPatientIdentity() {}

func (p *FullPatient) MarshalJSON() ([]byte, error) {
	type plain FullPatient
	return json.Marshal(struct {
		Kind string `json:"kind"`
		*plain
	}{"full", (*plain)(p)})
}

// PlaceholderPatient was synthesized at booking time from a name only.
type PlaceholderPatient struct {
	PatientRef
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (p *PlaceholderPatient) Ref() PatientRef { return p.PatientRef }
func (p *PlaceholderPatient) isPatientIdentity() {}

func (p *PlaceholderPatient) MarshalJSON() ([]byte, error) {
	type plain PlaceholderPatient
	return json.Marshal(struct {
		Kind string `json:"kind"`
		*plain
	}{"placeholder", (*plain)(p)})
}

// NewPatientIdentity selects the variant for a stored patient and its user.
func NewPatientIdentity(u *User, p *Patient) PatientIdentity {
	ref := PatientRef{PatientID: p.ID, UserID: u.ID, FirstName: u.FirstName, LastName: u.LastName}
	if p.IsPlaceholder {
		return &PlaceholderPatient{PatientRef: ref, Email: u.Email, CreatedAt: p.CreatedAt}
	}
	return &FullPatient{
		PatientRef:            ref,
		Email:                 u.Email,
		Phone:                 u.Phone,
		DateOfBirth:           p.DateOfBirth,
		Gender:                p.Gender,
		BloodGroup:            p.BloodGroup,
		Address:               p.Address,
		EmergencyContactName:  p.EmergencyContactName,
		EmergencyContactPhone: p.EmergencyContactPhone,
		Allergies:             p.Allergies,
		MedicalHistory:        p.MedicalHistory,
		CreatedAt:             p.CreatedAt,
	}
}
