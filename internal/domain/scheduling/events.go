package scheduling

import "github.com/google/uuid"

// AppointmentBooked is published after a booking commits.
type AppointmentBooked struct {
	AppointmentID  uuid.UUID `json:"appointment_id"`
	DoctorID       uuid.UUID `json:"doctor_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	BookedBy       uuid.UUID `json:"booked_by"`
	Date           Date      `json:"date"`
	Time           TimeOfDay `json:"time"`
	Duration       int       `json:"duration_minutes"`
	PatientCreated bool      `json:"patient_created"`
}

// AppointmentStatusChanged is published after a status write succeeds.
type AppointmentStatusChanged struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	From          Status    `json:"from"`
	To            Status    `json:"to"`
}
