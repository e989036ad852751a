package models

import "time"

// Patient is the read-only directory projection the queue needs.
type Patient struct {
	ID          string     `db:"id" json:"id"`
	FullName    string     `db:"full_name" json:"full_name"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
}

// AgeAt returns the patient's age in whole years, or nil when the birth date is unknown.
func (p *Patient) AgeAt(at time.Time) *int {
	if p == nil || p.DateOfBirth == nil {
		return nil
	}
	dob := p.DateOfBirth.UTC()
	at = at.UTC()
	age := at.Year() - dob.Year()
	if at.Month() < dob.Month() || (at.Month() == dob.Month() && at.Day() < dob.Day()) {
		age--
	}
	if age < 0 {
		age = 0
	}
	return &age
}

// Provider is a care-giver owning one independent queue.
type Provider struct {
	ID         string  `db:"id" json:"id"`
	FullName   string  `db:"full_name" json:"full_name"`
	LocationID *string `db:"location_id" json:"location_id,omitempty"`
	Active     bool    `db:"active" json:"active"`
}

// Appointment is the booking record a queue entry may link to.
type Appointment struct {
	ID         string            `db:"id" json:"id"`
	PatientID  string            `db:"patient_id" json:"patient_id"`
	ProviderID string            `db:"provider_id" json:"provider_id"`
	Type       AppointmentSource `db:"type" json:"type"`
	StartsAt   time.Time         `db:"starts_at" json:"starts_at"`
}
