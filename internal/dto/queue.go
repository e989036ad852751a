package dto

import "github.com/noah-isme/clinic-queue-api/internal/models"

// JoinQueueRequest checks a patient into a provider's queue.
type JoinQueueRequest struct {
	PatientID           string              `json:"patient_id" validate:"required"`
	ProviderID          string              `json:"provider_id" validate:"required"`
	AppointmentID       *string             `json:"appointment_id,omitempty"`
	UrgencyLevel        models.UrgencyLevel `json:"urgency_level" validate:"required,oneof=low medium high critical emergency"`
	Source              *string             `json:"source,omitempty" validate:"omitempty,oneof=scheduled follow_up emergency walk_in"`
	SpecialRequirements *string             `json:"special_requirements,omitempty" validate:"omitempty,max=500"`
	Notes               string              `json:"notes,omitempty" validate:"max=2000"`
}

// TransitionRequest moves an entry to another lifecycle status.
type TransitionRequest struct {
	TargetStatus string `json:"target_status" validate:"required"`
	Notes        string `json:"notes,omitempty" validate:"max=2000"`
}

// NoteRequest appends free text to an entry's audit trail.
type NoteRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

// BoostRequest optionally explains a manual priority boost.
type BoostRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// RescanResponse reports how many waiting entries were rescored.
type RescanResponse struct {
	ProviderID string `json:"provider_id"`
	Rescored   int    `json:"rescored"`
}
