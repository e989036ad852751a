package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// QueueStatus is the lifecycle state of a queue entry.
type QueueStatus string

const (
	QueueStatusWaiting        QueueStatus = "waiting"
	QueueStatusCalled         QueueStatus = "called"
	QueueStatusInConsultation QueueStatus = "in_consultation"
	QueueStatusCompleted      QueueStatus = "completed"
	QueueStatusCancelled      QueueStatus = "cancelled"
)

// QueueStatuses lists every status in lifecycle order.
var QueueStatuses = []QueueStatus{
	QueueStatusWaiting,
	QueueStatusCalled,
	QueueStatusInConsultation,
	QueueStatusCompleted,
	QueueStatusCancelled,
}

// ParseQueueStatus maps caller input onto the closed status set.
func ParseQueueStatus(raw string) (QueueStatus, error) {
	normalized := QueueStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, status := range QueueStatuses {
		if status == normalized {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown queue status %q", raw)
}

// Terminal reports whether the status accepts no further transitions.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusCancelled
}

// Active reports whether the entry still shows on the live queue board.
func (s QueueStatus) Active() bool {
	return s == QueueStatusWaiting || s == QueueStatusCalled || s == QueueStatusInConsultation
}

// UrgencyLevel is the triage urgency captured at check-in.
type UrgencyLevel string

const (
	UrgencyLow       UrgencyLevel = "low"
	UrgencyMedium    UrgencyLevel = "medium"
	UrgencyHigh      UrgencyLevel = "high"
	UrgencyCritical  UrgencyLevel = "critical"
	UrgencyEmergency UrgencyLevel = "emergency"
)

// AppointmentSource describes how the patient came to be in the queue.
type AppointmentSource string

const (
	SourceScheduled AppointmentSource = "scheduled"
	SourceFollowUp  AppointmentSource = "follow_up"
	SourceEmergency AppointmentSource = "emergency"
	SourceWalkIn    AppointmentSource = "walk_in"
)

// QueueEntry is one patient's participation in one provider's queue.
type QueueEntry struct {
	ID                    string            `db:"id" json:"id"`
	PatientID             string            `db:"patient_id" json:"patient_id"`
	ProviderID            string            `db:"provider_id" json:"provider_id"`
	LocationID            *string           `db:"location_id" json:"location_id,omitempty"`
	AppointmentID         *string           `db:"appointment_id" json:"appointment_id,omitempty"`
	PriorityScore         int               `db:"priority_score" json:"priority_score"`
	QueuePosition         *int              `db:"queue_position" json:"queue_position,omitempty"`
	EstimatedWaitMinutes  int               `db:"estimated_wait_minutes" json:"estimated_wait_minutes"`
	Status                QueueStatus       `db:"status" json:"status"`
	CheckInTime           time.Time         `db:"check_in_time" json:"check_in_time"`
	CalledTime            *time.Time        `db:"called_time" json:"called_time,omitempty"`
	ConsultationStartTime *time.Time        `db:"consultation_start_time" json:"consultation_start_time,omitempty"`
	ConsultationEndTime   *time.Time        `db:"consultation_end_time" json:"consultation_end_time,omitempty"`
	ActualDurationMinutes *int              `db:"actual_duration_minutes" json:"actual_duration_minutes,omitempty"`
	SpecialRequirements   *string           `db:"special_requirements" json:"special_requirements,omitempty"`
	UrgencyLevel          UrgencyLevel      `db:"urgency_level" json:"urgency_level"`
	AppointmentSource     AppointmentSource `db:"appointment_source" json:"appointment_source"`
	Notes                 string            `db:"notes" json:"notes"`
	PriorityFactors       PriorityFactors   `db:"priority_factors" json:"priority_factors"`
	Version               int               `db:"version" json:"-"`
	UpdatedAt             time.Time         `db:"updated_at" json:"updated_at"`
}

// Position returns the queue position or zero when unranked.
func (e *QueueEntry) Position() int {
	if e == nil || e.QueuePosition == nil {
		return 0
	}
	return *e.QueuePosition
}

// Location returns the denormalised location id or an empty string.
func (e *QueueEntry) Location() string {
	if e == nil || e.LocationID == nil {
		return ""
	}
	return *e.LocationID
}

// AppendNote adds one line to the append-only audit text.
func (e *QueueEntry) AppendNote(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if e.Notes == "" {
		e.Notes = line
		return
	}
	e.Notes = e.Notes + "\n" + line
}

// PriorityFactors snapshots the scorer inputs and per-rule contributions, persisted as JSONB.
type PriorityFactors struct {
	Urgency             UrgencyLevel      `json:"urgency"`
	AgeYears            *int              `json:"age_years,omitempty"`
	Source              AppointmentSource `json:"source"`
	ElapsedMinutes      float64           `json:"elapsed_minutes"`
	SpecialRequirements bool              `json:"special_requirements"`
	SatisfactionAverage *float64          `json:"satisfaction_average,omitempty"`

	UrgencyPoints      int     `json:"urgency_points"`
	AgePoints          int     `json:"age_points"`
	SourcePoints       int     `json:"source_points"`
	WaitCredit         float64 `json:"wait_credit"`
	SpecialPoints      int     `json:"special_points"`
	SatisfactionPoints float64 `json:"satisfaction_points"`
	ManualBoost        int     `json:"manual_boost"`

	ComputedAt time.Time `json:"computed_at"`
}

// Value marshals factors to JSON for persistence.
func (f PriorityFactors) Value() (driver.Value, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal priority factors: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the factors struct.
func (f *PriorityFactors) Scan(value interface{}) error {
	if value == nil {
		*f = PriorityFactors{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for PriorityFactors", value)
	}
	if len(data) == 0 {
		*f = PriorityFactors{}
		return nil
	}
	if err := json.Unmarshal(data, f); err != nil {
		return fmt.Errorf("unmarshal priority factors: %w", err)
	}
	return nil
}

// StatusCounts tallies entries per status.
type StatusCounts map[QueueStatus]int

// QueueSnapshot is the full ordered view of a provider's or location's queue.
type QueueSnapshot struct {
	ProviderID            string       `json:"provider_id,omitempty"`
	LocationID            string       `json:"location_id,omitempty"`
	Entries               []QueueEntry `json:"entries"`
	Counts                StatusCounts `json:"counts"`
	AverageServiceMinutes float64      `json:"average_service_minutes,omitempty"`
	GeneratedAt           time.Time    `json:"generated_at"`
}

// Topic returns the registry topic the snapshot is delivered on.
func (s QueueSnapshot) Topic() string {
	if s.ProviderID != "" {
		return ProviderTopic(s.ProviderID)
	}
	return LocationTopic(s.LocationID)
}

// ProviderTopic names the subscription topic for one provider's queue.
func ProviderTopic(providerID string) string {
	return "provider:" + providerID
}

// LocationTopic names the subscription topic for every queue at a location.
func LocationTopic(locationID string) string {
	return "location:" + locationID
}
