package service

import (
	"math"
	"strings"
	"time"

	"github.com/noah-isme/clinic-queue-api/internal/models"
	"github.com/noah-isme/clinic-queue-api/pkg/config"
)

// ScoringWeights holds every constant the priority scorer uses.
type ScoringWeights struct {
	Low      int
	Medium   int
	High     int
	Critical int

	ChildMaxAge  int
	ChildBonus   int
	SeniorMinAge int
	SeniorBonus  int

	EmergencyBonus int
	FollowUpBonus  int
	SpecialBonus   int

	WaitCreditDivisor float64
	WaitCreditCap     float64
}

// DefaultScoringWeights returns the standard triage weights.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Low:               25,
		Medium:            50,
		High:              75,
		Critical:          100,
		ChildMaxAge:       5,
		ChildBonus:        15,
		SeniorMinAge:      65,
		SeniorBonus:       10,
		EmergencyBonus:    50,
		FollowUpBonus:     5,
		SpecialBonus:      5,
		WaitCreditDivisor: 10,
		WaitCreditCap:     20,
	}
}

// WeightsFromConfig overrides the urgency base weights, keeping defaults for unset values.
func WeightsFromConfig(cfg config.UrgencyWeights) ScoringWeights {
	w := DefaultScoringWeights()
	if cfg.Low > 0 {
		w.Low = cfg.Low
	}
	if cfg.Medium > 0 {
		w.Medium = cfg.Medium
	}
	if cfg.High > 0 {
		w.High = cfg.High
	}
	if cfg.Critical > 0 {
		w.Critical = cfg.Critical
	}
	return w
}

// PriorityInputs are the clinical and operational factors known for an entry.
type PriorityInputs struct {
	Urgency             models.UrgencyLevel
	AgeYears            *int
	Source              models.AppointmentSource
	CheckInTime         time.Time
	SpecialRequirements bool
	SatisfactionAverage *float64
	ManualBoost         int
}

// PriorityScorer turns intake factors into an integer priority score.
type PriorityScorer struct {
	weights ScoringWeights
}

// NewPriorityScorer constructs a scorer.
func NewPriorityScorer(weights ScoringWeights) *PriorityScorer {
	if weights.WaitCreditDivisor <= 0 {
		weights.WaitCreditDivisor = 10
	}
	return &PriorityScorer{weights: weights}
}

// Score computes the score as of asOf and returns the factor snapshot used to derive it.
// The score is not clamped.
func (s *PriorityScorer) Score(in PriorityInputs, asOf time.Time) (int, models.PriorityFactors) {
	w := s.weights
	factors := models.PriorityFactors{
		Urgency:             in.Urgency,
		AgeYears:            in.AgeYears,
		Source:              in.Source,
		SpecialRequirements: in.SpecialRequirements,
		SatisfactionAverage: in.SatisfactionAverage,
		ManualBoost:         in.ManualBoost,
		ComputedAt:          asOf.UTC(),
	}

	factors.UrgencyPoints = s.urgencyWeight(in.Urgency)

	if in.AgeYears != nil {
		age := *in.AgeYears
		switch {
		case age <= w.ChildMaxAge:
			factors.AgePoints = w.ChildBonus
		case age >= w.SeniorMinAge:
			factors.AgePoints = w.SeniorBonus
		}
	}

	switch in.Source {
	case models.SourceEmergency:
		factors.SourcePoints = w.EmergencyBonus
	case models.SourceFollowUp:
		factors.SourcePoints = w.FollowUpBonus
	}

	elapsed := asOf.Sub(in.CheckInTime).Minutes()
	if elapsed < 0 || in.CheckInTime.IsZero() {
		elapsed = 0
	}
	factors.ElapsedMinutes = elapsed
	factors.WaitCredit = math.Min(elapsed/w.WaitCreditDivisor, w.WaitCreditCap)

	if in.SpecialRequirements {
		factors.SpecialPoints = w.SpecialBonus
	}

	if in.SatisfactionAverage != nil {
		factors.SatisfactionPoints = *in.SatisfactionAverage
	}

	raw := float64(factors.UrgencyPoints+factors.AgePoints+factors.SourcePoints+factors.SpecialPoints) +
		factors.WaitCredit + factors.SatisfactionPoints
	return int(math.Round(raw)) + in.ManualBoost, factors
}

// Rescore recomputes a score from a stored factor snapshot with a refreshed wait credit.
func (s *PriorityScorer) Rescore(stored models.PriorityFactors, checkIn, asOf time.Time) (int, models.PriorityFactors) {
	return s.Score(PriorityInputs{
		Urgency:             stored.Urgency,
		AgeYears:            stored.AgeYears,
		Source:              stored.Source,
		CheckInTime:         checkIn,
		SpecialRequirements: stored.SpecialRequirements,
		SatisfactionAverage: stored.SatisfactionAverage,
		ManualBoost:         stored.ManualBoost,
	}, asOf)
}

func (s *PriorityScorer) urgencyWeight(level models.UrgencyLevel) int {
	switch models.UrgencyLevel(strings.ToLower(string(level))) {
	case models.UrgencyCritical, models.UrgencyEmergency:
		return s.weights.Critical
	case models.UrgencyHigh:
		return s.weights.High
	case models.UrgencyMedium:
		return s.weights.Medium
	default:
		return s.weights.Low
	}
}

// ResolveSource picks the appointment source: explicit override, then the linked appointment,
// then emergency for emergency walk-ins, else walk-in.
func ResolveSource(override *string, appointment *models.Appointment, urgency models.UrgencyLevel) models.AppointmentSource {
	if override != nil && strings.TrimSpace(*override) != "" {
		return models.AppointmentSource(strings.ToLower(strings.TrimSpace(*override)))
	}
	if appointment != nil && appointment.Type != "" {
		return appointment.Type
	}
	if urgency == models.UrgencyEmergency {
		return models.SourceEmergency
	}
	return models.SourceWalkIn
}
