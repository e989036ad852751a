package service

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/noah-isme/clinic-queue-api/internal/models"
	appErrors "github.com/noah-isme/clinic-queue-api/pkg/errors"
)

type transitionEffect func(entry *models.QueueEntry, now time.Time)

// transitionTable lists every legal status change. Pairs not listed are rejected.
var transitionTable = map[models.QueueStatus]map[models.QueueStatus]transitionEffect{
	models.QueueStatusWaiting: {
		models.QueueStatusCalled:    markCalled,
		models.QueueStatusCancelled: noEffect,
	},
	models.QueueStatusCalled: {
		models.QueueStatusInConsultation: markConsultationStarted,
		models.QueueStatusCancelled:      noEffect,
	},
	models.QueueStatusInConsultation: {
		models.QueueStatusCompleted: markCompleted,
	},
}

func noEffect(*models.QueueEntry, time.Time) {}

func markCalled(entry *models.QueueEntry, now time.Time) {
	if entry.CalledTime == nil {
		entry.CalledTime = &now
	}
}

func markConsultationStarted(entry *models.QueueEntry, now time.Time) {
	if entry.ConsultationStartTime == nil {
		entry.ConsultationStartTime = &now
	}
}

// markCompleted records total time in system (check-in to completion) as the actual duration.
func markCompleted(entry *models.QueueEntry, now time.Time) {
	if entry.ConsultationEndTime == nil {
		entry.ConsultationEndTime = &now
	}
	if entry.ActualDurationMinutes == nil {
		minutes := int(math.Round(entry.ConsultationEndTime.Sub(entry.CheckInTime).Minutes()))
		if minutes < 0 {
			minutes = 0
		}
		entry.ActualDurationMinutes = &minutes
	}
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to models.QueueStatus) bool {
	_, ok := transitionTable[from][to]
	return ok
}

// TransitionResult describes what ApplyTransition did.
type TransitionResult struct {
	From    models.QueueStatus
	To      models.QueueStatus
	Applied bool
}

// ChangesWaitingSet reports whether the waiting subset gained or lost a member.
func (r TransitionResult) ChangesWaitingSet() bool {
	return r.Applied && (r.From == models.QueueStatusWaiting || r.To == models.QueueStatusWaiting)
}

// alreadyPassed reports whether an active entry has moved beyond target on the forward path,
// so asking for target again repeats a transition that was already applied.
func alreadyPassed(entry *models.QueueEntry, target models.QueueStatus) bool {
	if entry.Status.Terminal() {
		return false
	}
	switch target {
	case models.QueueStatusCalled:
		return entry.CalledTime != nil && entry.Status == models.QueueStatusInConsultation
	default:
		return false
	}
}

// ApplyTransition moves entry to target in memory. Repeating the current status, or a forward
// stage the active entry has already passed, is a no-op.
func ApplyTransition(entry *models.QueueEntry, target models.QueueStatus, actorID, note string, now time.Time) (TransitionResult, error) {
	result := TransitionResult{From: entry.Status, To: target}
	if entry.Status == target || alreadyPassed(entry, target) {
		result.To = entry.Status
		return result, nil
	}
	if entry.Status.Terminal() {
		return result, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("entry is %s; only notes may be appended", entry.Status))
	}
	effect, ok := transitionTable[entry.Status][target]
	if !ok {
		return result, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot move entry from %s to %s", entry.Status, target))
	}

	effect(entry, now)
	entry.Status = target
	if result.From == models.QueueStatusWaiting {
		entry.QueuePosition = nil
		entry.EstimatedWaitMinutes = 0
	}
	entry.AppendNote(auditLine(now, actorID, fmt.Sprintf("%s -> %s", result.From, target), note))
	result.Applied = true
	return result, nil
}

// auditLine formats one append-only note line.
func auditLine(now time.Time, actorID, action, text string) string {
	actor := strings.TrimSpace(actorID)
	if actor == "" {
		actor = "system"
	}
	line := fmt.Sprintf("[%s] %s: %s", now.UTC().Format(time.RFC3339), actor, action)
	if text = strings.TrimSpace(text); text != "" {
		line += " | " + text
	}
	return line
}
