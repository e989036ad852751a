package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clinic-queue-api/internal/models"
	appErrors "github.com/noah-isme/clinic-queue-api/pkg/errors"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]models.QueueStatus]bool{
		{models.QueueStatusWaiting, models.QueueStatusCalled}:           true,
		{models.QueueStatusWaiting, models.QueueStatusCancelled}:        true,
		{models.QueueStatusCalled, models.QueueStatusInConsultation}:    true,
		{models.QueueStatusCalled, models.QueueStatusCancelled}:         true,
		{models.QueueStatusInConsultation, models.QueueStatusCompleted}: true,
	}
	for _, from := range models.QueueStatuses {
		for _, to := range models.QueueStatuses {
			assert.Equal(t, allowed[[2]models.QueueStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestApplyTransitionSetsTimestampsOnce(t *testing.T) {
	checkIn := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	position := 1
	entry := &models.QueueEntry{ID: "e-1", Status: models.QueueStatusWaiting, CheckInTime: checkIn, QueuePosition: &position, EstimatedWaitMinutes: 30}

	res, err := ApplyTransition(entry, models.QueueStatusCalled, "nurse", "", checkIn.Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, res.ChangesWaitingSet())
	assert.Nil(t, entry.QueuePosition)
	assert.Equal(t, 0, entry.EstimatedWaitMinutes)
	calledAt := *entry.CalledTime

	res, err = ApplyTransition(entry, models.QueueStatusCalled, "nurse", "again", checkIn.Add(12*time.Minute))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, calledAt, *entry.CalledTime)
	assert.NotContains(t, entry.Notes, "again")

	res, err = ApplyTransition(entry, models.QueueStatusInConsultation, "doc", "", checkIn.Add(15*time.Minute))
	require.NoError(t, err)
	assert.False(t, res.ChangesWaitingSet())

	_, err = ApplyTransition(entry, models.QueueStatusCompleted, "doc", "", checkIn.Add(47*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, entry.ActualDurationMinutes)
	assert.Equal(t, 47, *entry.ActualDurationMinutes)
	assert.Equal(t, checkIn.Add(15*time.Minute), *entry.ConsultationStartTime)
	assert.Equal(t, checkIn.Add(47*time.Minute), *entry.ConsultationEndTime)
	assert.Equal(t, calledAt, *entry.CalledTime)
}

func TestApplyTransitionRejectsIllegalPairs(t *testing.T) {
	entry := &models.QueueEntry{Status: models.QueueStatusWaiting}
	_, err := ApplyTransition(entry, models.QueueStatusCompleted, "doc", "", time.Now())
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInvalidTransition.Code))
	assert.Equal(t, models.QueueStatusWaiting, entry.Status)
	assert.Empty(t, entry.Notes)

	terminal := &models.QueueEntry{Status: models.QueueStatusCancelled}
	_, err = ApplyTransition(terminal, models.QueueStatusWaiting, "doc", "", time.Now())
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInvalidTransition.Code))

	res, err := ApplyTransition(terminal, models.QueueStatusCancelled, "doc", "", time.Now())
	require.NoError(t, err)
	assert.False(t, res.Applied)
}

func TestApplyTransitionRepeatedCallAfterConsultationStarts(t *testing.T) {
	checkIn := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	called := checkIn.Add(5 * time.Minute)
	started := checkIn.Add(9 * time.Minute)
	entry := &models.QueueEntry{
		Status:                models.QueueStatusInConsultation,
		CheckInTime:           checkIn,
		CalledTime:            &called,
		ConsultationStartTime: &started,
	}

	res, err := ApplyTransition(entry, models.QueueStatusCalled, "nurse", "double tap", checkIn.Add(20*time.Minute))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, models.QueueStatusInConsultation, entry.Status)
	assert.Equal(t, called, *entry.CalledTime)
	assert.Empty(t, entry.Notes)

	_, err = ApplyTransition(entry, models.QueueStatusWaiting, "nurse", "", checkIn.Add(20*time.Minute))
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInvalidTransition.Code))

	done := &models.QueueEntry{Status: models.QueueStatusCompleted, CalledTime: &called}
	_, err = ApplyTransition(done, models.QueueStatusCalled, "nurse", "", checkIn.Add(60*time.Minute))
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInvalidTransition.Code))
}

func TestAuditLine(t *testing.T) {
	at := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, "[2024-03-04T08:00:00Z] system: joined queue", auditLine(at, " ", "joined queue", ""))
	assert.Equal(t, "[2024-03-04T08:00:00Z] nurse-1: waiting -> called | room 3", auditLine(at, "nurse-1", "waiting -> called", " room 3 "))
}
