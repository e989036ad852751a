package service

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clinic-queue-api/internal/models"
	appErrors "github.com/noah-isme/clinic-queue-api/pkg/errors"
)

type stubSnapshotSource struct {
	snapshot *models.QueueSnapshot
	err      error
}

func (s *stubSnapshotSource) ProviderSnapshot(ctx context.Context, providerID string) (*models.QueueSnapshot, error) {
	return s.snapshot, s.err
}

func exportFixture() *models.QueueSnapshot {
	checkIn := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	one := 1
	return &models.QueueSnapshot{
		ProviderID:  "dr-1",
		GeneratedAt: checkIn.Add(time.Hour),
		Entries: []models.QueueEntry{
			{ID: "e-2", PatientID: "p-2", Status: models.QueueStatusInConsultation, UrgencyLevel: models.UrgencyHigh, AppointmentSource: models.SourceScheduled, PriorityScore: 80, CheckInTime: checkIn},
			{ID: "e-1", PatientID: "p-1", Status: models.QueueStatusWaiting, QueuePosition: &one, UrgencyLevel: models.UrgencyLow, AppointmentSource: models.SourceWalkIn, PriorityScore: 25, CheckInTime: checkIn},
		},
	}
}

func TestExportServiceCSV(t *testing.T) {
	svc := NewExportService(&stubSnapshotSource{snapshot: exportFixture()}, nil)

	result, err := svc.ExportProvider(context.Background(), "dr-1", "")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Equal(t, "queue_dr-1_20240301_100000.csv", result.Filename)

	lines := strings.Split(strings.TrimSpace(string(result.Payload)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], ",p-2,in_consultation,high,scheduled,80,0,"))
	assert.True(t, strings.HasPrefix(lines[2], "1,p-1,waiting,low,walk_in,25,0,"))
}

func TestExportServicePDF(t *testing.T) {
	svc := NewExportService(&stubSnapshotSource{snapshot: exportFixture()}, nil)

	result, err := svc.ExportProvider(context.Background(), "dr-1", "PDF")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, bytes.HasPrefix(result.Payload, []byte("%PDF")))
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	svc := NewExportService(&stubSnapshotSource{snapshot: exportFixture()}, nil)

	_, err := svc.ExportProvider(context.Background(), "dr-1", "xlsx")
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestExportServicePropagatesNotFound(t *testing.T) {
	svc := NewExportService(&stubSnapshotSource{err: appErrors.Clone(appErrors.ErrNotFound, "provider not found")}, nil)

	_, err := svc.ExportProvider(context.Background(), "ghost", "csv")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))
}
