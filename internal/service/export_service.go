package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/clinic-queue-api/internal/models"
	appErrors "github.com/noah-isme/clinic-queue-api/pkg/errors"
	"github.com/noah-isme/clinic-queue-api/pkg/export"
)

// ExportFormat selects the rendered file type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type renderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
}

type providerSnapshotSource interface {
	ProviderSnapshot(ctx context.Context, providerID string) (*models.QueueSnapshot, error)
}

// ExportResult is a rendered queue board ready to stream.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders the current provider queue to CSV or PDF.
type ExportService struct {
	snapshots providerSnapshotSource
	renderers map[ExportFormat]renderer
	logger    *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(snapshots providerSnapshotSource, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		snapshots: snapshots,
		renderers: map[ExportFormat]renderer{
			ExportFormatCSV: export.NewCSVExporter(),
			ExportFormatPDF: export.NewPDFExporter(),
		},
		logger: logger,
	}
}

// ExportProvider renders the provider's current snapshot in the requested format.
func (s *ExportService) ExportProvider(ctx context.Context, providerID string, format string) (*ExportResult, error) {
	f := ExportFormat(strings.ToLower(strings.TrimSpace(format)))
	if f == "" {
		f = ExportFormatCSV
	}
	r, ok := s.renderers[f]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	snapshot, err := s.snapshots.ProviderSnapshot(ctx, providerID)
	if err != nil {
		return nil, err
	}

	payload, err := r.Render(snapshotDataset(snapshot))
	if err != nil {
		s.logger.Error("failed to render queue export", zap.String("provider_id", providerID), zap.String("format", string(f)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	return &ExportResult{
		Filename:    fmt.Sprintf("queue_%s_%s.%s", sanitizeFilename(providerID), snapshot.GeneratedAt.Format("20060102_150405"), f),
		ContentType: r.ContentType(),
		Payload:     payload,
	}, nil
}

var exportHeaders = []string{"Position", "Patient ID", "Status", "Urgency", "Source", "Score", "Est. Wait (min)", "Checked In", "Called"}

func snapshotDataset(snapshot *models.QueueSnapshot) export.Dataset {
	rows := make([][]string, 0, len(snapshot.Entries))
	for _, entry := range snapshot.Entries {
		position := ""
		if entry.QueuePosition != nil {
			position = strconv.Itoa(*entry.QueuePosition)
		}
		rows = append(rows, []string{
			position,
			entry.PatientID,
			string(entry.Status),
			string(entry.UrgencyLevel),
			string(entry.AppointmentSource),
			strconv.Itoa(entry.PriorityScore),
			strconv.Itoa(entry.EstimatedWaitMinutes),
			entry.CheckInTime.UTC().Format(time.RFC3339),
			formatExportTime(entry.CalledTime),
		})
	}
	return export.Dataset{
		Title:   fmt.Sprintf("Queue %s %s", snapshot.ProviderID, snapshot.GeneratedAt.UTC().Format("2006-01-02 15:04")),
		Headers: exportHeaders,
		Rows:    rows,
	}
}

func formatExportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
