package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/clinic-queue-api/internal/models"
)

// ErrStaleEntry is returned when a guarded write finds the row changed since it was read.
var ErrStaleEntry = errors.New("queue entry changed concurrently")

const queueEntryColumns = `id, patient_id, provider_id, location_id, appointment_id, priority_score, queue_position,
	estimated_wait_minutes, status, check_in_time, called_time, consultation_start_time, consultation_end_time,
	actual_duration_minutes, special_requirements, urgency_level, appointment_source, notes, priority_factors,
	version, updated_at`

// QueueEntryRepository persists queue entries and their lifecycle timestamps.
type QueueEntryRepository struct {
	db *sqlx.DB
}

// NewQueueEntryRepository constructs the repository.
func NewQueueEntryRepository(db *sqlx.DB) *QueueEntryRepository {
	return &QueueEntryRepository{db: db}
}

// QueueTx is the transactional handle handed to provider-scoped units of work.
type QueueTx interface {
	Insert(ctx context.Context, entry *models.QueueEntry) error
	LockEntry(ctx context.Context, id string) (*models.QueueEntry, error)
	ListWaiting(ctx context.Context, providerID string) ([]models.QueueEntry, error)
	Update(ctx context.Context, entry *models.QueueEntry) error
	UpdateRanks(ctx context.Context, entries []models.QueueEntry) error
}

// WithinProviderTx runs fn in a transaction holding the provider's advisory lock.
// The lock is released on commit or rollback.
func (r *QueueEntryRepository) WithinProviderTx(ctx context.Context, providerID string, fn func(ctx context.Context, tx QueueTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin queue transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, providerID); err != nil {
		return fmt.Errorf("lock provider queue: %w", translateTxError(err))
	}

	if err = fn(ctx, &queueTx{tx: tx}); err != nil {
		return translateTxError(err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit queue transaction: %w", translateTxError(err))
	}
	return nil
}

// GetByID fetches a single entry.
func (r *QueueEntryRepository) GetByID(ctx context.Context, id string) (*models.QueueEntry, error) {
	query := `SELECT ` + queueEntryColumns + ` FROM queue_entries WHERE id = $1`
	var entry models.QueueEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListActiveByProvider returns waiting, called and in-consultation entries of one provider.
func (r *QueueEntryRepository) ListActiveByProvider(ctx context.Context, providerID string) ([]models.QueueEntry, error) {
	query := `SELECT ` + queueEntryColumns + ` FROM queue_entries
	WHERE provider_id = $1 AND status IN ('waiting', 'called', 'in_consultation')
	ORDER BY priority_score DESC, check_in_time ASC, id ASC`
	var entries []models.QueueEntry
	if err := r.db.SelectContext(ctx, &entries, query, providerID); err != nil {
		return nil, fmt.Errorf("list active queue entries: %w", err)
	}
	return entries, nil
}

// ListActiveByLocation returns active entries of every provider at a location.
func (r *QueueEntryRepository) ListActiveByLocation(ctx context.Context, locationID string) ([]models.QueueEntry, error) {
	query := `SELECT ` + queueEntryColumns + ` FROM queue_entries
	WHERE location_id = $1 AND status IN ('waiting', 'called', 'in_consultation')
	ORDER BY provider_id ASC, priority_score DESC, check_in_time ASC, id ASC`
	var entries []models.QueueEntry
	if err := r.db.SelectContext(ctx, &entries, query, locationID); err != nil {
		return nil, fmt.Errorf("list location queue entries: %w", err)
	}
	return entries, nil
}

// QueueScope selects either a provider or a location.
type QueueScope struct {
	ProviderID string
	LocationID string
}

// CountByStatus tallies entries checked in since the given instant.
func (r *QueueEntryRepository) CountByStatus(ctx context.Context, scope QueueScope, since time.Time) (models.StatusCounts, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT status, COUNT(*) AS total FROM queue_entries WHERE check_in_time >= $1`)
	args := []interface{}{since}
	if scope.ProviderID != "" {
		args = append(args, scope.ProviderID)
		fmt.Fprintf(&builder, " AND provider_id = $%d", len(args))
	}
	if scope.LocationID != "" {
		args = append(args, scope.LocationID)
		fmt.Fprintf(&builder, " AND location_id = $%d", len(args))
	}
	builder.WriteString(" GROUP BY status")

	var rows []struct {
		Status models.QueueStatus `db:"status"`
		Total  int                `db:"total"`
	}
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("count queue entries: %w", err)
	}
	counts := make(models.StatusCounts, len(models.QueueStatuses))
	for _, status := range models.QueueStatuses {
		counts[status] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// ListProvidersWithWaiting returns provider ids that currently have waiting entries.
func (r *QueueEntryRepository) ListProvidersWithWaiting(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT provider_id FROM queue_entries WHERE status = 'waiting' ORDER BY provider_id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list providers with waiting entries: %w", err)
	}
	return ids, nil
}

// AverageConsultationMinutes returns the mean consultation length of entries completed since the cutoff.
// The count is zero when no history exists.
func (r *QueueEntryRepository) AverageConsultationMinutes(ctx context.Context, providerID string, since time.Time) (float64, int, error) {
	const query = `SELECT
	COALESCE(AVG(EXTRACT(EPOCH FROM (consultation_end_time - consultation_start_time)) / 60.0), 0) AS average,
	COUNT(*) AS samples
FROM queue_entries
WHERE provider_id = $1
	AND status = 'completed'
	AND consultation_start_time IS NOT NULL
	AND consultation_end_time >= $2`
	var row struct {
		Average float64 `db:"average"`
		Samples int     `db:"samples"`
	}
	if err := r.db.GetContext(ctx, &row, query, providerID, since); err != nil {
		return 0, 0, fmt.Errorf("average consultation minutes: %w", err)
	}
	return row.Average, row.Samples, nil
}

// PatientSatisfactionAverage returns the patient's historical satisfaction rating, or nil without feedback.
func (r *QueueEntryRepository) PatientSatisfactionAverage(ctx context.Context, patientID string) (*float64, error) {
	const query = `SELECT AVG(rating) FROM patient_feedback WHERE patient_id = $1`
	var avg sql.NullFloat64
	if err := r.db.GetContext(ctx, &avg, query, patientID); err != nil {
		return nil, fmt.Errorf("patient satisfaction average: %w", err)
	}
	if !avg.Valid {
		return nil, nil
	}
	value := avg.Float64
	return &value, nil
}

type queueTx struct {
	tx *sqlx.Tx
}

func (q *queueTx) Insert(ctx context.Context, entry *models.QueueEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = models.QueueStatusWaiting
	}
	if entry.CheckInTime.IsZero() {
		entry.CheckInTime = time.Now().UTC()
	}
	entry.UpdatedAt = time.Now().UTC()
	entry.Version = 1
	const query = `INSERT INTO queue_entries
	(id, patient_id, provider_id, location_id, appointment_id, priority_score, queue_position, estimated_wait_minutes,
	 status, check_in_time, special_requirements, urgency_level, appointment_source, notes, priority_factors, version, updated_at)
	VALUES (:id, :patient_id, :provider_id, :location_id, :appointment_id, :priority_score, :queue_position, :estimated_wait_minutes,
	 :status, :check_in_time, :special_requirements, :urgency_level, :appointment_source, :notes, :priority_factors, :version, :updated_at)`
	if _, err := q.tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

func (q *queueTx) LockEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	query := `SELECT ` + queueEntryColumns + ` FROM queue_entries WHERE id = $1 FOR UPDATE`
	var entry models.QueueEntry
	if err := q.tx.GetContext(ctx, &entry, query, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (q *queueTx) ListWaiting(ctx context.Context, providerID string) ([]models.QueueEntry, error) {
	query := `SELECT ` + queueEntryColumns + ` FROM queue_entries
	WHERE provider_id = $1 AND status = 'waiting'
	ORDER BY priority_score DESC, check_in_time ASC, id ASC
	FOR UPDATE`
	var entries []models.QueueEntry
	if err := q.tx.SelectContext(ctx, &entries, query, providerID); err != nil {
		return nil, fmt.Errorf("list waiting queue entries: %w", err)
	}
	return entries, nil
}

// Update writes every mutable column, guarded by the version the entry was read at.
func (q *queueTx) Update(ctx context.Context, entry *models.QueueEntry) error {
	entry.UpdatedAt = time.Now().UTC()
	const query = `UPDATE queue_entries SET
	priority_score = :priority_score,
	queue_position = :queue_position,
	estimated_wait_minutes = :estimated_wait_minutes,
	status = :status,
	called_time = :called_time,
	consultation_start_time = :consultation_start_time,
	consultation_end_time = :consultation_end_time,
	actual_duration_minutes = :actual_duration_minutes,
	notes = :notes,
	priority_factors = :priority_factors,
	version = version + 1,
	updated_at = :updated_at
	WHERE id = :id AND version = :version`
	result, err := q.tx.NamedExecContext(ctx, query, entry)
	if err != nil {
		return fmt.Errorf("update queue entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check queue entry update rows: %w", err)
	}
	if rows == 0 {
		return ErrStaleEntry
	}
	entry.Version++
	return nil
}

// UpdateRanks persists position and wait estimate for each entry, guarded by version.
func (q *queueTx) UpdateRanks(ctx context.Context, entries []models.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	stmt, err := q.tx.PreparexContext(ctx, `UPDATE queue_entries
	SET queue_position = $1, estimated_wait_minutes = $2, version = version + 1, updated_at = $3
	WHERE id = $4 AND version = $5`)
	if err != nil {
		return fmt.Errorf("prepare rank update: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range entries {
		entry := &entries[i]
		result, err := stmt.ExecContext(ctx, entry.QueuePosition, entry.EstimatedWaitMinutes, now, entry.ID, entry.Version)
		if err != nil {
			return fmt.Errorf("update rank for %s: %w", entry.ID, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rank update rows: %w", err)
		}
		if rows == 0 {
			return ErrStaleEntry
		}
		entry.Version++
		entry.UpdatedAt = now
	}
	return nil
}

// translateTxError folds PostgreSQL serialization failures and deadlocks into ErrStaleEntry.
func translateTxError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrStaleEntry, pqErr.Message)
		}
	}
	return err
}
