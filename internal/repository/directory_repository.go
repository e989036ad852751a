package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clinic-queue-api/internal/models"
)

// DirectoryRepository reads patient, provider and appointment records owned by other services.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository constructs the repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// FindPatient fetches a patient by id.
func (r *DirectoryRepository) FindPatient(ctx context.Context, id string) (*models.Patient, error) {
	const query = `SELECT id, full_name, date_of_birth FROM patients WHERE id = $1`
	var patient models.Patient
	if err := r.db.GetContext(ctx, &patient, query, id); err != nil {
		return nil, err
	}
	return &patient, nil
}

// FindProvider fetches a provider by id.
func (r *DirectoryRepository) FindProvider(ctx context.Context, id string) (*models.Provider, error) {
	const query = `SELECT id, full_name, location_id, active FROM providers WHERE id = $1`
	var provider models.Provider
	if err := r.db.GetContext(ctx, &provider, query, id); err != nil {
		return nil, err
	}
	return &provider, nil
}

// FindAppointment fetches an appointment by id.
func (r *DirectoryRepository) FindAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	const query = `SELECT id, patient_id, provider_id, type, starts_at FROM appointments WHERE id = $1`
	var appointment models.Appointment
	if err := r.db.GetContext(ctx, &appointment, query, id); err != nil {
		return nil, err
	}
	return &appointment, nil
}
