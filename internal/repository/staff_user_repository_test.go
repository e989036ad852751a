package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clinic-queue-api/internal/models"
)

func TestStaffUserRepositoryFindByEmail(t *testing.T) {
	db, mock, cleanup := newQueueRepoMock(t)
	defer cleanup()
	repo := NewStaffUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM staff_users WHERE LOWER(email) = LOWER($1)`)).
		WithArgs("Nurse@Clinic.test").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "full_name", "role", "active", "last_login"}).
			AddRow("u-1", "nurse@clinic.test", "hash", "Nurse Joy", "NURSE", true, nil))

	user, err := repo.FindByEmail(context.Background(), "Nurse@Clinic.test")
	require.NoError(t, err)
	assert.Equal(t, models.RoleNurse, user.Role)
	assert.Nil(t, user.LastLogin)
}

func TestStaffUserRepositoryUpdateLastLogin(t *testing.T) {
	db, mock, cleanup := newQueueRepoMock(t)
	defer cleanup()
	repo := NewStaffUserRepository(db)

	ts := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE staff_users SET last_login = $1 WHERE id = $2`)).
		WithArgs(ts, "u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateLastLogin(context.Background(), "u-1", ts))
	require.NoError(t, mock.ExpectationsWereMet())
}
