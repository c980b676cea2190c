package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Quill/internal/core/auth"
)

func newMockUserRepo(t *testing.T) (auth.UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewUserRepository(db), mock
}

var insertUser = regexp.QuoteMeta(`INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3) RETURNING created_at`)

func TestUserRepo_Create(t *testing.T) {
	repo, mock := newMockUserRepo(t)
	created := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(insertUser).
		WithArgs(sqlmock.AnyArg(), "alice@example.com", "hash").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	user := &auth.User{Email: "  Alice@Example.com ", PasswordHash: "hash"}
	require.NoError(t, repo.Create(context.Background(), user))
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, created, user.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Create_DuplicateEmail(t *testing.T) {
	repo, mock := newMockUserRepo(t)

	mock.ExpectQuery(insertUser).
		WithArgs("user-1", "alice@example.com", "hash").
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "users_email_key"})

	err := repo.Create(context.Background(), &auth.User{ID: "user-1", Email: "alice@example.com", PasswordHash: "hash"})
	assert.ErrorIs(t, err, auth.ErrEmailInUse)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Create_PrimaryKeyConflict(t *testing.T) {
	repo, mock := newMockUserRepo(t)

	mock.ExpectQuery(insertUser).
		WithArgs("user-1", "bob@example.com", "hash").
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "users_pkey"})

	err := repo.Create(context.Background(), &auth.User{ID: "user-1", Email: "bob@example.com", PasswordHash: "hash"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrEmailInUse)
}

func TestUserRepo_GetByID(t *testing.T) {
	repo, mock := newMockUserRepo(t)
	query := regexp.QuoteMeta(`SELECT id, email, password_hash, created_at FROM users WHERE id = $1`)
	created := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(query).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
			AddRow("user-1", "alice@example.com", "hash", created))
	mock.ExpectQuery(query).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}))

	user, err := repo.GetByID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "hash", user.PasswordHash)

	_, err = repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByEmail(t *testing.T) {
	repo, mock := newMockUserRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, email, password_hash, created_at FROM users WHERE LOWER(email) = $1`)).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
			AddRow("user-1", "alice@example.com", "hash", time.Now()))

	user, err := repo.GetByEmail(context.Background(), "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
