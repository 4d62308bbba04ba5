package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/tenant"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
)

// Queries are matched by regexp on their stable prefix; GORM appends
// ORDER BY / LIMIT clauses that are not worth pinning.

const (
	testTenantID = "tenant-test-123"
	testProvider = "twilio"
)

// AnyTime matches any time.Time argument.
type AnyTime struct{}

// Match satisfies sqlmock.Argument.
func (AnyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

// AnyJSON matches jsonb columns, which reach the driver as string, []byte or NULL.
type AnyJSON struct{}

// Match satisfies sqlmock.Argument.
func (AnyJSON) Match(v driver.Value) bool {
	switch v.(type) {
	case []byte, string, nil:
		return true
	default:
		return false
	}
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	logger.Log = zaptest.NewLogger(t)

	return gormDB, mock, func() { assert.NoError(t, mock.ExpectationsWereMet()) }
}

// newTestRepo returns a repo over sqlmock and a context scoped to testTenantID.
func newTestRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock, context.Context) {
	gormDB, mock, teardown := newMockDB(t)
	t.Cleanup(teardown)
	ctx := tenant.WithTenantID(context.Background(), testTenantID)
	return &PostgresRepo{db: gormDB}, mock, ctx
}

func TestIsTransientError(t *testing.T) {
	transient := []error{
		context.DeadlineExceeded,
		fmt.Errorf("claim batch: %w", context.DeadlineExceeded),
		&pgconn.PgError{Code: "08006"},
		&pgconn.PgError{Code: "53300"},
		&pgconn.PgError{Code: "40P01"},
		&pgconn.PgError{Code: "40001"},
		errors.New("dial tcp 10.1.0.4:5432: connect: connection refused"),
		errors.New("read tcp 10.1.0.9:41822->10.1.0.4:5432: i/o timeout"),
		errors.New("write: broken pipe"),
		errors.New("FATAL: the database system is starting up"),
	}
	for _, err := range transient {
		assert.Truef(t, isTransientError(err), "expected transient: %v", err)
	}

	permanent := []error{
		nil,
		gorm.ErrRecordNotFound,
		gorm.ErrInvalidTransaction,
		&pgconn.PgError{Code: "42601"},
		&pgconn.PgError{Code: "23505", ConstraintName: "idx_webhook_events_provider_event"},
		errors.New("column \"status_sequence\" does not exist"),
	}
	for _, err := range permanent {
		assert.Falsef(t, isTransientError(err), "expected permanent: %v", err)
	}
}

func TestPostgresRepo_Close(t *testing.T) {
	gormDB, mock, teardown := newMockDB(t)
	t.Cleanup(teardown)
	repo := &PostgresRepo{db: gormDB}

	mock.ExpectClose()
	assert.NoError(t, repo.Close(context.Background()))

	gormDB, mock, teardown = newMockDB(t)
	t.Cleanup(teardown)
	repo = &PostgresRepo{db: gormDB}

	mock.ExpectClose().WillReturnError(errors.New("pool busy"))
	err := repo.Close(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool busy")
}

func TestCheckConstraintViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "idx_outbox_jobs_idempotency"}

	tests := []struct {
		in   error
		want error
		frag string
	}{
		{gorm.ErrRecordNotFound, apperrors.ErrNotFound, "record not found"},
		{fmt.Errorf("find call: %w", gorm.ErrRecordNotFound), apperrors.ErrNotFound, "record not found"},
		{unique, apperrors.ErrDuplicate, "idx_outbox_jobs_idempotency"},
		{fmt.Errorf("enqueue: %w", unique), apperrors.ErrDuplicate, "idx_outbox_jobs_idempotency"},
		{&pgconn.PgError{Code: "23503", ConstraintName: "fk_call_sessions_lines"}, apperrors.ErrBadRequest, "fk_call_sessions_lines"},
		{&pgconn.PgError{Code: "23502", ColumnName: "phone_number"}, apperrors.ErrBadRequest, "phone_number"},
		{&pgconn.PgError{Code: "23514", ConstraintName: "chk_outbox_status"}, apperrors.ErrBadRequest, "chk_outbox_status"},
		{&pgconn.PgError{Code: "22001", ColumnName: "body"}, apperrors.ErrBadRequest, "body"},
		{&pgconn.PgError{Code: "22P02", DataTypeName: "uuid"}, apperrors.ErrBadRequest, "uuid"},
		{&pgconn.PgError{Code: "40P01"}, apperrors.ErrDatabase, "40P01"},
		{&pgconn.PgError{Code: "08003"}, apperrors.ErrDatabase, "08003"},
		{&pgconn.PgError{Code: "XX000"}, apperrors.ErrDatabase, "XX000"},
		{errors.New("unexpected EOF"), apperrors.ErrDatabase, "unexpected EOF"},
	}

	assert.NoError(t, checkConstraintViolation(nil))
	for _, tt := range tests {
		t.Run(tt.in.Error(), func(t *testing.T) {
			out := checkConstraintViolation(tt.in)
			assert.ErrorIs(t, out, tt.want)
			assert.ErrorIs(t, out, tt.in)
			assert.ErrorContains(t, out, tt.frag)
		})
	}
}

func TestRetryableOperation(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	ctx := context.Background()

	t.Run("transient error is retried", func(t *testing.T) {
		calls := 0
		err := retryableOperation(ctx, newRetryPolicy(ctx, time.Second), "claim", func() error {
			calls++
			if calls < 3 {
				return &pgconn.PgError{Code: "08006"}
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("mapped errors are permanent", func(t *testing.T) {
		for _, in := range []error{gorm.ErrRecordNotFound, &pgconn.PgError{Code: "23505"}} {
			calls := 0
			err := retryableOperation(ctx, newRetryPolicy(ctx, time.Second), "enqueue", func() error {
				calls++
				return checkConstraintViolation(in)
			})
			assert.Error(t, err)
			assert.Equal(t, 1, calls)
		}
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := retryableOperation(cctx, newRetryPolicy(cctx, time.Second), "claim", func() error {
			return &pgconn.PgError{Code: "53300"}
		})
		assert.Error(t, err)
		var permanent *backoff.PermanentError
		assert.False(t, errors.As(err, &permanent))
	})
}

func TestTenantScope(t *testing.T) {
	_, err := tenantScope(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	got, err := tenantScope(tenant.WithTenantID(context.Background(), testTenantID))
	require.NoError(t, err)
	assert.Equal(t, testTenantID, got)
}

func TestScopedOperationsRequireTenant(t *testing.T) {
	gormDB, _, teardown := newMockDB(t)
	t.Cleanup(teardown)
	repo := &PostgresRepo{db: gormDB}
	ctx := context.Background()

	_, err := repo.FindJobByID(ctx, "job-1")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	_, err = repo.FindBusinessLineByID(ctx, "line-1")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	_, err = repo.IsOptedOut(ctx, "+15550000000", "sms")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}
