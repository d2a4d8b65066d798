package database

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/search-outbox/internal/config"
)

// Compile-time check that the mock pool satisfies Pool.
var _ Pool = pgxmock.PgxPoolIface(nil)

func TestRunInTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM search_outbox_agents").
			WillReturnResult(pgxmock.NewResult("DELETE", 2))
		mock.ExpectCommit()

		err = RunInTx(ctx, mock, pgx.TxOptions{}, zerolog.Nop(), func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, "DELETE FROM search_outbox_agents")
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		expectedErr := errors.New("intentional failure")
		err = RunInTx(ctx, mock, pgx.TxOptions{}, zerolog.Nop(), func(tx pgx.Tx) error {
			return expectedErr
		})
		assert.Equal(t, expectedErr, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps rollback failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectRollback().WillReturnError(errors.New("connection lost"))

		expectedErr := errors.New("intentional failure")
		err = RunInTx(ctx, mock, pgx.TxOptions{}, zerolog.Nop(), func(tx pgx.Tx) error {
			return expectedErr
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, expectedErr)
		assert.Contains(t, err.Error(), "connection lost")
	})

	t.Run("rolls back and re-panics", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.Panics(t, func() {
			_ = RunInTx(ctx, mock, pgx.TxOptions{}, zerolog.Nop(), func(tx pgx.Tx) error {
				panic("intentional panic")
			})
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin().WillReturnError(errors.New("pool closed"))

		err = RunInTx(ctx, mock, pgx.TxOptions{}, zerolog.Nop(), func(tx pgx.Tx) error {
			t.Fatal("fn must not run")
			return nil
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
	})

	t.Run("commit failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err = RunInTx(ctx, mock, pgx.TxOptions{}, zerolog.Nop(), func(tx pgx.Tx) error {
			return nil
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to commit transaction")
	})
}

func TestAcquireAdvisoryLockTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(int64(42)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(int64(43)).
		WillReturnError(errors.New("canceling statement"))

	require.NoError(t, AcquireAdvisoryLockTx(context.Background(), mock, 42))

	err = AcquireAdvisoryLockTx(context.Background(), mock, 43)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "advisory lock 43")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:    "localhost",
		Port:    5432,
		Name:    "search_outbox",
		SSLMode: "not-a-mode",
	}

	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestDB_CloseNilPool(t *testing.T) {
	db := &DB{}
	assert.NotPanics(t, func() {
		db.Close()
	})
}
