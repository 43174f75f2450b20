package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lockItemSQL = regexp.QuoteMeta(`SELECT stock FROM items WHERE id = $1 FOR UPDATE`)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestLockAndReadLocksInAscendingOrder(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(lockItemSQL).WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"stock"}).AddRow(5))
	mock.ExpectQuery(lockItemSQL).WithArgs(int64(20)).
		WillReturnRows(pgxmock.NewRows([]string{"stock"}))
	mock.ExpectQuery(lockItemSQL).WithArgs(int64(30)).
		WillReturnRows(pgxmock.NewRows([]string{"stock"}).AddRow(-1))
	mock.ExpectCommit()

	var got map[int64]int
	err := store.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		var err error
		got, err = tx.LockAndRead(ctx, []int64{30, 10, 20, 10})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{10: 5, 30: -1}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackWhenFnFails(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock, 0)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE items SET stock = stock - $2 WHERE id = $1`)).
		WithArgs(int64(7), 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		if err := tx.Decrement(ctx, 7, 2); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxSetsLockTimeout(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock, 1500*time.Millisecond)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT set_config('lock_timeout', $1, true)`)).
		WithArgs("1500ms").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(context.Context, orders.Tx) error { return nil })
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockWaitTimeoutIsTransient(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(lockItemSQL).WithArgs(int64(1)).
		WillReturnError(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		_, err := tx.LockAndRead(ctx, []int64{1})
		return err
	})
	require.Error(t, err)
	assert.True(t, orders.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteOrderAlreadyPaidIsConflict(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock, 0)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE orders SET payment_method = $2, status = $3`)).
		WithArgs(int64(3), "cash", "completed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return tx.CompleteOrder(ctx, 3, "cash")
	})
	assert.ErrorIs(t, err, orders.ErrConflict)
	assert.True(t, orders.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusMissingOrder(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock, 0)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE orders SET status = $2 WHERE id = $1`)).
		WithArgs(int64(99), "served").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return tx.SetStatus(ctx, 99, "served")
	})
	assert.ErrorIs(t, err, orders.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginFailureIsClassified(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock, 0)

	mock.ExpectBegin().WillReturnError(&pgconn.PgError{Code: "08006"})

	called := false
	err := store.InTx(context.Background(), func(context.Context, orders.Tx) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, orders.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"caller canceled", context.Canceled, false},
		{"caller deadline", context.DeadlineExceeded, false},
		{"plain", errors.New("syntax"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.transient, orders.IsTransient(got))
			if tt.err != nil {
				assert.ErrorIs(t, got, tt.err)
			}
		})
	}
}

func TestSortedUnique(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 9}, sortedUnique([]int64{9, 2, 1, 2, 9}))
	assert.Empty(t, sortedUnique(nil))
}
