package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// fakeTx records the statements and savepoint outcomes pgx would send.
type fakeTx struct {
	pgx.Tx
	execErr    error
	statements []string
	commits    int
	rollbacks  int
	parent     *fakeTx
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{execErr: t.execErr, parent: t}, nil
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	root := t
	for root.parent != nil {
		root = root.parent
	}
	root.statements = append(root.statements, sql)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.parent != nil {
		t.parent.commits++
	}
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.parent != nil {
		t.parent.rollbacks++
	}
	return nil
}

func TestWithSavepointCommitsNestedWork(t *testing.T) {
	outer := &fakeTx{}
	ctx := context.WithValue(context.Background(), txKey{}, pgx.Tx(outer))

	err := WithSavepoint(ctx, nil, func(q Querier) error {
		_, err := q.Exec(ctx, "INSERT INTO audit_logs DEFAULT VALUES")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []string{"INSERT INTO audit_logs DEFAULT VALUES"}, outer.statements)
	require.Equal(t, 1, outer.commits)
	require.Zero(t, outer.rollbacks)
}

func TestWithSavepointRollsBackOnlyTheFailedStatement(t *testing.T) {
	insertErr := errors.New("audit_logs: permission denied")
	outer := &fakeTx{execErr: insertErr}
	ctx := context.WithValue(context.Background(), txKey{}, pgx.Tx(outer))

	err := WithSavepoint(ctx, nil, func(q Querier) error {
		require.NotSame(t, outer, q)
		_, err := q.Exec(ctx, "INSERT INTO audit_logs DEFAULT VALUES")
		return err
	})
	require.ErrorIs(t, err, insertErr)
	require.Equal(t, 1, outer.rollbacks)
	require.Zero(t, outer.commits)
}
