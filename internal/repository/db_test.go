package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinTx_Commits(t *testing.T) {
	pool := &fakePool{}
	tr := NewTransactor(pool)

	var got Repositories
	err := tr.WithinTx(context.Background(), func(ctx context.Context, repos Repositories) error {
		got = repos
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, pool.tx)
	assert.True(t, pool.tx.committed)
	assert.NotNil(t, got.Users)
	assert.NotNil(t, got.Cases)
	assert.NotNil(t, got.Stages)
	assert.NotNil(t, got.Events)
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	pool := &fakePool{}
	tr := NewTransactor(pool)
	boom := errors.New("stage write failed")

	err := tr.WithinTx(context.Background(), func(ctx context.Context, repos Repositories) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, pool.tx.rolled)
	assert.False(t, pool.tx.committed)
}

func TestWithinTx_BeginFailure(t *testing.T) {
	pool := &fakePool{beginErr: errors.New("pool closed")}
	tr := NewTransactor(pool)

	called := false
	err := tr.WithinTx(context.Background(), func(ctx context.Context, repos Repositories) error {
		called = true
		return nil
	})
	assert.ErrorContains(t, err, "begin tx")
	assert.False(t, called)
}

func TestWithinTx_CommitFailure(t *testing.T) {
	pool := &fakePool{commitErr: errors.New("serialization failure")}
	tr := NewTransactor(pool)

	err := tr.WithinTx(context.Background(), func(ctx context.Context, repos Repositories) error {
		return nil
	})
	assert.ErrorContains(t, err, "commit tx")
}

type fakePool struct {
	tx        *fakeTx
	beginErr  error
	commitErr error
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.tx = &fakeTx{commitErr: f.commitErr}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
	commitErr error
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if f.committed {
		return pgx.ErrTxClosed
	}
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
