package postgres

import (
	"context"
	"errors"
	"fmt"

	"git.platform.alem.school/amibragim/expedition-supply/internal/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Execer is the slice of pgx.Tx the repositories need.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ErrNoTx is returned by repositories called outside WithinTx.
var ErrNoTx = errors.New("postgres: no transaction in context")

type txKey struct{}

// WithExecer returns a context carrying the transaction repositories should use.
func WithExecer(ctx context.Context, tx Execer) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// MustTxFromContext returns the transaction stored by WithinTx.
func MustTxFromContext(ctx context.Context) (Execer, error) {
	tx, ok := ctx.Value(txKey{}).(Execer)
	if !ok || tx == nil {
		return nil, ErrNoTx
	}
	return tx, nil
}

// UnitOfWork runs functions inside a pgx transaction.
type UnitOfWork struct {
	pool *pgxpool.Pool
}

// NewUnitOfWork wraps pool.
func NewUnitOfWork(pool *pgxpool.Pool) ports.UnitOfWork {
	return &UnitOfWork{pool: pool}
}

// WithinTx commits when fn succeeds and rolls back otherwise.
func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(WithExecer(ctx, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
