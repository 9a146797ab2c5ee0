package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/upload-gateway/pkg/gateway"
)

const (
	DefaultAcquireTimeout = 10 * time.Second
	rollbackTimeout       = 5 * time.Second
)

// Conn is a pooled connection that can start transactions
type Conn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Release()
}

// Pool hands out connections. Acquire blocks while the pool is exhausted.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
}

type pgxPool struct {
	pool *pgxpool.Pool
}

// WrapPool adapts a pgxpool.Pool to Pool
func WrapPool(pool *pgxpool.Pool) Pool {
	return pgxPool{pool: pool}
}

func (p pgxPool) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// UnitOfWork runs a function inside a single transaction on a pooled connection.
type UnitOfWork struct {
	pool           Pool
	acquireTimeout time.Duration
	logger         *slog.Logger
}

// UnitOfWorkOption configures a UnitOfWork
type UnitOfWorkOption func(*UnitOfWork)

// WithAcquireTimeout bounds how long Run waits for a connection
func WithAcquireTimeout(d time.Duration) UnitOfWorkOption {
	return func(u *UnitOfWork) {
		if d > 0 {
			u.acquireTimeout = d
		}
	}
}

// WithLogger sets the logger used for rollback failures
func WithLogger(logger *slog.Logger) UnitOfWorkOption {
	return func(u *UnitOfWork) {
		if logger != nil {
			u.logger = logger
		}
	}
}

func NewUnitOfWork(pool Pool, opts ...UnitOfWorkOption) *UnitOfWork {
	u := &UnitOfWork{
		pool:           pool,
		acquireTimeout: DefaultAcquireTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Run acquires a connection, begins a transaction and calls body with it.
// The transaction commits when body returns nil. Otherwise it is rolled back
// and body's error is returned as is; a failed rollback is only logged.
// A panic in body rolls back and is re-raised. The connection is released
// exactly once on every path.
func (u *UnitOfWork) Run(ctx context.Context, body func(ctx context.Context, tx pgx.Tx) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, u.acquireTimeout)
	conn, err := u.pool.Acquire(acquireCtx)
	cancel()
	if err != nil {
		return &gateway.TxError{Op: "acquire", Err: err}
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return &gateway.TxError{Op: "begin", Err: err}
	}

	defer func() {
		if p := recover(); p != nil {
			u.rollback(ctx, tx)
			panic(p)
		}
	}()

	if err := body(ctx, tx); err != nil {
		u.rollback(ctx, tx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return &gateway.TxError{Op: "commit", Err: err}
	}
	return nil
}

func (u *UnitOfWork) rollback(ctx context.Context, tx pgx.Tx) {
	// The caller's context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		u.logger.ErrorContext(ctx, "Failed to rollback transaction", "error", err)
	}
}
