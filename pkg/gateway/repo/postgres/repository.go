package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/upload-gateway/pkg/gateway"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements gateway.Repository using PostgreSQL
type Repository struct {
	uow *UnitOfWork
	db  DBTX
}

// New creates a repository whose transactions and reads share pool
func New(pool *pgxpool.Pool, opts ...UnitOfWorkOption) *Repository {
	return NewWithUnitOfWork(NewUnitOfWork(WrapPool(pool), opts...), pool)
}

// NewWithUnitOfWork creates a repository from its parts. db serves reads
// outside a transaction.
func NewWithUnitOfWork(uow *UnitOfWork, db DBTX) *Repository {
	return &Repository{uow: uow, db: db}
}

func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx gateway.Tx) error) error {
	return r.uow.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, fileTx{db: tx})
	})
}

func (r *Repository) GetFileRecord(ctx context.Context, fileKey string) (*gateway.FileRecord, error) {
	query := `
		SELECT owner_email, owner_nickname, file_name, file_key, file_size, file_type, created_at
		FROM files WHERE file_key = $1`

	var rec gateway.FileRecord
	err := r.db.QueryRow(ctx, query, fileKey).Scan(
		&rec.OwnerEmail, &rec.OwnerNickname, &rec.FileName, &rec.FileKey,
		&rec.FileSize, &rec.FileType, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("file record %s: %w", fileKey, gateway.ErrNotFound)
		}
		return nil, handlePostgresError("get file record", err)
	}

	return &rec, nil
}

// fileTx exposes the statements allowed inside WithTx
type fileTx struct {
	db DBTX
}

func (t fileTx) InsertFileRecord(ctx context.Context, rec *gateway.FileRecord) error {
	query := `
		INSERT INTO files (
			owner_email, owner_nickname, file_name, file_key, file_size, file_type
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := t.db.QueryRow(ctx, query,
		rec.OwnerEmail, rec.OwnerNickname, rec.FileName,
		rec.FileKey, rec.FileSize, rec.FileType).Scan(&rec.CreatedAt)
	if err != nil {
		return handlePostgresError("insert file record", err)
	}
	return nil
}

// Error handling helper
func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w (constraint %s)", operation, gateway.ErrDuplicateKey, pgErr.ConstraintName)
		case "23502": // not_null_violation
			return fmt.Errorf("%s: %w: required field %s is missing: %w", operation, gateway.ErrInfrastructure, pgErr.ColumnName, err)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: %w: table does not exist, database migration required: %w", operation, gateway.ErrInfrastructure, err)
		default:
			return fmt.Errorf("database error in %s: %w: %w", operation, gateway.ErrInfrastructure, err)
		}
	}

	return fmt.Errorf("database error in %s: %w: %w", operation, gateway.ErrInfrastructure, err)
}
