// Package sqlite implements the repository contracts over an embedded
// SQLite database. One writer connection serializes all mutations;
// reads go through a small pool. WAL mode keeps readers unblocked
// while the writer commits.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"curio-backend/internal/config"
	apperrors "curio-backend/internal/errors"
)

// Store owns the database handles and the transaction plumbing shared
// by the repository implementations.
type Store struct {
	writer *sql.DB
	reader *sql.DB
	logger *zap.Logger
	path   string
}

// Open prepares the database file and both connection pools. The
// caller is expected to run Migrate before handing the store to the
// repositories.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	path := cfg.Path
	if path == "" {
		return nil, apperrors.Internal(apperrors.CodeConfigurationError, "database path is empty").Build()
	}
	if !inMemory(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, apperrors.Internal(apperrors.CodeConfigurationError, "create database directory").
				WithContext("path", path).
				WithCause(err).Build()
		}
	}

	writer, err := sql.Open("sqlite3", dsn(path, "immediate"))
	if err != nil {
		return nil, openErr(path, err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	reader, err := sql.Open("sqlite3", dsn(path, "deferred"))
	if err != nil {
		writer.Close()
		return nil, openErr(path, err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(4)

	s := &Store{
		writer: writer,
		reader: reader,
		logger: logger.Named("sqlite"),
		path:   path,
	}
	if err := s.Ping(context.Background()); err != nil {
		s.Close()
		return nil, err
	}
	s.logger.Info("database opened", zap.String("path", path))
	return s, nil
}

func dsn(path, txlock string) string {
	if !strings.HasPrefix(path, "file:") && !strings.HasPrefix(path, ":memory:") {
		path = "file:" + path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep +
		"_busy_timeout=5000" +
		"&_journal_mode=WAL" +
		"&_foreign_keys=on" +
		"&_synchronous=NORMAL" +
		"&_txlock=" + txlock
}

func inMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func openErr(path string, err error) error {
	return apperrors.Connection(apperrors.CodeDatabaseConnectionError, "open database").
		WithContext("path", path).
		WithCause(err).Build()
}

// Ping verifies both pools can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.writer.PingContext(ctx); err != nil {
		return apperrors.Connection(apperrors.CodeDatabaseConnectionError, "writer ping failed").
			WithCause(err).Build()
	}
	if err := s.reader.PingContext(ctx); err != nil {
		return apperrors.Connection(apperrors.CodeDatabaseConnectionError, "reader ping failed").
			WithCause(err).Build()
	}
	return nil
}

// Close releases both pools, reader first so the writer can checkpoint.
func (s *Store) Close() error {
	rerr := s.reader.Close()
	werr := s.writer.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// dbtx is the querying surface shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFrom(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// write returns the ambient transaction when one is installed, else
// the single writer connection.
func (s *Store) write(ctx context.Context) dbtx {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return s.writer
}

// read returns the ambient transaction when one is installed, so reads
// inside WithTransaction observe their own writes; otherwise the read
// pool.
func (s *Store) read(ctx context.Context) dbtx {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return s.reader
}

// WithTransaction implements repository.TransactionManager. A nested
// call joins the ambient transaction instead of opening a second one.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Connection(apperrors.CodeDatabaseConnectionError, "begin transaction").
			WithCause(err).Build()
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("rollback failed", zap.Error(rbErr))
			}
		}
	}()
	if err := fn(withTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Internal(apperrors.CodeDatabaseTransactionError, "commit transaction").
			WithCause(err).Build()
	}
	committed = true
	return nil
}

// storeErr maps a driver error onto the error taxonomy.
func storeErr(op string, err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch {
		case serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return apperrors.Conflict(apperrors.CodeDuplicateEntry, "uniqueness violated").
				WithOperation(op).
				WithCause(err).Build()
		case serr.Code == sqlite3.ErrConstraint:
			return apperrors.Conflict(apperrors.CodeDatabaseConstraintViolation, "constraint violated").
				WithOperation(op).
				WithCause(err).Build()
		case serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked:
			return apperrors.Connection(apperrors.CodeDatabaseConnectionError, "database busy").
				WithOperation(op).
				WithCause(err).Build()
		}
	}
	return apperrors.Internal(apperrors.CodeDatabaseQueryError, "query failed").
		WithOperation(op).
		WithCause(err).Build()
}
