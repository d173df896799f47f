package repoerr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("repo not found")
	// ErrDuplicate indicates a unique constraint rejected the write.
	ErrDuplicate = errors.New("repo duplicate")
	// ErrForeignKey indicates a referenced row is missing.
	ErrForeignKey = errors.New("repo foreign key")
	// ErrRetryable indicates a transient conflict worth retrying.
	ErrRetryable = errors.New("repo retryable")
)

// Map translates driver failures into the sentinel set so callers never
// inspect Postgres SQLSTATEs or gorm internals themselves.
func Map(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrForeignKey), errors.Is(err, ErrRetryable):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tag(ErrNotFound, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return tag(ErrRetryable, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return tag(ErrDuplicate, op, err) // unique_violation
		case "23503":
			return tag(ErrForeignKey, op, err) // foreign_key_violation
		case "40001", "40P01", "55P03":
			return tag(ErrRetryable, op, err) // serialization/deadlock/lock_not_available
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "duplicate key"),
		strings.Contains(msg, "unique constraint"),
		strings.Contains(msg, "already exists"):
		return tag(ErrDuplicate, op, err)
	case strings.Contains(msg, "foreign key"):
		return tag(ErrForeignKey, op, err)
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"),
		strings.Contains(msg, "database is locked"):
		return tag(ErrRetryable, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func tag(sentinel error, op string, err error) error {
	return errors.Join(sentinel, fmt.Errorf("%s: %w", op, err))
}
