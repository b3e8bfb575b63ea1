// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"fetch/internal/models"
	"fetch/internal/observability"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// DefaultRetryBudget bounds how long a single store operation keeps retrying
// serialization failures and deadlocks before reporting a conflict.
const DefaultRetryBudget = 2 * time.Second

// TxRunner runs store work inside a database transaction and transparently
// retries it when the store reports a transient write conflict. Callers see
// either success or a single definitive error.
type TxRunner struct {
	db     *gorm.DB
	budget time.Duration
}

// NewTxRunner creates a runner over db. A non-positive budget uses DefaultRetryBudget.
func NewTxRunner(db *gorm.DB, budget time.Duration) *TxRunner {
	if budget <= 0 {
		budget = DefaultRetryBudget
	}
	return &TxRunner{db: db, budget: budget}
}

// DB returns the underlying handle for non-transactional reads.
func (r *TxRunner) DB() *gorm.DB {
	return r.db
}

// InTx runs fn in one transaction. fn may be called more than once, so it must
// not perform side effects outside the transaction.
func (r *TxRunner) InTx(ctx context.Context, operation string, fn func(tx *gorm.DB) error) error {
	return r.Retry(ctx, operation, func() error {
		return r.db.WithContext(ctx).Transaction(fn)
	})
}

// Retry runs fn until it succeeds, fails permanently, or the budget runs out.
// Only transient store conflicts are retried; every other error is returned
// after translation into an AppError.
func (r *TxRunner) Retry(ctx context.Context, operation string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = r.budget
	b.RandomizationFactor = 0.5

	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	attempts := 0
	notify := func(err error, next time.Duration) {
		attempts++
		observability.StoreRetries.WithLabelValues(operation).Inc()
		observability.Logger.DebugContext(ctx, "store conflict, retrying",
			slog.String("operation", operation),
			slog.Int("attempt", attempts),
			slog.Duration("next_retry_in", next),
			slog.String("error", err.Error()),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if err == nil {
		return nil
	}
	return translateError(err)
}

// translateError maps driver and gorm errors onto the AppError taxonomy.
// AppErrors produced inside a transaction pass through unchanged.
func translateError(err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case isRetryable(err):
		return models.NewConflictError(err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.NewConflictError(err)
	case isUnavailable(err):
		return models.NewUnavailableError(err)
	default:
		return models.NewInternalError(err)
	}
}

// isRetryable reports serialization failures, deadlocks and sqlite lock contention.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr *net.OpError
	return errors.As(err, &netErr)
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint")
}

func isCheckConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return strings.Contains(strings.ToLower(err.Error()), "check constraint")
}
