package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var txnLogger = log.New(log.Writer(), "[TXN] ", log.LstdFlags)

// TransactionConfig controls retries of transactions aborted by the server.
type TransactionConfig struct {
	MaxRetries int
	RetryDelay time.Duration
}

var DefaultTransactionConfig = TransactionConfig{MaxRetries: 3, RetryDelay: 100 * time.Millisecond}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TransactionManager runs units of work in a transaction. A failed attempt
// is rolled back in full; serialization failures and deadlocks are retried.
type TransactionManager struct {
	db     txBeginner
	config TransactionConfig
}

func NewTransactionManager(db txBeginner, config TransactionConfig) *TransactionManager {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &TransactionManager{db: db, config: config}
}

// Run executes fn in a transaction and commits when it returns nil.
// Re-running after 40001/40P01 is the only automatic retry in the module: the
// server aborted the attempt and nothing of it was committed, so callers still
// observe a single outcome. Any other error is returned as is.
func (tm *TransactionManager) Run(ctx context.Context, label string, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt <= tm.config.MaxRetries; attempt++ {
		if attempt > 0 {
			txnLogger.Printf("%s: retrying after %v (attempt %d)", label, err, attempt+1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(tm.config.RetryDelay * time.Duration(attempt)):
			}
		}
		err = tm.once(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", label, tm.config.MaxRetries+1, err)
}

func (tm *TransactionManager) once(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := tm.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			txnLogger.Printf("rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isRetryable reports serialization failures and deadlocks.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// lockVideo serializes writers of one video's entries until the transaction
// ends, so concurrent replaces cannot interleave their deletes and inserts.
func lockVideo(ctx context.Context, tx pgx.Tx, videoID string) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", videoID); err != nil {
		return fmt.Errorf("lock entries of %s: %w", videoID, err)
	}
	return nil
}
