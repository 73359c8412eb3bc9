package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeTx implements only what TransactionManager touches.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { t.rolledBack = true; return nil }

type fakeDB struct{ txs []*fakeTx }

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	d.txs = append(d.txs, tx)
	return tx, nil
}

func TestTransactionCommitsOnSuccess(t *testing.T) {
	db := &fakeDB{}
	tm := NewTransactionManager(db, TransactionConfig{MaxRetries: 2})
	if err := tm.Run(context.Background(), "ok", func(pgx.Tx) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if len(db.txs) != 1 || !db.txs[0].committed || db.txs[0].rolledBack {
		t.Errorf("unexpected transactions %+v", db.txs)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	db := &fakeDB{}
	tm := NewTransactionManager(db, TransactionConfig{MaxRetries: 2})
	boom := errors.New("insert failed")
	err := tm.Run(context.Background(), "fail", func(pgx.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if len(db.txs) != 1 || db.txs[0].committed || !db.txs[0].rolledBack {
		t.Errorf("plain errors must roll back without retry: %+v", db.txs)
	}
}

func TestTransactionRetriesSerializationFailures(t *testing.T) {
	db := &fakeDB{}
	tm := NewTransactionManager(db, TransactionConfig{MaxRetries: 3})
	calls := 0
	err := tm.Run(context.Background(), "retry", func(pgx.Tx) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(db.txs) != 3 || !db.txs[2].committed || !db.txs[0].rolledBack {
		t.Errorf("expected two rolled back attempts then a commit, got %d", len(db.txs))
	}
}

func TestTransactionGivesUp(t *testing.T) {
	db := &fakeDB{}
	tm := NewTransactionManager(db, TransactionConfig{MaxRetries: 1})
	err := tm.Run(context.Background(), "deadlock", func(pgx.Tx) error {
		return &pgconn.PgError{Code: "40P01"}
	})
	if err == nil || !isRetryable(err) {
		t.Fatalf("expected wrapped deadlock error, got %v", err)
	}
	if len(db.txs) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(db.txs))
	}
}
