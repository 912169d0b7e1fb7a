package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATE
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

var postgresDialect = &dialect{
	numbered: true,
	timeArg:  func(t time.Time) any { return t.UTC() },
	lock:     acquireAdvisoryLocks,
	classify: classifyPostgresError,
}

// NewPostgresGroupingRepo はPostgreSQLを使用したGroupingStoreを生成する。
// 排他はトランザクションスコープのadvisory lockで行う。
func NewPostgresGroupingRepo(db *sql.DB) GroupingStore {
	return &sqlGroupingRepo{db: db, d: postgresDialect}
}

// acquireAdvisoryLocks はLockSetに対応するadvisory lockを取得する。
// 取得順は「全体 → 日 → キー（昇順）」で固定する。
// ロックはコミットまたはロールバックで自動的に解放される。
func acquireAdvisoryLocks(ctx context.Context, tx *sql.Tx, lock LockSet) error {
	if lock.ExclusiveAll {
		_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, globalLockKey)
		return err
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock_shared($1)`, globalLockKey); err != nil {
		return err
	}

	dayQuery := `SELECT pg_advisory_xact_lock_shared($1)`
	if lock.ExclusiveDay {
		dayQuery = `SELECT pg_advisory_xact_lock($1)`
	}
	if _, err := tx.ExecContext(ctx, dayQuery, dayLockKey(lock)); err != nil {
		return err
	}

	for _, key := range memberLockKeys(lock) {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
			return err
		}
	}
	return nil
}

// classifyPostgresError はpq.Errorを分類する。
func classifyPostgresError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Message)
	case pqSerializationFailure, pqDeadlockDetected:
		return fmt.Errorf("%w: %s", ErrSerialization, pqErr.Message)
	default:
		return err
	}
}
