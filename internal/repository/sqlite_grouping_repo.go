package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// 書き込みトランザクションはBEGIN IMMEDIATEで開始され、データベース全体で直列化されるため
// 個別のロックは取得しない。
var sqliteDialect = &dialect{
	timeArg:  func(t time.Time) any { return t.UnixNano() },
	lock:     func(context.Context, *sql.Tx, LockSet) error { return nil },
	classify: classifySQLiteError,
}

// NewSQLiteGroupingRepo はSQLiteを使用したGroupingStoreを生成する。
// dbは database.OpenSQLite で開いたものを渡すこと。
func NewSQLiteGroupingRepo(db *sql.DB) GroupingStore {
	return &sqlGroupingRepo{db: db, d: sqliteDialect}
}

// classifySQLiteError はsqlite.Errorを分類する。
func classifySQLiteError(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %s", ErrDuplicate, sqliteErr.Error())
	default:
		return err
	}
}
