// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// MigrationsFS はドライバごとのマイグレーションSQLを返す。
func MigrationsFS(driver string) (fs.FS, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
		return fs.Sub(migrationsFS, "migrations/"+driver)
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", driver)
	}
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// SQLiteの場合はOpenSQLiteで開いた接続をそのまま渡し、ストアと同じファイルを確実に対象にする。
// 返したmigrateのCloseでその接続も閉じる。
func NewMigrator(driver, databaseURL string) (*migrate.Migrate, error) {
	sub, err := MigrationsFS(driver)
	if err != nil {
		return nil, err
	}

	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	if driver == DriverSQLite {
		return newSQLiteMigrator(src, databaseURL)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

func newSQLiteMigrator(src source.Driver, databaseURL string) (*migrate.Migrate, error) {
	db, err := OpenSQLite(databaseURL)
	if err != nil {
		return nil, err
	}

	target, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare sqlite migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, DriverSQLite, target)
	if err != nil {
		_ = target.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(driver, databaseURL string) error {
	m, err := NewMigrator(driver, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
