// Package sqldb: подключения к SQL-базам и генерация схемы по декларациям.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Dialect: ent-диалект для имени драйвера.
func Dialect(driver string) (string, error) {
	switch driver {
	case DriverSQLite:
		return dialect.SQLite, nil
	case DriverPostgres:
		return dialect.Postgres, nil
	}
	return "", fmt.Errorf("unsupported driver %q", driver)
}

// Open открывает пул и проверяет соединение.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if _, err := Dialect(driver); err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// одна запись за раз, иначе SQLITE_BUSY на конкурентных коммитах
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
