package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported driver names.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Options describes how to reach the database.
type Options struct {
	Driver string
	User   string
	Pass   string
	Host   string
	Port   string
	Name   string // database name, or file path / ":memory:" for sqlite3
}

// Open connects to the configured database and verifies the connection.
func Open(opts Options) (*sqlx.DB, error) {
	dsn, err := buildDSN(opts)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(opts.Driver, dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	if opts.Driver == DriverSQLite {
		// SQLite allows one writer; a single connection also keeps an
		// in-memory database alive for the life of the pool.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func buildDSN(o Options) (string, error) {
	switch o.Driver {
	case DriverMySQL:
		auth := o.User
		if o.Pass != "" {
			auth = fmt.Sprintf("%s:%s", o.User, o.Pass)
		}
		// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
		return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
			auth, o.Host, o.Port, o.Name), nil
	case DriverPostgres:
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			o.Host, o.Port, o.User, o.Pass, o.Name), nil
	case DriverSQLite:
		name := o.Name
		if name == "" {
			name = ":memory:"
		}
		sep := "?"
		if strings.Contains(name, "?") {
			sep = "&"
		}
		return name + sep + "_foreign_keys=on&_busy_timeout=5000", nil
	}
	return "", fmt.Errorf("unsupported DB_DRIVER %q", o.Driver)
}
