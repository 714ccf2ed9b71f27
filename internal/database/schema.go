package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Berth, RAC and waiting-list numbers carry no unique index: promotions
// and renumbering move them row by row inside one transaction, and both
// MySQL and SQLite check uniqueness per row.  The service guarantees
// distinctness under the inventory lock instead.

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS passengers (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(50) NOT NULL,
		age INT NOT NULL,
		gender VARCHAR(10) NOT NULL,
		has_child BOOLEAN NOT NULL DEFAULT FALSE,
		contact_number VARCHAR(20) NOT NULL,
		email VARCHAR(255) NOT NULL,
		created_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		passenger_id BIGINT UNSIGNED NOT NULL,
		status VARCHAR(20) NOT NULL,
		berth_type VARCHAR(20) NULL,
		berth_number INT NULL,
		rac_number INT NULL,
		waiting_list_number INT NULL,
		booking_reference VARCHAR(40) NOT NULL,
		parent_ticket_id BIGINT UNSIGNED NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_tickets_reference (booking_reference),
		KEY idx_tickets_status (status),
		KEY idx_tickets_parent (parent_ticket_id),
		CONSTRAINT fk_tickets_passenger FOREIGN KEY (passenger_id) REFERENCES passengers(id),
		CONSTRAINT fk_tickets_parent FOREIGN KEY (parent_ticket_id) REFERENCES tickets(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS inventory_lock (
		id INT NOT NULL PRIMARY KEY,
		version BIGINT NOT NULL DEFAULT 0
	) ENGINE=InnoDB`,
	`INSERT IGNORE INTO inventory_lock (id, version) VALUES (1, 0)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS passengers (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(50) NOT NULL,
		age INT NOT NULL,
		gender VARCHAR(10) NOT NULL,
		has_child BOOLEAN NOT NULL DEFAULT FALSE,
		contact_number VARCHAR(20) NOT NULL,
		email VARCHAR(255) NOT NULL,
		created_at TIMESTAMP(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id BIGSERIAL PRIMARY KEY,
		passenger_id BIGINT NOT NULL REFERENCES passengers(id),
		status VARCHAR(20) NOT NULL,
		berth_type VARCHAR(20) NULL,
		berth_number INT NULL,
		rac_number INT NULL,
		waiting_list_number INT NULL,
		booking_reference VARCHAR(40) NOT NULL UNIQUE,
		parent_ticket_id BIGINT NULL REFERENCES tickets(id),
		created_at TIMESTAMP(6) NOT NULL,
		updated_at TIMESTAMP(6) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets (status)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_parent ON tickets (parent_ticket_id)`,
	`CREATE TABLE IF NOT EXISTS inventory_lock (
		id INT PRIMARY KEY,
		version BIGINT NOT NULL DEFAULT 0
	)`,
	`INSERT INTO inventory_lock (id, version) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS passengers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name VARCHAR(50) NOT NULL,
		age INTEGER NOT NULL,
		gender VARCHAR(10) NOT NULL,
		has_child BOOLEAN NOT NULL DEFAULT 0,
		contact_number VARCHAR(20) NOT NULL,
		email VARCHAR(255) NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		passenger_id INTEGER NOT NULL REFERENCES passengers(id),
		status VARCHAR(20) NOT NULL,
		berth_type VARCHAR(20) NULL,
		berth_number INTEGER NULL,
		rac_number INTEGER NULL,
		waiting_list_number INTEGER NULL,
		booking_reference VARCHAR(40) NOT NULL UNIQUE,
		parent_ticket_id INTEGER NULL REFERENCES tickets(id),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets (status)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_parent ON tickets (parent_ticket_id)`,
	`CREATE TABLE IF NOT EXISTS inventory_lock (
		id INTEGER PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0
	)`,
	`INSERT OR IGNORE INTO inventory_lock (id, version) VALUES (1, 0)`,
}

// Migrate creates the tables the service needs when they do not exist.
// It is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	var stmts []string
	switch db.DriverName() {
	case DriverMySQL:
		stmts = mysqlSchema
	case DriverPostgres:
		stmts = postgresSchema
	case DriverSQLite:
		stmts = sqliteSchema
	default:
		return fmt.Errorf("migrate: unsupported driver %q", db.DriverName())
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
