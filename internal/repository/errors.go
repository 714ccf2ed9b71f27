// Package repository defines error types that are reused across multiple
// repositories.  These sentinel values allow higher layers to distinguish
// between failure scenarios without inspecting driver errors.
package repository

import (
    "errors"

    "github.com/go-sql-driver/mysql"
    "github.com/lib/pq"
    "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write collides with existing state, such
// as a duplicate booking reference or a tier number already held by
// another ticket.
var ErrConflict = errors.New("conflict")

// isUniqueViolation recognises duplicate-key errors from each supported
// driver.
func isUniqueViolation(err error) bool {
    var myErr *mysql.MySQLError
    if errors.As(err, &myErr) {
        return myErr.Number == 1062
    }
    var liteErr sqlite3.Error
    if errors.As(err, &liteErr) {
        return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
            liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
    }
    var pqErr *pq.Error
    if errors.As(err, &pqErr) {
        return pqErr.Code == "23505"
    }
    return false
}
