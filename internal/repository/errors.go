// Package repository defines the data access layer for licenses and the
// error values it shares with higher layers.  Handlers and services use
// these sentinels to distinguish "no such row" and "duplicate key" from
// genuine storage failures.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a lookup or update matches no license row.
var ErrNotFound = errors.New("license not found")

// ErrDuplicate is returned when an insert violates the (login, server)
// unique index.  It usually means a concurrent submission won the race.
var ErrDuplicate = errors.New("license already exists")

// isUniqueViolation recognises duplicate-key errors from both supported
// drivers: MySQL error 1062 and Postgres SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
