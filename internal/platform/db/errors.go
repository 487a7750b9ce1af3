package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
	pgFKViolation     = "23503"
)

// IsNoRows reports whether err is pgx's "no rows in result set".
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// UniqueViolation returns the violated constraint name when err is a unique
// constraint violation.
func UniqueViolation(err error) (string, bool) {
	return pgCode(err, pgUniqueViolation)
}

// CheckViolation returns the violated constraint name when err is a CHECK
// constraint violation.
func CheckViolation(err error) (string, bool) {
	return pgCode(err, pgCheckViolation)
}

// ForeignKeyViolation returns the violated constraint name for FK errors.
func ForeignKeyViolation(err error) (string, bool) {
	return pgCode(err, pgFKViolation)
}

func pgCode(err error, code string) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == code {
		return pgErr.ConstraintName, true
	}
	return "", false
}
