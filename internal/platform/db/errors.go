package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories translate into domain signals.
const (
	CodeUniqueViolation     = "23505"
	CodeExclusionViolation  = "23P01"
	CodeForeignKeyViolation = "23503"
)

// ConstraintViolation reports the constraint name when err is a Postgres
// error with the given SQLSTATE code.
func ConstraintViolation(err error, code string) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != code {
		return "", false
	}
	return pgErr.ConstraintName, true
}
