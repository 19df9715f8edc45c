package db

import (
	"errors"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation. When keys
// are given the violation must also name one of them: postgres is matched on the
// constraint name, other drivers on the message, where sqlite reports table.column and
// mysql the index name.
func IsUniqueViolation(err error, keys ...string) bool {
	if err == nil {
		return false
	}
	named := make([]string, 0, len(keys))
	for _, key := range keys {
		if key != "" {
			named = append(named, key)
		}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return len(named) == 0
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return false
		}
		return len(named) == 0 || slices.Contains(named, pgErr.ConstraintName)
	}
	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") &&
		!strings.Contains(msg, "UNIQUE constraint failed") &&
		!strings.Contains(msg, "Duplicate entry") {
		return false
	}
	if len(named) == 0 {
		return true
	}
	for _, key := range named {
		if strings.Contains(msg, key) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err is GORM's record-not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
