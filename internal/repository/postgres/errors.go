package postgres

import (
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
)

// pq error code for unique_violation
const uniqueViolationCode = "23505"

// isUniqueViolation reports whether err is a postgres unique-constraint
// violation, optionally on the named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != uniqueViolationCode {
		return false
	}
	if constraint == "" {
		return true
	}
	return pqErr.Constraint == constraint
}
