package store

import (
	"errors"
	"strings"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")
)

// isUniqueViolation matches the sqlite constraint error without pulling
// in driver-specific error types; modernc's message always carries the
// "UNIQUE constraint failed" prefix from sqlite itself.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
