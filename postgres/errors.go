package postgres

import (
	"errors"
	"fmt"

	"github.com/velmie/atomfeed"
)

var (
	// ErrPoolRequired is returned when a nil pool is provided.
	ErrPoolRequired = errors.New("atomfeed postgres: pool is required")
	// ErrTableNameRequired is returned when a table name is empty.
	ErrTableNameRequired = errors.New("atomfeed postgres: table name is required")
	// ErrInvalidTableName is returned when a table name has disallowed characters.
	ErrInvalidTableName = errors.New("atomfeed postgres: invalid table name")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: postgres %s: %w", atomfeed.ErrStorage, op, err)
}
