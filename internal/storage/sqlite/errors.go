package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ckoons/katra/internal/katraerr"
)

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to a katraerr.KindNotFound so callers never have to
// special-case database/sql's sentinel directly.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return katraerr.Wrap(katraerr.KindNotFound, op, err)
	}
	return katraerr.Wrap(katraerr.KindSystemFile, op, err)
}

// wrapDBErrorf is wrapDBError with a formatted operation description.
func wrapDBErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return wrapDBError(fmt.Sprintf(format, args...), err)
}
