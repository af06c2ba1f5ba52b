package messagebus

import (
	"database/sql"
	"errors"

	"github.com/ckoons/katra/internal/katraerr"
)

// ErrNoNewMessages is NO_NEW_MESSAGES from spec §4.8/§8: hear()/hear_all()
// on an empty queue return this rather than a zero-value success, so
// callers can distinguish "nothing to read" from a transport error.
var ErrNoNewMessages = errors.New("messagebus: no new messages")

func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return katraerr.Wrap(katraerr.KindNotFound, op, err)
	}
	return katraerr.Wrap(katraerr.KindSystemFile, op, err)
}
