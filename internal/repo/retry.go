package repo

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
)

// ErrUnavailable wraps transient store failures that outlasted the retry budget.
var ErrUnavailable = errors.New("store unavailable")

const (
	defaultRetryTimeout = 3 * time.Second
	sqliteBusy          = 5
	sqliteLocked        = 6
	mysqlLockWait       = 1205
	mysqlDeadlock       = 1213
)

func (r Repo) newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = r.RetryTimeout
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = defaultRetryTimeout
	}
	return bo
}

// WithRetry runs op, retrying transient store errors with exponential backoff.
// Any other error stops immediately and is returned unchanged. Transient errors
// left after the budget is spent are wrapped with ErrUnavailable.
func (r Repo) WithRetry(ctx context.Context, op func() error) error {
	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(r.newBackoff(), ctx))
	if err != nil && IsTransient(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// InTx runs fn inside a transaction, retrying the whole transaction on transient errors.
func (r Repo) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return r.WithRetry(ctx, func() error {
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// IsTransient reports whether err is a lock or connection failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlLockWait || myErr.Number == mysqlDeadlock
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		code := coder.Code() & 0xff
		if code == sqliteBusy || code == sqliteLocked {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"sqlite_busy", "database is locked", "broken pipe", "connection reset", "connection refused", "bad connection", "lost connection", "gone away", "i/o timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
