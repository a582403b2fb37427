package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	gomysql "github.com/go-sql-driver/mysql"

	"lamudi_ingest/internal/domain"
)

// MySQL server error numbers the adapter cares about.
const (
	errDupEntry         = 1062
	errNoReferencedRow  = 1452
	errLockDeadlock     = 1213
	errLockWaitTimeout  = 1205
	errServerShutdown   = 1053
	errConnKilled       = 1927
	errServerGone       = 2006
	errServerLost       = 2013
	errQueryInterrupted = 1317
)

// classify maps driver errors onto the domain sentinels. Anything that means
// the connection or transaction is no longer usable becomes ErrStructural.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var me *gomysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case errDupEntry:
			return fmt.Errorf("%w: %w", domain.ErrDuplicateKey, err)
		case errNoReferencedRow:
			return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
		case errLockDeadlock, errLockWaitTimeout, errServerShutdown, errConnKilled,
			errServerGone, errServerLost, errQueryInterrupted:
			return fmt.Errorf("%w: %w", domain.ErrStructural, err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, gomysql.ErrInvalidConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, sql.ErrTxDone) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", domain.ErrStructural, err)
	}
	return err
}
